// SPDX-FileCopyrightText: Copyright The nc6 Authors
// SPDX-License-Identifier: Apache-2.0

// Package localexec runs the command that serves as the local end of a
// connection in place of stdin and stdout.
package localexec

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"al.essio.dev/pkg/shellescape"
	"github.com/mattn/go-shellwords"
	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

// Shell runs commands that need shell syntax.
var Shell = "/bin/sh"

// Process is a running command. In and Out are owned by the caller: In
// reads the command's stdout and Out writes to its stdin.
type Process struct {
	In, Out int

	cmd *exec.Cmd
	log logrus.FieldLogger
}

// Start runs command with its stdin and stdout connected to pipes.
// Its stderr is inherited.
func Start(ctx context.Context, command string, log logrus.FieldLogger) (*Process, error) {
	argv, err := Argv(command)
	if err != nil {
		return nil, err
	}

	// stdin: child reads [0], we write [1]; stdout: we read [0], child writes [1]
	var stdin, stdout [2]int
	if err := pipe(stdin[:]); err != nil {
		return nil, fmt.Errorf("pipe: %w", err)
	}
	if err := pipe(stdout[:]); err != nil {
		unix.Close(stdin[0])
		unix.Close(stdin[1])
		return nil, fmt.Errorf("pipe: %w", err)
	}
	childIn := os.NewFile(uintptr(stdin[0]), "stdin")
	childOut := os.NewFile(uintptr(stdout[1]), "stdout")
	defer childIn.Close()
	defer childOut.Close()

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Stdin = childIn
	cmd.Stdout = childOut
	cmd.Stderr = os.Stderr
	log.Debugf("executing %s", shellescape.QuoteCommand(argv))
	if err := cmd.Start(); err != nil {
		unix.Close(stdin[1])
		unix.Close(stdout[0])
		return nil, fmt.Errorf("failed to execute %q: %w", command, err)
	}
	return &Process{In: stdout[0], Out: stdin[1], cmd: cmd, log: log}, nil
}

// Argv returns the argument vector for command: its words when it is a
// plain command line, otherwise an invocation of Shell.
func Argv(command string) ([]string, error) {
	if strings.TrimSpace(command) == "" {
		return nil, errors.New("empty command")
	}
	if !strings.ContainsAny(command, "$`*?[]{}()~#\\\n") {
		p := shellwords.NewParser()
		args, err := p.Parse(command)
		if err == nil && p.Position < 0 && len(args) > 0 {
			return args, nil
		}
	}
	return []string{Shell, "-c", command}, nil
}

// Pid returns the process id of the command.
func (p *Process) Pid() int { return p.cmd.Process.Pid }

// Reap waits for the command to exit without blocking the caller and logs
// how it ended.
func (p *Process) Reap() {
	go func() {
		err := p.cmd.Wait()
		var exitErr *exec.ExitError
		switch {
		case err == nil:
			p.log.Debugf("command %d exited", p.Pid())
		case errors.As(err, &exitErr):
			p.log.Infof("command %d: %v", p.Pid(), exitErr)
		default:
			p.log.WithError(err).Warnf("waiting for command %d", p.Pid())
		}
	}()
}

// Wait waits for the command to exit.
func (p *Process) Wait() error {
	return p.cmd.Wait()
}
