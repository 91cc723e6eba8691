// SPDX-FileCopyrightText: Copyright The nc6 Authors
// SPDX-License-Identifier: Apache-2.0

package localexec

import (
	"bytes"
	"context"
	"testing"

	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
	"gotest.tools/v3/assert"
)

func TestArgv(t *testing.T) {
	tests := []struct {
		command string
		want    []string
	}{
		{command: "cat", want: []string{"cat"}},
		{command: "sort -r 'a b'", want: []string{"sort", "-r", "a b"}},
		{command: `grep -v "x y" `, want: []string{"grep", "-v", "x y"}},
		{command: "cat | wc -l", want: []string{"/bin/sh", "-c", "cat | wc -l"}},
		{command: "cat > out", want: []string{"/bin/sh", "-c", "cat > out"}},
		{command: "echo $HOME", want: []string{"/bin/sh", "-c", "echo $HOME"}},
		{command: "ls *.go", want: []string{"/bin/sh", "-c", "ls *.go"}},
		{command: "true && false", want: []string{"/bin/sh", "-c", "true && false"}},
	}
	for _, tc := range tests {
		t.Run(tc.command, func(t *testing.T) {
			got, err := Argv(tc.command)
			assert.NilError(t, err)
			assert.DeepEqual(t, got, tc.want)
		})
	}

	_, err := Argv("  ")
	assert.ErrorContains(t, err, "empty command")
}

func readAll(t *testing.T, fd int) string {
	t.Helper()
	var buf bytes.Buffer
	p := make([]byte, 512)
	for {
		n, err := unix.Read(fd, p)
		assert.NilError(t, err)
		if n == 0 {
			return buf.String()
		}
		buf.Write(p[:n])
	}
}

func TestStartPipesStdio(t *testing.T) {
	p, err := Start(context.Background(), "cat", logrus.StandardLogger())
	assert.NilError(t, err)
	defer unix.Close(p.In)

	_, err = unix.Write(p.Out, []byte("hello"))
	assert.NilError(t, err)
	assert.NilError(t, unix.Close(p.Out))

	assert.Equal(t, readAll(t, p.In), "hello")
	assert.NilError(t, p.Wait())
}

func TestStartThroughShell(t *testing.T) {
	p, err := Start(context.Background(), "echo one; echo two", logrus.StandardLogger())
	assert.NilError(t, err)
	defer unix.Close(p.In)
	assert.NilError(t, unix.Close(p.Out))

	assert.Equal(t, readAll(t, p.In), "one\ntwo\n")
	assert.NilError(t, p.Wait())
}

func TestStartReportsExitStatus(t *testing.T) {
	p, err := Start(context.Background(), "sh -c 'exit 3'", logrus.StandardLogger())
	assert.NilError(t, err)
	unix.Close(p.In)
	unix.Close(p.Out)
	assert.ErrorContains(t, p.Wait(), "exit status 3")
}
