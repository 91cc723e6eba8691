// SPDX-FileCopyrightText: Copyright The nc6 Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/mattn/go-isatty"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/nc6-project/nc6/pkg/connection"
	"github.com/nc6-project/nc6/pkg/version"
)

func main() {
	if err := newApp().Execute(); err != nil {
		logrus.Fatal(err)
	}
}

func processGlobalFlags(rootCmd *cobra.Command) error {
	logrus.SetLevel(logrus.WarnLevel)
	switch verbose, _ := rootCmd.Flags().GetCount("verbose"); {
	case verbose == 1:
		logrus.SetLevel(logrus.InfoLevel)
	case verbose > 1:
		logrus.SetLevel(logrus.DebugLevel)
	}
	// --log-level will override --debug and --verbose
	if debug, _ := rootCmd.Flags().GetBool("debug"); debug {
		logrus.SetLevel(logrus.DebugLevel)
	}

	l, _ := rootCmd.Flags().GetString("log-level")
	if l != "" {
		lvl, err := logrus.ParseLevel(l)
		if err != nil {
			return err
		}
		logrus.SetLevel(lvl)
	}

	logFormat, _ := rootCmd.Flags().GetString("log-format")
	switch logFormat {
	case "json":
		logrus.StandardLogger().SetFormatter(new(logrus.JSONFormatter))
	case "text":
		formatter := new(logrus.TextFormatter)
		// interactive sessions do not need timestamps
		formatter.DisableTimestamp = isatty.IsTerminal(os.Stderr.Fd())
		logrus.StandardLogger().SetFormatter(formatter)
	default:
		return fmt.Errorf("unsupported log-format: %q", logFormat)
	}
	return nil
}

func newApp() *cobra.Command {
	var opts options
	var rootCmd *cobra.Command
	rootCmd = &cobra.Command{
		Use:   "nc6 [flags] [hostname] [port]",
		Short: "nc6: relay data between a network connection and stdio",
		Long: `nc6 connects to, or listens for, a TCP, UDP, Bluetooth or IUCV peer and
copies data between that connection and its standard input and output, or
a command given with --exec.`,
		Version: strings.TrimPrefix(version.Version, "v"),
		Example: `  Connect to a web server:
  $ printf 'GET / HTTP/1.0\r\n\r\n' | nc6 example.com 80

  Receive a file on port 7676, and send it:
  $ nc6 -x -l -p 7676 > file
  $ nc6 -x receiver.example.com 7676 < file

  Serve every connection with its own shell command:
  $ nc6 -l -p 8080 --continuous -e 'date'`,
		Args:              cobra.MaximumNArgs(2),
		SilenceUsage:      true,
		SilenceErrors:     true,
		DisableAutoGenTag: true,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			return processGlobalFlags(rootCmd)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := opts.attributes(args)
			if err != nil {
				return err
			}
			if err := a.Finalize(); err != nil {
				return err
			}
			log := logrus.StandardLogger()
			log.Debugf("family %s, protocol %s, remote %s, local %s", a.Family, a.Protocol, a.Remote, a.Local)
			relay := connection.NewRelay(a, log)
			return connection.Run(cmd.Context(), a, relay.Handle, log)
		},
	}
	rootCmd.PersistentFlags().String("log-level", "", "Set the logging level [trace, debug, info, warn, error]")
	rootCmd.PersistentFlags().String("log-format", "text", "Set the logging format [text, json]")
	rootCmd.PersistentFlags().Bool("debug", false, "Debug mode")
	rootCmd.Flags().CountP("verbose", "v", "Increase verbosity, -vv for very verbose")
	opts.register(rootCmd.Flags())
	rootCmd.Flags().SortFlags = false
	return rootCmd
}
