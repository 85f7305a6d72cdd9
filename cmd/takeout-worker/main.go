// Copyright ©️ Replit Takeout Contributors. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

// Command takeout-worker drives one repl's export end to end (the `run`
// subcommand) or stands up a metrics/scheduling shell around it (the
// `serve` subcommand, a stub — the queue-polling supervisor loop itself
// is out of scope per spec.md §1).
package main

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

func main() {
	root := newRootCmd()
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var verbose bool

	root := &cobra.Command{
		Use:   "takeout-worker",
		Short: "Exports Replit workspaces into downloadable git-history archives",
	}
	root.PersistentFlags().BoolVar(&verbose, "verbose", false, "enable debug logging")
	root.PersistentPreRun = func(cmd *cobra.Command, args []string) {
		if verbose {
			logrus.SetLevel(logrus.DebugLevel)
		}
	}

	root.AddCommand(newRunCmd())
	root.AddCommand(newServeCmd())
	return root
}
