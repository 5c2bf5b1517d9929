/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

// claviger is the policy tooling command: it validates JIT access policy
// documents, re-emits them in canonical form, and simulates what a given
// user may see, join, and approve.
package main

import (
	"fmt"
	"os"

	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

var verbose bool

func main() {
	root := &cobra.Command{
		Use:   "claviger",
		Short: "Work with just-in-time group access policy documents",
		Long: `claviger works with just-in-time group access policy documents:
it validates them, re-emits them in canonical form, and simulates what a
given user may see, join, and approve — including the full join and
approval flow, end to end, in memory.`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	root.AddCommand(newValidateCmd())
	root.AddCommand(newFormatCmd())
	root.AddCommand(newInspectCmd())
	root.AddCommand(newSimulateCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// newLogger builds the CLI logger. Without --verbose nothing is logged, so
// command output stays parseable.
func newLogger() logr.Logger {
	if !verbose {
		return logr.Discard()
	}
	zl, err := zap.NewDevelopment()
	if err != nil {
		return logr.Discard()
	}
	return zapr.NewLogger(zl)
}

// envOrDefault reads an environment variable, returning a default if empty.
func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
