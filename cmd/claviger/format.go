/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/stratumsec/claviger/internal/policy"
	"github.com/stratumsec/claviger/internal/policy/document"
)

func newFormatCmd() *cobra.Command {
	var write bool
	cmd := &cobra.Command{
		Use:   "format <file>...",
		Short: "Re-emit policy documents in canonical form",
		Long: `Format parses each file and emits it again with canonical ordering,
canonical durations, and defaults omitted. Without --write the result goes
to stdout; a document with errors is left untouched.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFormat(cmd, args, write)
		},
	}
	cmd.Flags().BoolVarP(&write, "write", "w", false, "write the result back to the file instead of printing it")
	return cmd
}

func runFormat(cmd *cobra.Command, paths []string, write bool) error {
	if !write && len(paths) > 1 {
		return fmt.Errorf("formatting multiple files requires --write")
	}

	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		base := filepath.Base(path)
		env, diags := document.Parse(data, policy.Metadata{
			Source:      path,
			DefaultName: strings.TrimSuffix(base, filepath.Ext(base)),
		})
		if err := diags.Err(path); err != nil {
			return err
		}
		out, err := document.Emit(env)
		if err != nil {
			return err
		}
		if write {
			if err := os.WriteFile(path, out, 0o644); err != nil {
				return err
			}
			continue
		}
		if _, err := cmd.OutOrStdout().Write(out); err != nil {
			return err
		}
	}
	return nil
}
