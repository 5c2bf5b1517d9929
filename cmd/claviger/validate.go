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

	"github.com/spf13/cobra"

	"github.com/stratumsec/claviger/internal/policy"
	"github.com/stratumsec/claviger/internal/policy/document"
	"github.com/stratumsec/claviger/internal/repository"
)

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <path>...",
		Short: "Check policy documents and print their diagnostics",
		Long: `Validate parses each path (a YAML file, or a directory of .yaml/.yml
files) and prints every diagnostic. The exit status is non-zero when any
document carries error-severity issues.`,
		Args: cobra.MinimumNArgs(1),
		RunE: runValidate,
	}
}

func runValidate(cmd *cobra.Command, paths []string) error {
	out := cmd.OutOrStdout()
	total, invalid := 0, 0

	for _, path := range paths {
		docs, err := repository.NewFileSource(path).Load(cmd.Context())
		if err != nil {
			return err
		}
		for _, doc := range docs {
			total++
			_, diags := document.Parse(doc.Data, policy.Metadata{
				Source:       doc.Origin,
				LastModified: doc.Modified,
				DefaultName:  doc.DefaultName,
			})
			issues := diags.Issues()
			if len(issues) == 0 {
				fmt.Fprintf(out, "%s: ok\n", doc.Origin)
				continue
			}
			if diags.HasErrors() {
				invalid++
			}
			fmt.Fprintf(out, "%s:\n", doc.Origin)
			for _, issue := range issues {
				fmt.Fprintf(out, "  %s [%s] %s: %s\n", issue.Severity, issue.Code, issue.Scope, issue.Message)
			}
		}
	}

	if total == 0 {
		return fmt.Errorf("no policy documents found")
	}
	if invalid > 0 {
		return fmt.Errorf("%d of %d documents invalid", invalid, total)
	}
	return nil
}
