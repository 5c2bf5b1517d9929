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
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/stratumsec/claviger/internal/catalog"
	"github.com/stratumsec/claviger/internal/directory"
	"github.com/stratumsec/claviger/internal/repository"
	"github.com/stratumsec/claviger/internal/subject"
)

func newInspectCmd() *cobra.Command {
	var (
		policyPath string
		userEmail  string
		domain     string
		memberOf   []string
	)
	cmd := &cobra.Command{
		Use:   "inspect",
		Short: "Simulate what a user may see, join, and approve",
		Long: `Inspect loads policy documents, resolves the user against an in-memory
directory seeded from --member-of, and walks every environment, system, and
group visible to that user. Groups are annotated with the permissions the
user holds on them.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInspect(cmd, policyPath, userEmail, domain, memberOf)
		},
	}
	cmd.Flags().StringVarP(&policyPath, "policy", "p", envOrDefault("CLAVIGER_POLICY", ""),
		"policy document file or directory (or CLAVIGER_POLICY)")
	cmd.Flags().StringVarP(&userEmail, "user", "u", "", "email of the user to inspect")
	cmd.Flags().StringVar(&domain, "domain", envOrDefault("CLAVIGER_DOMAIN", "example.com"),
		"directory domain hosting JIT group addresses (or CLAVIGER_DOMAIN)")
	cmd.Flags().StringSliceVar(&memberOf, "member-of", nil,
		"group email the user belongs to (repeatable)")
	return cmd
}

func runInspect(cmd *cobra.Command, policyPath, userEmail, domain string, memberOf []string) error {
	if policyPath == "" {
		return fmt.Errorf("--policy is required (or set CLAVIGER_POLICY)")
	}
	if userEmail == "" {
		return fmt.Errorf("--user is required")
	}

	ctx := cmd.Context()
	log := newLogger()

	repo := repository.New(nil, log, repository.NewFileSource(policyPath))
	if err := repo.Reload(ctx); err != nil {
		return err
	}

	dir := directory.NewStatic()
	for _, group := range memberOf {
		dir.AddMembership(userEmail, group, nil)
	}
	sub, err := subject.NewResolver(dir, subject.ResolverConfig{Domain: domain}, log).Resolve(ctx, userEmail)
	if err != nil {
		return err
	}

	cat := catalog.New(repo)
	out := cmd.OutOrStdout()

	envs := cat.Environments(sub)
	if len(envs) == 0 {
		fmt.Fprintf(out, "%s sees no environments\n", userEmail)
		return nil
	}
	for _, env := range envs {
		export := ""
		if env.CanExport {
			export = " [export]"
		}
		fmt.Fprintf(out, "environment %s%s\n", env.Name, export)
		for _, sysName := range env.Systems {
			sys, err := cat.System(sub, env.Name, sysName)
			if err != nil {
				continue
			}
			fmt.Fprintf(out, "  system %s\n", sys.Name)
			for _, grpName := range sys.Groups {
				view, err := cat.Group(sub, env.Name, sys.Name, grpName)
				if err != nil {
					continue
				}
				fmt.Fprintf(out, "    group %s%s\n", grpName, groupFlags(view))
				for _, rb := range view.Privileges {
					fmt.Fprintf(out, "      grants %s\n", rb)
				}
			}
		}
	}
	return nil
}

func groupFlags(view catalog.GroupView) string {
	var b strings.Builder
	if view.CanJoin {
		b.WriteString(" [join]")
	}
	if view.CanApprove {
		b.WriteString(" [approve]")
	}
	if view.Membership != nil {
		fmt.Fprintf(&b, " [member until %s]", view.Membership.NotAfter.UTC().Format(time.RFC3339))
	}
	return b.String()
}
