/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

package main

import (
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/stratumsec/claviger/internal/apierror"
	"github.com/stratumsec/claviger/internal/approval"
	"github.com/stratumsec/claviger/internal/audit"
	"github.com/stratumsec/claviger/internal/catalog"
	"github.com/stratumsec/claviger/internal/constraint"
	"github.com/stratumsec/claviger/internal/directory"
	"github.com/stratumsec/claviger/internal/notify"
	"github.com/stratumsec/claviger/internal/principal"
	"github.com/stratumsec/claviger/internal/provision"
	"github.com/stratumsec/claviger/internal/repository"
	"github.com/stratumsec/claviger/internal/subject"
)

type simulateOptions struct {
	policyPath       string
	userEmail        string
	domain           string
	memberOf         []string
	group            string
	inputs           []string
	approver         string
	approverMemberOf []string
}

func newSimulateCmd() *cobra.Command {
	var opts simulateOptions
	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Dry-run a join, and optionally its approval, against a policy document",
		Long: `Simulate runs the full join flow for a user against policy documents
without touching a real directory: memberships come from --member-of, the
proposal token is signed with an ephemeral key, and provisioning is recorded
in memory. When the join needs peer approval, pass --approver to run the
approval leg in the same process. The run's audit trail is printed at the
end.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSimulate(cmd, opts)
		},
	}
	cmd.Flags().StringVarP(&opts.policyPath, "policy", "p", envOrDefault("CLAVIGER_POLICY", ""),
		"policy document file or directory (or CLAVIGER_POLICY)")
	cmd.Flags().StringVarP(&opts.userEmail, "user", "u", "", "email of the joining user")
	cmd.Flags().StringVarP(&opts.group, "group", "g", "",
		"group to join, as <environment>.<system>.<name>")
	cmd.Flags().StringVar(&opts.domain, "domain", envOrDefault("CLAVIGER_DOMAIN", "example.com"),
		"directory domain hosting JIT group addresses (or CLAVIGER_DOMAIN)")
	cmd.Flags().StringSliceVar(&opts.memberOf, "member-of", nil,
		"group email the user belongs to (repeatable)")
	cmd.Flags().StringArrayVar(&opts.inputs, "input", nil,
		"constraint input as name=value (repeatable)")
	cmd.Flags().StringVar(&opts.approver, "approver", "",
		"email of the approver to run the approval leg as")
	cmd.Flags().StringSliceVar(&opts.approverMemberOf, "approver-member-of", nil,
		"group email the approver belongs to (repeatable)")
	return cmd
}

func runSimulate(cmd *cobra.Command, opts simulateOptions) error {
	if opts.policyPath == "" {
		return fmt.Errorf("--policy is required (or set CLAVIGER_POLICY)")
	}
	if opts.userEmail == "" {
		return fmt.Errorf("--user is required")
	}
	groupID, ok := principal.ParseJitGroupID(opts.group)
	if !ok {
		return fmt.Errorf("--group must look like <environment>.<system>.<name>")
	}
	values, err := parseInputValues(opts.inputs)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	log := newLogger()
	out := cmd.OutOrStdout()

	trail := audit.NewLog(64)
	repo := repository.New(trail, log, repository.NewFileSource(opts.policyPath))
	if err := repo.Reload(ctx); err != nil {
		return err
	}

	dir := directory.NewStatic()
	for _, group := range opts.memberOf {
		dir.AddMembership(opts.userEmail, group, nil)
	}
	for _, group := range opts.approverMemberOf {
		dir.AddMembership(opts.approver, group, nil)
	}
	resolver := subject.NewResolver(dir, subject.ResolverConfig{Domain: opts.domain}, log)
	sub, err := resolver.Resolve(ctx, opts.userEmail)
	if err != nil {
		return err
	}

	// Each run signs with a throwaway key, so tokens never outlive the
	// simulation.
	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		return err
	}
	signer, err := approval.NewHMACSigner(secret)
	if err != nil {
		return err
	}
	recorder := &provision.Recorder{}
	broker := approval.NewBroker(catalog.New(repo), resolver, signer, recorder, approval.Config{
		Notifier: notify.NewLogNotifier(log, nil),
		Audit:    trail,
	}, log)

	join, err := broker.Join(sub, groupID)
	if err != nil {
		return err
	}
	if err := join.BindInputs(values); err != nil {
		printDeclaredInputs(out, join.Inputs())
		return err
	}
	result, err := join.Execute(ctx)
	if err != nil {
		printInputHint(out, err, join.Inputs())
		printAuditTrail(out, trail)
		return err
	}

	if result.State == approval.StateCommitted {
		fmt.Fprintf(out, "join committed: %s is a member of %s until %s\n",
			opts.userEmail, groupID, result.Membership.Expiry.Format(time.RFC3339))
		printAuditTrail(out, trail)
		return nil
	}

	p := result.Proposal
	fmt.Fprintf(out, "proposal %s awaiting approval until %s\n",
		p.ID, p.ExpiresAt.UTC().Format(time.RFC3339))
	for _, r := range p.Recipients {
		fmt.Fprintf(out, "  recipient %s\n", r)
	}
	if opts.approver == "" {
		fmt.Fprintln(out, "pass --approver to run the approval leg")
		printAuditTrail(out, trail)
		return nil
	}

	approverSub, err := resolver.Resolve(ctx, opts.approver)
	if err != nil {
		return err
	}
	approve, err := broker.Approve(approverSub, result.Token)
	if err != nil {
		printAuditTrail(out, trail)
		return err
	}
	// Approve-class constraints read the same --input values; names no
	// constraint declares are ignored.
	if err := approve.BindInputs(values); err != nil {
		printDeclaredInputs(out, approve.Inputs())
		return err
	}
	approved, err := approve.Execute(ctx)
	if err != nil {
		printInputHint(out, err, approve.Inputs())
		printAuditTrail(out, trail)
		return err
	}
	fmt.Fprintf(out, "approved by %s: %s is a member of %s until %s\n",
		opts.approver, opts.userEmail, groupID, approved.Membership.Expiry.Format(time.RFC3339))
	printAuditTrail(out, trail)
	return nil
}

func parseInputValues(pairs []string) (map[string]string, error) {
	values := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		name, value, ok := strings.Cut(pair, "=")
		if !ok || name == "" {
			return nil, fmt.Errorf("--input %q: want name=value", pair)
		}
		values[name] = value
	}
	return values, nil
}

// printInputHint lists the declared inputs when execution tripped on a
// constraint, so the caller knows what --input to pass.
func printInputHint(out io.Writer, err error, declared []constraint.Input) {
	var failed *apierror.ConstraintFailedError
	var unsatisfied *apierror.ConstraintUnsatisfiedError
	if errors.As(err, &failed) || errors.As(err, &unsatisfied) {
		printDeclaredInputs(out, declared)
	}
}

func printDeclaredInputs(out io.Writer, declared []constraint.Input) {
	if len(declared) == 0 {
		return
	}
	fmt.Fprintln(out, "declared inputs:")
	for _, in := range declared {
		required := ""
		if in.IsRequired() {
			required = " (required)"
		}
		fmt.Fprintf(out, "  --input %s=<%s>%s\n", in.Name(), in.Type(), required)
	}
}

func printAuditTrail(out io.Writer, trail *audit.Log) {
	events := trail.Query(audit.Filter{})
	if len(events) == 0 {
		return
	}
	fmt.Fprintln(out, "audit trail:")
	// Query returns newest first; replay it in the order it happened.
	for i := len(events) - 1; i >= 0; i-- {
		evt := events[i]
		fmt.Fprintf(out, "  %s %s %s: %s\n",
			evt.Timestamp.UTC().Format(time.RFC3339), evt.Type, evt.Actor, evt.Summary)
	}
}
