/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

// Package approval drives the join and approve operations of the access
// broker. A join either commits immediately, when the subject's ACL grants
// self-approval, or emits a proposal: a signed token addressed to the
// principals that may approve. Approving a proposal re-runs the requester's
// analysis with the inputs carried by the token, so a requester whose rights
// were revoked in the meantime is denied even with a valid token in hand.
//
// Proposals live only inside their tokens. The broker keeps no proposal
// state besides the replay set that makes each token single-use.
package approval

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/go-logr/logr"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/stratumsec/claviger/internal/acl"
	"github.com/stratumsec/claviger/internal/apierror"
	"github.com/stratumsec/claviger/internal/audit"
	"github.com/stratumsec/claviger/internal/catalog"
	"github.com/stratumsec/claviger/internal/constraint"
	"github.com/stratumsec/claviger/internal/metrics"
	"github.com/stratumsec/claviger/internal/notify"
	"github.com/stratumsec/claviger/internal/policy"
	"github.com/stratumsec/claviger/internal/principal"
	"github.com/stratumsec/claviger/internal/provision"
	"github.com/stratumsec/claviger/internal/subject"
	"github.com/stratumsec/claviger/internal/telemetry"
)

// DefaultProposalTTL bounds how long a proposal may wait for approval.
const DefaultProposalTTL = time.Hour

// DefaultMembershipExpiry is the membership duration applied when a group's
// policy declares no expiry constraint.
const DefaultMembershipExpiry = time.Hour

// State is the position of an operation in its lifecycle.
type State int

const (
	// StateCreated means the operation exists but has not run.
	StateCreated State = iota
	// StateBound means inputs have been bound; the operation may run.
	StateBound
	// StateProposed means the join emitted a proposal awaiting approval.
	StateProposed
	// StateCommitted means the membership was handed to the provisioner.
	StateCommitted
)

func (s State) String() string {
	switch s {
	case StateBound:
		return "bound"
	case StateProposed:
		return "proposed"
	case StateCommitted:
		return "committed"
	default:
		return "created"
	}
}

// SubjectSource re-expands a user into their current principal set. The
// broker consults it at approval time so decisions reflect the requester's
// rights now, not at proposal time.
type SubjectSource interface {
	Resolve(ctx context.Context, email string) (*subject.Subject, error)
}

// Config carries the broker's tunables. Zero values select the defaults.
type Config struct {
	// ProposalTTL is how long an emitted proposal token stays valid.
	ProposalTTL time.Duration
	// MembershipExpiry applies to groups without an expiry constraint.
	MembershipExpiry time.Duration
	// Notifier receives proposal and approval notices. Delivery failures
	// are logged and counted, never surfaced to the caller.
	Notifier notify.Notifier
	// Audit receives the decision trail.
	Audit audit.Recorder
}

// Broker creates join and approve operations bound to one policy catalog.
// It is safe for concurrent use; the operations it creates are not.
type Broker struct {
	catalog     *catalog.Catalog
	subjects    SubjectSource
	signer      Signer
	provisioner provision.Provisioner
	notifier    notify.Notifier
	audit       audit.Recorder
	replay      *ReplaySet
	proposalTTL time.Duration
	defaultTTL  time.Duration
	log         logr.Logger
	now         func() time.Time
}

// NewBroker wires the broker's ports together. catalog, subjects, signer and
// provisioner must be non-nil.
func NewBroker(cat *catalog.Catalog, subjects SubjectSource, signer Signer, prov provision.Provisioner, cfg Config, log logr.Logger) *Broker {
	proposalTTL := cfg.ProposalTTL
	if proposalTTL <= 0 {
		proposalTTL = DefaultProposalTTL
	}
	defaultTTL := cfg.MembershipExpiry
	if defaultTTL <= 0 {
		defaultTTL = DefaultMembershipExpiry
	}
	notifier := cfg.Notifier
	if notifier == nil {
		notifier = notify.Nop{}
	}
	recorder := cfg.Audit
	if recorder == nil {
		recorder = audit.Discard{}
	}
	return &Broker{
		catalog:     cat,
		subjects:    subjects,
		signer:      signer,
		provisioner: prov,
		notifier:    notifier,
		audit:       recorder,
		replay:      NewReplaySet(proposalTTL),
		proposalTTL: proposalTTL,
		defaultTTL:  defaultTTL,
		log:         log,
		now:         time.Now,
	}
}

// Join starts a join operation for the subject on a group. The group must be
// visible to the subject; hidden groups report not found. The returned
// operation still needs inputs bound before Execute.
func (b *Broker) Join(sub *subject.Subject, id principal.JitGroupID) (*JoinOperation, error) {
	view, err := b.catalog.GroupByID(sub, id)
	if err != nil {
		return nil, err
	}
	an, err := catalog.NewAnalysis(view.Policy(), sub, policy.PermissionJoin, policy.ClassJoin)
	if err != nil {
		return nil, apierror.InvalidArgument("group", "%v", err)
	}
	return &JoinOperation{
		broker:   b,
		subject:  sub,
		group:    view.Policy(),
		groupID:  id,
		analysis: an,
	}, nil
}

// Approve opens a proposal token on behalf of an approving subject. The
// token's signature, expiry, issuer and audience are verified here; the
// semantic checks run in Execute. Tampered, expired and foreign tokens are
// rejected without revealing which check failed.
func (b *Broker) Approve(sub *subject.Subject, token string) (*ApproveOperation, error) {
	p, err := b.signer.Verify(token)
	if err != nil {
		metrics.ApprovalsTotal.WithLabelValues(metrics.OutcomeInvalid).Inc()
		b.log.V(1).Info("proposal token rejected", "reason", err.Error())
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, apierror.AccessDenied("proposal has expired")
		}
		return nil, apierror.AccessDenied("proposal token rejected")
	}
	grp, err := b.catalog.ResolveGroup(p.Group)
	if err != nil {
		// The group was removed by a policy reload after the proposal
		// was emitted.
		return nil, err
	}
	an, err := catalog.NewAnalysis(grp, sub, policy.PermissionApproveOthers, policy.ClassApprove)
	if err != nil {
		return nil, apierror.InvalidArgument("token", "%v", err)
	}
	return &ApproveOperation{
		broker:   b,
		approver: sub,
		group:    grp,
		proposal: p,
		analysis: an,
	}, nil
}

// JoinOperation is one subject's attempt to join one group. Bind the
// declared inputs, then Execute. On failure the operation keeps its state
// and may be executed again.
type JoinOperation struct {
	broker   *Broker
	subject  *subject.Subject
	group    *policy.JitGroupPolicy
	groupID  principal.JitGroupID
	analysis *catalog.Analysis
	state    State
}

// GroupID returns the target group.
func (op *JoinOperation) GroupID() principal.JitGroupID { return op.groupID }

// Subject returns the requesting subject.
func (op *JoinOperation) Subject() *subject.Subject { return op.subject }

// State returns the operation's lifecycle position.
func (op *JoinOperation) State() State { return op.state }

// Inputs lists the typed inputs the group's join constraints declare, in
// document order.
func (op *JoinOperation) Inputs() []constraint.Input { return op.analysis.Inputs() }

// BindInputs sets the join inputs from their textual form. Values no
// constraint declares are ignored; a value a constraint rejects is an
// invalid argument.
func (op *JoinOperation) BindInputs(values map[string]string) error {
	if op.state >= StateProposed {
		return apierror.InvalidArgument("operation", "already %s", op.state)
	}
	if err := op.analysis.BindInputs(values); err != nil {
		return err
	}
	op.state = StateBound
	return nil
}

// JoinResult is the terminal outcome of a join execution.
type JoinResult struct {
	State State
	// Membership is set when the join committed.
	Membership *provision.Ref
	// Proposal and Token are set when the join requires peer approval.
	Proposal *Proposal
	Token    string
}

// Execute runs the analysis and either commits the membership or emits a
// proposal. The subject needs the Join permission; holding ApproveSelf too
// commits directly, otherwise the proposal is addressed to the principals
// holding ApproveOthers. With neither a peer nor self able to approve, the
// join is denied.
func (op *JoinOperation) Execute(ctx context.Context) (*JoinResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if op.state >= StateProposed {
		return nil, apierror.InvalidArgument("operation", "already %s", op.state)
	}
	b := op.broker
	now := b.now()
	start := time.Now()

	ctx, span := telemetry.StartJoinSpan(ctx, op.subject.Email(), op.groupID.String())
	result, err := op.execute(ctx, now)
	telemetry.EndSpan(span, err)

	switch {
	case err == nil && result.State == StateCommitted:
		metrics.RecordJoin(metrics.OutcomeCommitted, time.Since(start))
	case err == nil:
		metrics.RecordJoin(metrics.OutcomeProposed, time.Since(start))
	default:
		metrics.RecordJoin(outcomeOf(err), time.Since(start))
	}
	return result, err
}

func (op *JoinOperation) execute(ctx context.Context, now time.Time) (*JoinResult, error) {
	b := op.broker
	res := op.analysis.Execute(now)
	if err := res.VerifyAccessAllowed(catalog.Options{}); err != nil {
		b.audit.Record(audit.Event{
			Type:    audit.EventJoinDenied,
			Actor:   op.subject.Email(),
			Group:   op.groupID.String(),
			Summary: err.Error(),
		})
		return nil, err
	}

	expiry := res.ChosenExpiry
	if expiry <= 0 {
		expiry = b.defaultTTL
		b.log.V(1).Info("group declares no expiry constraint, using default",
			"group", op.groupID.String(), "expiry", expiry.String())
	}

	held := op.subject.ActiveSet(now)
	if policy.IsAllowedByACL(op.group, held, policy.PermissionApproveSelf) {
		return op.commit(ctx, now, expiry)
	}
	return op.propose(ctx, now)
}

// commit provisions a self-approved membership.
func (op *JoinOperation) commit(ctx context.Context, now time.Time, expiry time.Duration) (*JoinResult, error) {
	b := op.broker
	ref, err := b.provisionMembership(ctx, provision.Membership{
		User:          op.subject.User(),
		Group:         op.groupID,
		Expiry:        now.Add(expiry).UTC(),
		Justification: justification(op.analysis.BoundInputs(), "self-approved"),
	})
	if err != nil {
		// State holds; the caller may retry.
		return nil, err
	}
	op.state = StateCommitted

	b.audit.Record(audit.Event{
		Type:    audit.EventJoinCommitted,
		Actor:   op.subject.Email(),
		Group:   op.groupID.String(),
		Summary: fmt.Sprintf("self-approved until %s", ref.Expiry.Format(time.RFC3339)),
	})
	b.notify(ctx, notify.Notice{
		Kind:       notify.KindApproved,
		Recipients: []principal.ID{op.subject.User()},
		User:       op.subject.User(),
		Approver:   op.subject.User(),
		Group:      op.groupID,
		Expiry:     ref.Expiry,
	})
	b.log.Info("join committed",
		"user", op.subject.Email(), "group", op.groupID.String(), "expiry", ref.Expiry)
	return &JoinResult{State: StateCommitted, Membership: &ref}, nil
}

// propose signs and emits a proposal addressed to the group's approvers.
func (op *JoinOperation) propose(ctx context.Context, now time.Time) (*JoinResult, error) {
	b := op.broker
	recipients := op.recipients()
	if len(recipients) == 0 {
		err := apierror.AccessDenied("no principal may approve membership of %q", op.groupID)
		b.audit.Record(audit.Event{
			Type:    audit.EventJoinDenied,
			Actor:   op.subject.Email(),
			Group:   op.groupID.String(),
			Summary: err.Reason,
		})
		return nil, err
	}

	p := Proposal{
		ID:         uuid.NewString(),
		User:       op.subject.User(),
		Group:      op.groupID,
		Recipients: recipients,
		Inputs:     op.analysis.BoundInputs(),
		IssuedAt:   now,
		ExpiresAt:  now.Add(b.proposalTTL),
	}
	token, err := b.signer.Sign(p)
	if err != nil {
		return nil, apierror.UpstreamIO("sign proposal", err)
	}
	op.state = StateProposed

	b.audit.Record(audit.Event{
		Type:    audit.EventJoinProposed,
		Actor:   op.subject.Email(),
		Group:   op.groupID.String(),
		Summary: fmt.Sprintf("proposal %s awaiting approval until %s", p.ID, p.ExpiresAt.UTC().Format(time.RFC3339)),
	})
	b.notify(ctx, notify.Notice{
		Kind:       notify.KindProposal,
		Recipients: recipients,
		User:       op.subject.User(),
		Group:      op.groupID,
		Expiry:     p.ExpiresAt,
		Token:      token,
		Inputs:     p.Inputs,
	})
	b.log.Info("join proposed",
		"user", op.subject.Email(), "group", op.groupID.String(),
		"proposal", p.ID, "recipients", len(recipients))
	return &JoinResult{State: StateProposed, Proposal: &p, Token: token}, nil
}

// recipients are the principals granted ApproveOthers on the group, minus
// the requester: one's own join never lands in one's own inbox.
func (op *JoinOperation) recipients() []principal.ID {
	allowed := op.group.EffectiveACL().AllowedPrincipals(policy.PermissionApproveOthers)
	recipients := allowed[:0]
	for _, id := range allowed {
		if id == op.subject.User() {
			continue
		}
		recipients = append(recipients, id)
	}
	return recipients
}

// ApproveOperation is one approver's handling of one proposal token. Bind
// any inputs the approve constraints declare, then Execute.
type ApproveOperation struct {
	broker   *Broker
	approver *subject.Subject
	group    *policy.JitGroupPolicy
	proposal Proposal
	analysis *catalog.Analysis
	state    State
}

// Proposal returns the verified proposal carried by the token, so the
// approver can review user, group and inputs before deciding.
func (op *ApproveOperation) Proposal() Proposal { return op.proposal }

// State returns the operation's lifecycle position.
func (op *ApproveOperation) State() State { return op.state }

// Inputs lists the typed inputs the group's approve constraints declare.
func (op *ApproveOperation) Inputs() []constraint.Input { return op.analysis.Inputs() }

// BindInputs sets the approve inputs from their textual form.
func (op *ApproveOperation) BindInputs(values map[string]string) error {
	if op.state >= StateCommitted {
		return apierror.InvalidArgument("operation", "already %s", op.state)
	}
	if err := op.analysis.BindInputs(values); err != nil {
		return err
	}
	op.state = StateBound
	return nil
}

// ApproveResult is the outcome of a committed approval.
type ApproveResult struct {
	State      State
	Membership provision.Ref
}

// Execute validates the approver, re-runs the requester's analysis with the
// token's inputs, and commits the membership. The proposal id is claimed in
// the replay set immediately before provisioning; a second execution of the
// same token is denied without reaching the provisioner. A provisioning
// failure releases the id so the approval may be retried.
func (op *ApproveOperation) Execute(ctx context.Context) (*ApproveResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if op.state >= StateCommitted {
		return nil, apierror.InvalidArgument("operation", "already %s", op.state)
	}
	b := op.broker
	now := b.now()
	start := time.Now()

	ctx, span := telemetry.StartApproveSpan(ctx, op.approver.Email())
	result, err := op.execute(ctx, now)
	telemetry.EndSpan(span, err)

	if err == nil {
		metrics.RecordApproval(metrics.OutcomeCommitted, time.Since(start))
	} else {
		metrics.RecordApproval(outcomeOf(err), time.Since(start))
	}
	return result, err
}

func (op *ApproveOperation) execute(ctx context.Context, now time.Time) (*ApproveResult, error) {
	b := op.broker
	p := op.proposal

	// The signer already checked expiry; guard again for clock drift
	// between verification and execution.
	if !p.ExpiresAt.After(now) {
		return nil, apierror.AccessDenied("proposal has expired")
	}
	if op.approver.User() == p.User {
		return nil, op.deny("requesters cannot approve their own proposal")
	}
	held := op.approver.ActiveSet(now)
	if !op.isRecipient(held) {
		return nil, op.deny("not a recipient of this proposal")
	}

	// The approver's own gate: ApproveOthers on the effective ACL plus the
	// approve-class constraints.
	approverRes := op.analysis.Execute(now)
	if err := approverRes.VerifyAccessAllowed(catalog.Options{}); err != nil {
		op.auditDenied(err.Error())
		return nil, err
	}

	// Re-run the requester's join analysis as of now, with the inputs the
	// token carries. A requester whose access was revoked since proposing
	// is denied here.
	requester, err := b.subjects.Resolve(ctx, p.User.Value())
	if err != nil {
		return nil, err
	}
	an, err := catalog.NewAnalysis(op.group, requester, policy.PermissionJoin, policy.ClassJoin)
	if err != nil {
		return nil, apierror.InvalidArgument("token", "%v", err)
	}
	if err := an.BindInputs(p.Inputs); err != nil {
		return nil, err
	}
	res := an.Execute(now)
	if err := res.VerifyAccessAllowed(catalog.Options{}); err != nil {
		op.auditDenied(fmt.Sprintf("requester no longer eligible: %v", err))
		return nil, err
	}

	expiry := res.ChosenExpiry
	if expiry <= 0 {
		expiry = b.defaultTTL
	}

	// Claiming the id is the commit point. From here at most one
	// provisioning call happens for this proposal, ever.
	if !b.replay.Remember(p.ID) {
		return nil, op.deny("proposal already processed")
	}
	ref, err := b.provisionMembership(ctx, provision.Membership{
		User:          p.User,
		Group:         p.Group,
		Expiry:        now.Add(expiry).UTC(),
		Justification: justification(p.Inputs, "approved by "+op.approver.Email()),
	})
	if err != nil {
		b.replay.Forget(p.ID)
		return nil, err
	}
	op.state = StateCommitted

	b.audit.Record(audit.Event{
		Type:    audit.EventApprovalGranted,
		Actor:   op.approver.Email(),
		Group:   p.Group.String(),
		Summary: fmt.Sprintf("approved %s for %s until %s", p.ID, p.User.Value(), ref.Expiry.Format(time.RFC3339)),
	})
	b.notify(ctx, notify.Notice{
		Kind:       notify.KindApproved,
		Recipients: []principal.ID{p.User},
		User:       p.User,
		Approver:   op.approver.User(),
		Group:      p.Group,
		Expiry:     ref.Expiry,
	})
	b.log.Info("proposal approved",
		"approver", op.approver.Email(), "user", p.User.Value(),
		"group", p.Group.String(), "proposal", p.ID, "expiry", ref.Expiry)
	return &ApproveResult{State: StateCommitted, Membership: ref}, nil
}

// isRecipient reports whether the approver is addressed by the proposal,
// directly or through an active group membership.
func (op *ApproveOperation) isRecipient(held acl.HeldSet) bool {
	for _, r := range op.proposal.Recipients {
		if _, ok := held[r]; ok {
			return true
		}
	}
	return false
}

func (op *ApproveOperation) deny(reason string) error {
	op.auditDenied(reason)
	return apierror.AccessDenied("%s", reason)
}

func (op *ApproveOperation) auditDenied(reason string) {
	op.broker.audit.Record(audit.Event{
		Type:    audit.EventApprovalDenied,
		Actor:   op.approver.Email(),
		Group:   op.proposal.Group.String(),
		Summary: reason,
	})
}

// provisionMembership calls the provisioning port with tracing and metrics.
func (b *Broker) provisionMembership(ctx context.Context, m provision.Membership) (provision.Ref, error) {
	ctx, span := telemetry.StartProvisionSpan(ctx, m.Group.String())
	ref, err := b.provisioner.Provision(ctx, m)
	telemetry.EndSpan(span, err)
	metrics.RecordProvision(err)
	if err != nil {
		return provision.Ref{}, apierror.UpstreamIO("provision membership", err)
	}
	return ref, nil
}

// notify dispatches a notice without letting delivery failures reach the
// caller.
func (b *Broker) notify(ctx context.Context, n notify.Notice) {
	err := b.notifier.Notify(ctx, n)
	metrics.RecordNotification(err)
	if err != nil {
		b.log.Error(err, "notification delivery failed",
			"kind", string(n.Kind), "group", n.Group.String())
	}
}

// outcomeOf folds an execution error into a metric label: semantic denials
// count as denied, everything else as failed.
func outcomeOf(err error) string {
	var denied *apierror.AccessDeniedError
	var unsatisfied *apierror.ConstraintUnsatisfiedError
	if errors.As(err, &denied) || errors.As(err, &unsatisfied) {
		return metrics.OutcomeDenied
	}
	return metrics.OutcomeFailed
}

// justification renders the bound inputs plus a provenance note into the
// free-text field provisioners store alongside the membership.
func justification(inputs map[string]string, note string) string {
	if len(inputs) == 0 {
		return note
	}
	names := make([]string, 0, len(inputs))
	for name := range inputs {
		names = append(names, name)
	}
	sort.Strings(names)
	parts := make([]string, 0, len(names)+1)
	for _, name := range names {
		parts = append(parts, name+"="+inputs[name])
	}
	parts = append(parts, note)
	return strings.Join(parts, ", ")
}
