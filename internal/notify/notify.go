/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

// Package notify delivers proposal and approval messages to people. The
// broker emits one Notice per event; notifiers render and deliver it.
// Rendering HTML-escapes every interpolated value and formats timestamps in
// a configured timezone, UTC unless set.
package notify

import (
	"context"
	"fmt"
	"html"
	"sort"
	"strings"
	"time"

	"github.com/go-logr/logr"

	"github.com/stratumsec/claviger/internal/principal"
)

// Kind classifies notices.
type Kind string

const (
	// KindProposal asks the recipients to approve a pending join.
	KindProposal Kind = "proposal"
	// KindApproved tells the requester their membership is active.
	KindApproved Kind = "approved"
)

// Notice is one message about a join lifecycle event.
type Notice struct {
	Kind       Kind
	Recipients []principal.ID
	// User is the requesting user the notice is about.
	User principal.ID
	// Approver is set on approved notices.
	Approver principal.ID
	Group    principal.JitGroupID
	// Expiry is the proposal deadline for proposals and the membership
	// end for approvals.
	Expiry time.Time
	// Token carries the proposal token on proposal notices.
	Token  string
	Inputs map[string]string
}

// Notifier delivers notices. Delivery failures must not abort the broker
// operation that emitted the notice; the broker logs and counts them.
type Notifier interface {
	Notify(ctx context.Context, n Notice) error
}

// Nop drops every notice.
type Nop struct{}

func (Nop) Notify(context.Context, Notice) error { return nil }

const timeFormat = "Jan 2, 2006 15:04 MST"

// Renderer formats notices for human consumption.
type Renderer struct {
	loc *time.Location
}

// NewRenderer builds a renderer formatting times in loc. A nil loc means
// UTC.
func NewRenderer(loc *time.Location) *Renderer {
	if loc == nil {
		loc = time.UTC
	}
	return &Renderer{loc: loc}
}

// Subject returns the plain-text subject line.
func (r *Renderer) Subject(n Notice) string {
	switch n.Kind {
	case KindApproved:
		return fmt.Sprintf("Access to %s approved", n.Group)
	default:
		return fmt.Sprintf("%s requests to join %s", n.User.Value(), n.Group)
	}
}

// Body returns the HTML body. Every interpolated value is escaped; inputs
// are listed in name order.
func (r *Renderer) Body(n Notice) string {
	var b strings.Builder
	expiry := n.Expiry.In(r.loc).Format(timeFormat)

	switch n.Kind {
	case KindApproved:
		fmt.Fprintf(&b, "<p><b>%s</b> approved the request of <b>%s</b> to join <b>%s</b>.</p>\n",
			html.EscapeString(n.Approver.Value()),
			html.EscapeString(n.User.Value()),
			html.EscapeString(n.Group.String()))
		fmt.Fprintf(&b, "<p>The membership expires %s.</p>\n", html.EscapeString(expiry))
	default:
		fmt.Fprintf(&b, "<p><b>%s</b> requests to join <b>%s</b>.</p>\n",
			html.EscapeString(n.User.Value()),
			html.EscapeString(n.Group.String()))
		if len(n.Inputs) > 0 {
			names := make([]string, 0, len(n.Inputs))
			for name := range n.Inputs {
				names = append(names, name)
			}
			sort.Strings(names)
			b.WriteString("<ul>\n")
			for _, name := range names {
				fmt.Fprintf(&b, "<li>%s: %s</li>\n",
					html.EscapeString(name), html.EscapeString(n.Inputs[name]))
			}
			b.WriteString("</ul>\n")
		}
		fmt.Fprintf(&b, "<p>The proposal expires %s.</p>\n", html.EscapeString(expiry))
		if n.Token != "" {
			fmt.Fprintf(&b, "<p>Approve with token <code>%s</code>.</p>\n", html.EscapeString(n.Token))
		}
	}
	return b.String()
}

// LogNotifier writes rendered notices to the logger. It stands in for mail
// or chat transports in development and in the CLI.
type LogNotifier struct {
	log      logr.Logger
	renderer *Renderer
}

// NewLogNotifier builds a notifier logging rendered notices.
func NewLogNotifier(log logr.Logger, loc *time.Location) *LogNotifier {
	return &LogNotifier{log: log, renderer: NewRenderer(loc)}
}

func (l *LogNotifier) Notify(ctx context.Context, n Notice) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	recipients := make([]string, len(n.Recipients))
	for i, r := range n.Recipients {
		recipients[i] = r.String()
	}
	l.log.Info("notification",
		"kind", string(n.Kind),
		"subject", l.renderer.Subject(n),
		"recipients", recipients,
		"group", n.Group.String(),
	)
	return nil
}
