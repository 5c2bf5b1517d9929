/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

package policy

import (
	"fmt"
	"strings"

	"github.com/stratumsec/claviger/internal/acl"
)

// Named permission bits of the policy domain.
const (
	// PermissionView lets a subject see the node in the catalog.
	PermissionView acl.Mask = 1 << iota
	// PermissionJoin lets a subject request membership of a group.
	PermissionJoin
	// PermissionApproveSelf commits a join without peer approval.
	PermissionApproveSelf
	// PermissionApproveOthers lets a subject approve peer proposals.
	PermissionApproveOthers
	// PermissionExport lets a subject export the environment document.
	PermissionExport
)

// permissionNames maps bits to wire names in bit order.
var permissionNames = []struct {
	bit  acl.Mask
	name string
}{
	{PermissionView, "VIEW"},
	{PermissionJoin, "JOIN"},
	{PermissionApproveSelf, "APPROVE_SELF"},
	{PermissionApproveOthers, "APPROVE_OTHERS"},
	{PermissionExport, "EXPORT"},
}

// ParsePermissions decodes a comma-separated list of wire names such as
// "JOIN, APPROVE_SELF". Names are case-insensitive and surrounding space is
// ignored. An empty list or an unknown name is an error.
func ParsePermissions(s string) (acl.Mask, error) {
	var mask acl.Mask
	found := false
	for _, part := range strings.Split(s, ",") {
		name := strings.ToUpper(strings.TrimSpace(part))
		if name == "" {
			continue
		}
		bit, ok := permissionBit(name)
		if !ok {
			return 0, fmt.Errorf("unknown permission %q", strings.TrimSpace(part))
		}
		mask |= bit
		found = true
	}
	if !found {
		return 0, fmt.Errorf("empty permission list")
	}
	return mask, nil
}

func permissionBit(name string) (acl.Mask, bool) {
	for _, p := range permissionNames {
		if p.name == name {
			return p.bit, true
		}
	}
	return 0, false
}

// FormatPermissions renders a mask as the canonical comma-separated list,
// in bit order. Unknown bits are dropped.
func FormatPermissions(mask acl.Mask) string {
	var names []string
	for _, p := range permissionNames {
		if mask&p.bit != 0 {
			names = append(names, p.name)
		}
	}
	return strings.Join(names, ", ")
}
