/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

package document

import (
	"bytes"
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/stratumsec/claviger/internal/acl"
	"github.com/stratumsec/claviger/internal/constraint"
	"github.com/stratumsec/claviger/internal/iso8601"
	"github.com/stratumsec/claviger/internal/policy"
)

// Emit renders a policy tree back to document form. Values that equal a
// format default are omitted: the substituted environment ACL, the default
// expiry constraint name, and variable bounds left at their type defaults.
// Parsing the output reproduces the tree.
func Emit(env *policy.EnvironmentPolicy) ([]byte, error) {
	if env == nil {
		return nil, fmt.Errorf("emit: nil environment")
	}

	doc := &environmentDoc{
		Name:        env.Name(),
		Description: env.Description(),
	}
	if list, ok := env.ACL(); ok && !isDefaultEnvironmentACL(list) {
		doc.Access = emitACL(list)
	}
	cs, err := emitConstraints(env)
	if err != nil {
		return nil, err
	}
	doc.Constraints = cs

	for _, sys := range env.Systems() {
		sd, err := emitSystem(sys)
		if err != nil {
			return nil, err
		}
		doc.Systems = append(doc.Systems, sd)
	}

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	err = enc.Encode(documentRoot{SchemaVersion: SchemaVersion, Environment: doc})
	if cerr := enc.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return nil, fmt.Errorf("emit: %w", err)
	}
	return buf.Bytes(), nil
}

func emitSystem(sys *policy.SystemPolicy) (systemDoc, error) {
	doc := systemDoc{
		Name:        sys.Name(),
		Description: sys.Description(),
	}
	if list, ok := sys.ACL(); ok {
		doc.Access = emitACL(list)
	}
	cs, err := emitConstraints(sys)
	if err != nil {
		return systemDoc{}, err
	}
	doc.Constraints = cs

	for _, grp := range sys.Groups() {
		gd, err := emitGroup(grp)
		if err != nil {
			return systemDoc{}, err
		}
		doc.Groups = append(doc.Groups, gd)
	}
	return doc, nil
}

func emitGroup(grp *policy.JitGroupPolicy) (groupDoc, error) {
	doc := groupDoc{
		Name:        grp.Name(),
		Description: grp.Description(),
	}
	if list, ok := grp.ACL(); ok {
		doc.Access = emitACL(list)
	}
	cs, err := emitConstraints(grp)
	if err != nil {
		return groupDoc{}, err
	}
	doc.Constraints = cs

	if privs := grp.Privileges(); len(privs) > 0 {
		pd := &privilegesDoc{}
		for _, rb := range privs {
			pd.IamRoleBindings = append(pd.IamRoleBindings, emitRoleBinding(rb))
		}
		doc.Privileges = pd
	}
	return doc, nil
}

func emitACL(list acl.ACL) []aclEntryDoc {
	out := make([]aclEntryDoc, 0, len(list))
	for _, e := range list {
		entry := aclEntryDoc{Principal: e.Principal.String()}
		perms := policy.FormatPermissions(e.Mask)
		if e.Effect == acl.Deny {
			entry.Deny = perms
		} else {
			entry.Allow = perms
		}
		out = append(out, entry)
	}
	return out
}

func isDefaultEnvironmentACL(list acl.ACL) bool {
	def := DefaultEnvironmentACL()
	if len(list) != len(def) {
		return false
	}
	for i := range def {
		if list[i] != def[i] {
			return false
		}
	}
	return true
}

func emitConstraints(p policy.Policy) (*constraintsDoc, error) {
	join, err := emitConstraintList(p.Constraints(policy.ClassJoin))
	if err != nil {
		return nil, err
	}
	approve, err := emitConstraintList(p.Constraints(policy.ClassApprove))
	if err != nil {
		return nil, err
	}
	if len(join) == 0 && len(approve) == 0 {
		return nil, nil
	}
	return &constraintsDoc{Join: join, Approve: approve}, nil
}

func emitConstraintList(list []constraint.Constraint) ([]constraintDoc, error) {
	var out []constraintDoc
	for _, c := range list {
		switch v := c.(type) {
		case *constraint.Expiry:
			doc := constraintDoc{
				Type:              "expiry",
				DisplayName:       v.DisplayName(),
				ExpiryMinDuration: iso8601.Format(v.MinDuration()),
				ExpiryMaxDuration: iso8601.Format(v.MaxDuration()),
			}
			if v.Name() != constraint.DefaultExpiryName {
				doc.Name = v.Name()
			}
			out = append(out, doc)
		case *constraint.Expression:
			doc := constraintDoc{
				Type:        "expression",
				Name:        v.Name(),
				DisplayName: v.DisplayName(),
				Expression:  v.Expr(),
			}
			for _, decl := range v.Variables() {
				doc.Variables = append(doc.Variables, emitVariable(decl))
			}
			out = append(out, doc)
		default:
			return nil, fmt.Errorf("emit: unsupported constraint %q (%T)", c.Name(), c)
		}
	}
	return out, nil
}

func emitVariable(v constraint.Variable) variableDoc {
	doc := variableDoc{
		Type:        v.Type.String(),
		Name:        v.Name,
		DisplayName: v.DisplayName,
	}
	var defMin, defMax int64
	switch v.Type {
	case constraint.TypeString:
		defMin, defMax = DefaultStringBounds()
	case constraint.TypeInt:
		defMin, defMax = DefaultIntBounds()
	case constraint.TypeBool:
		return doc
	default:
		panic(fmt.Sprintf("emit: variable %q has unsupported type %v", v.Name, v.Type))
	}
	if v.Min != defMin {
		min := v.Min
		doc.Min = &min
	}
	if v.Max != defMax {
		max := v.Max
		doc.Max = &max
	}
	return doc
}

func emitRoleBinding(rb policy.RoleBinding) roleBindingDoc {
	doc := roleBindingDoc{
		Role:        rb.Role.String(),
		Description: rb.Description,
		Condition:   rb.Condition,
	}
	if rb.Resource.Kind() == policy.ResourceProject {
		doc.Project = rb.Resource.ID()
	} else {
		doc.Resource = rb.Resource.String()
	}
	return doc
}
