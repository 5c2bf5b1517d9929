/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

package constraint

import (
	"fmt"
	"strings"
	"sync"

	"github.com/google/cel-go/cel"
)

// celEnv is shared by all expression constraints; the declared context is
// identical for every policy.
var celEnv = sync.OnceValues(func() (*cel.Env, error) {
	return cel.NewEnv(
		cel.Variable("subject", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("group", cel.MapType(cel.StringType, cel.StringType)),
		cel.Variable("input", cel.MapType(cel.StringType, cel.DynType)),
	)
})

// Expression is a CEL predicate over the subject, the target group, and the
// declared inputs. The expression is compiled and type-checked at
// construction; evaluation failures at runtime classify the check as Failed,
// never as Unsatisfied.
type Expression struct {
	name        string
	displayName string
	expr        string
	variables   []Variable
	program     cel.Program
}

// NewExpression compiles expr against the published context. The expression
// must be boolean-valued. Every variable declaration is validated with
// ValidateVariable.
func NewExpression(name, displayName, expr string, variables []Variable) (*Expression, error) {
	n, err := checkName(name)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]struct{}, len(variables))
	for _, v := range variables {
		if err := ValidateVariable(v); err != nil {
			return nil, err
		}
		if _, dup := seen[v.Name]; dup {
			return nil, fmt.Errorf("duplicate variable %q", v.Name)
		}
		seen[v.Name] = struct{}{}
	}

	expr = strings.TrimSpace(expr)
	if expr == "" {
		return nil, fmt.Errorf("constraint %q: empty expression", n)
	}
	env, err := celEnv()
	if err != nil {
		return nil, fmt.Errorf("constraint environment: %w", err)
	}
	ast, issues := env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("compile %q: %w", n, issues.Err())
	}
	if !ast.OutputType().IsEquivalentType(cel.BoolType) {
		return nil, fmt.Errorf("constraint %q: expression must evaluate to bool, got %s", n, ast.OutputType())
	}
	prg, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("program %q: %w", n, err)
	}

	vars := make([]Variable, len(variables))
	copy(vars, variables)
	return &Expression{
		name:        n,
		displayName: displayName,
		expr:        expr,
		variables:   vars,
		program:     prg,
	}, nil
}

func (e *Expression) Name() string        { return e.name }
func (e *Expression) DisplayName() string { return e.displayName }

// Expr returns the source text, for emission.
func (e *Expression) Expr() string { return e.expr }

// Variables returns the declarations in document order.
func (e *Expression) Variables() []Variable {
	out := make([]Variable, len(e.variables))
	copy(out, e.variables)
	return out
}

// NewCheck returns a check with one required input per declared variable,
// in declaration order.
func (e *Expression) NewCheck() Check {
	inputs := make([]Input, len(e.variables))
	for i, v := range e.variables {
		inputs[i] = newInput(v)
	}
	return &expressionCheck{constraint: e, inputs: inputs}
}

type expressionCheck struct {
	constraint *Expression
	inputs     []Input
}

func (c *expressionCheck) Constraint() Constraint { return c.constraint }

func (c *expressionCheck) Inputs() []Input {
	out := make([]Input, len(c.inputs))
	copy(out, c.inputs)
	return out
}

func (c *expressionCheck) Input(name string) (Input, bool) {
	for _, in := range c.inputs {
		if in.Name() == name {
			return in, true
		}
	}
	return nil, false
}

func (c *expressionCheck) Execute(ctx Context) Result {
	inputVals := make(map[string]any, len(c.inputs))
	for _, in := range c.inputs {
		v, ok := in.value()
		if !ok {
			if in.IsRequired() {
				return failed(fmt.Errorf("constraint %q: required input %q missing",
					c.constraint.name, in.Name()))
			}
			continue
		}
		inputVals[in.Name()] = v
	}

	principals := ctx.SubjectPrincipals
	if principals == nil {
		principals = []string{}
	}
	activation := map[string]any{
		"subject": map[string]any{
			"email":      ctx.SubjectEmail,
			"principals": principals,
		},
		"group": map[string]string{
			"environment": ctx.Group.Environment,
			"system":      ctx.Group.System,
			"name":        ctx.Group.Name,
		},
		"input": inputVals,
	}

	out, _, err := c.constraint.program.Eval(activation)
	if err != nil {
		return failed(fmt.Errorf("constraint %q: %w", c.constraint.name, err))
	}
	b, ok := out.Value().(bool)
	if !ok {
		return failed(fmt.Errorf("constraint %q: expression produced %T, want bool",
			c.constraint.name, out.Value()))
	}
	if !b {
		return unsatisfied(c.constraint.displayName)
	}
	return satisfied()
}
