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
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/stratumsec/claviger/internal/iso8601"
)

// VarType tags the type of a declared variable or input.
type VarType int

const (
	TypeString VarType = iota
	TypeInt
	TypeBool
	// TypeDuration is used by the expiry input only; it is not a valid
	// expression variable type.
	TypeDuration
)

// String returns the document tag for the type.
func (t VarType) String() string {
	switch t {
	case TypeString:
		return "string"
	case TypeInt:
		return "int"
	case TypeBool:
		return "bool"
	case TypeDuration:
		return "duration"
	default:
		return fmt.Sprintf("type(%d)", int(t))
	}
}

// ParseVarType decodes a document type tag, case-insensitively. "integer"
// and "boolean" are accepted aliases.
func ParseVarType(s string) (VarType, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "string":
		return TypeString, true
	case "int", "integer":
		return TypeInt, true
	case "bool", "boolean":
		return TypeBool, true
	default:
		return 0, false
	}
}

// Format defaults for variable bounds. Bounds equal to the default are
// omitted on emission.
const (
	DefaultStringMinLen = 0
	DefaultStringMaxLen = 256
	DefaultIntMin       = 0
	DefaultIntMax       = math.MaxInt32
)

// Variable declares one typed expression input. Min and Max bound the string
// length for TypeString and the value for TypeInt; they are ignored for
// TypeBool.
type Variable struct {
	Type        VarType
	Name        string
	DisplayName string
	Min         int64
	Max         int64
}

// variableNamePattern keeps names addressable as CEL identifiers, so
// expressions can reference input.<name>.
var variableNamePattern = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]{0,63}$`)

// ValidateVariable checks a declaration for use in an expression constraint.
func ValidateVariable(v Variable) error {
	if !variableNamePattern.MatchString(v.Name) {
		return fmt.Errorf("invalid variable name %q", v.Name)
	}
	switch v.Type {
	case TypeString:
		if v.Min < 0 || v.Max < v.Min {
			return fmt.Errorf("variable %q: invalid length bounds [%d, %d]", v.Name, v.Min, v.Max)
		}
	case TypeInt:
		if v.Max < v.Min {
			return fmt.Errorf("variable %q: invalid value bounds [%d, %d]", v.Name, v.Min, v.Max)
		}
	case TypeBool:
		// no bounds
	default:
		return fmt.Errorf("variable %q: unsupported type %v", v.Name, v.Type)
	}
	return nil
}

// Input is one typed value a check consumes. Set parses and validates the
// raw textual form; Get returns the canonical textual form once set.
type Input interface {
	Name() string
	DisplayName() string
	Type() VarType
	IsRequired() bool
	Set(raw string) error
	Get() (string, bool)

	// value returns the typed form for expression evaluation.
	value() (any, bool)
}

type inputMeta struct {
	name        string
	displayName string
	required    bool
}

func (m inputMeta) Name() string        { return m.name }
func (m inputMeta) DisplayName() string { return m.displayName }
func (m inputMeta) IsRequired() bool    { return m.required }

type stringInput struct {
	inputMeta
	minLen, maxLen int64
	val            string
	set            bool
}

func newStringInput(v Variable) *stringInput {
	return &stringInput{
		inputMeta: inputMeta{name: v.Name, displayName: v.DisplayName, required: true},
		minLen:    v.Min,
		maxLen:    v.Max,
	}
}

func (i *stringInput) Type() VarType { return TypeString }

func (i *stringInput) Set(raw string) error {
	s := strings.TrimSpace(raw)
	if n := int64(len(s)); n < i.minLen || n > i.maxLen {
		return fmt.Errorf("value length %d outside [%d, %d]", n, i.minLen, i.maxLen)
	}
	i.val, i.set = s, true
	return nil
}

func (i *stringInput) Get() (string, bool) { return i.val, i.set }
func (i *stringInput) value() (any, bool)  { return i.val, i.set }

type intInput struct {
	inputMeta
	min, max int64
	val      int64
	set      bool
}

func newIntInput(v Variable) *intInput {
	return &intInput{
		inputMeta: inputMeta{name: v.Name, displayName: v.DisplayName, required: true},
		min:       v.Min,
		max:       v.Max,
	}
}

func (i *intInput) Type() VarType { return TypeInt }

func (i *intInput) Set(raw string) error {
	n, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		return fmt.Errorf("not an integer: %q", raw)
	}
	if n < i.min || n > i.max {
		return fmt.Errorf("value %d outside [%d, %d]", n, i.min, i.max)
	}
	i.val, i.set = n, true
	return nil
}

func (i *intInput) Get() (string, bool) {
	if !i.set {
		return "", false
	}
	return strconv.FormatInt(i.val, 10), true
}

func (i *intInput) value() (any, bool) { return i.val, i.set }

type boolInput struct {
	inputMeta
	val bool
	set bool
}

func newBoolInput(v Variable) *boolInput {
	return &boolInput{inputMeta: inputMeta{name: v.Name, displayName: v.DisplayName, required: true}}
}

func (i *boolInput) Type() VarType { return TypeBool }

func (i *boolInput) Set(raw string) error {
	b, err := strconv.ParseBool(strings.ToLower(strings.TrimSpace(raw)))
	if err != nil {
		return fmt.Errorf("not a boolean: %q", raw)
	}
	i.val, i.set = b, true
	return nil
}

func (i *boolInput) Get() (string, bool) {
	if !i.set {
		return "", false
	}
	return strconv.FormatBool(i.val), true
}

func (i *boolInput) value() (any, bool) { return i.val, i.set }

type durationInput struct {
	inputMeta
	min, max time.Duration
	val      time.Duration
	set      bool
}

func (i *durationInput) Type() VarType { return TypeDuration }

func (i *durationInput) Set(raw string) error {
	d, err := iso8601.Parse(raw)
	if err != nil {
		return err
	}
	if d < i.min || d > i.max {
		return fmt.Errorf("duration %s outside [%s, %s]",
			iso8601.Format(d), iso8601.Format(i.min), iso8601.Format(i.max))
	}
	i.val, i.set = d, true
	return nil
}

func (i *durationInput) Get() (string, bool) {
	if !i.set {
		return "", false
	}
	return iso8601.Format(i.val), true
}

func (i *durationInput) value() (any, bool) { return i.val, i.set }

func newInput(v Variable) Input {
	switch v.Type {
	case TypeInt:
		return newIntInput(v)
	case TypeBool:
		return newBoolInput(v)
	default:
		return newStringInput(v)
	}
}
