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
	"time"

	"github.com/stratumsec/claviger/internal/iso8601"
)

// DefaultExpiryName is assigned to expiry constraints declared without a
// name.
const DefaultExpiryName = "expiry"

// Expiry is the sentinel constraint that determines how long a provisioned
// membership lasts. With min == max the duration is fixed and the check
// takes no input; otherwise the requester must supply a duration within
// [min, max]. The predicate itself is trivially satisfied once the input is
// bound.
type Expiry struct {
	name        string
	displayName string
	min, max    time.Duration
}

// NewExpiry builds an expiry constraint. min must be positive and max must
// not be below min.
func NewExpiry(name, displayName string, min, max time.Duration) (*Expiry, error) {
	if name == "" {
		name = DefaultExpiryName
	}
	n, err := checkName(name)
	if err != nil {
		return nil, err
	}
	if min <= 0 {
		return nil, fmt.Errorf("expiry minimum %s must be positive", iso8601.Format(min))
	}
	if max < min {
		return nil, fmt.Errorf("expiry maximum %s below minimum %s",
			iso8601.Format(max), iso8601.Format(min))
	}
	return &Expiry{name: n, displayName: displayName, min: min, max: max}, nil
}

func (e *Expiry) Name() string        { return e.name }
func (e *Expiry) DisplayName() string { return e.displayName }

// IsFixed reports whether the duration is not user-chosen.
func (e *Expiry) IsFixed() bool { return e.min == e.max }

// MinDuration returns the lower bound.
func (e *Expiry) MinDuration() time.Duration { return e.min }

// MaxDuration returns the upper bound.
func (e *Expiry) MaxDuration() time.Duration { return e.max }

// NewCheck returns a check with a single required duration input, or no
// inputs when the expiry is fixed.
func (e *Expiry) NewCheck() Check {
	c := &expiryCheck{constraint: e}
	if !e.IsFixed() {
		c.input = &durationInput{
			inputMeta: inputMeta{name: e.name, displayName: e.displayName, required: true},
			min:       e.min,
			max:       e.max,
		}
	}
	return c
}

type expiryCheck struct {
	constraint *Expiry
	input      *durationInput // nil when fixed
}

func (c *expiryCheck) Constraint() Constraint { return c.constraint }

func (c *expiryCheck) Inputs() []Input {
	if c.input == nil {
		return nil
	}
	return []Input{c.input}
}

func (c *expiryCheck) Input(name string) (Input, bool) {
	if c.input != nil && c.input.Name() == name {
		return c.input, true
	}
	return nil, false
}

func (c *expiryCheck) Execute(Context) Result {
	if c.input != nil && !c.input.set {
		return failed(fmt.Errorf("required input %q missing", c.input.Name()))
	}
	return satisfied()
}

// chosen returns the effective duration: the bound input, or the fixed
// value.
func (c *expiryCheck) chosen() (time.Duration, bool) {
	if c.constraint.IsFixed() {
		return c.constraint.min, true
	}
	if c.input.set {
		return c.input.val, true
	}
	return 0, false
}

// ChosenExpiry extracts the membership duration from an expiry check. It
// returns false if the check belongs to another constraint kind or the
// duration has not been bound.
func ChosenExpiry(c Check) (time.Duration, bool) {
	ec, ok := c.(*expiryCheck)
	if !ok {
		return 0, false
	}
	return ec.chosen()
}

// IsExpiry reports whether the constraint is the expiry sentinel.
func IsExpiry(c Constraint) bool {
	_, ok := c.(*Expiry)
	return ok
}
