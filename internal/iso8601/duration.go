/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

// Package iso8601 parses and formats ISO 8601 durations (the "PnDTnHnMnS"
// notation used by policy documents). Only day and time components are
// supported; years and months are rejected because their length is not
// fixed.
package iso8601

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ErrInvalid is wrapped by all parse failures.
var ErrInvalid = errors.New("invalid ISO 8601 duration")

// Parse decodes a duration such as "PT1H", "P2DT30M", or "PT2H30M15S".
// Input is trimmed first. Negative durations and the year, month, and week
// designators are rejected.
func Parse(s string) (time.Duration, error) {
	input := strings.TrimSpace(s)
	rest := strings.ToUpper(input)
	if len(rest) < 2 || rest[0] != 'P' {
		return 0, fmt.Errorf("%w: %q", ErrInvalid, input)
	}
	rest = rest[1:]

	var total time.Duration
	inTime := false
	seen := false
	for len(rest) > 0 {
		if rest[0] == 'T' {
			if inTime {
				return 0, fmt.Errorf("%w: repeated T in %q", ErrInvalid, input)
			}
			inTime = true
			rest = rest[1:]
			continue
		}
		i := 0
		for i < len(rest) && (rest[i] >= '0' && rest[i] <= '9') {
			i++
		}
		if i == 0 || i == len(rest) {
			return 0, fmt.Errorf("%w: %q", ErrInvalid, input)
		}
		n, err := strconv.ParseInt(rest[:i], 10, 64)
		if err != nil {
			return 0, fmt.Errorf("%w: %q", ErrInvalid, input)
		}
		unit := rest[i]
		rest = rest[i+1:]

		var d time.Duration
		switch {
		case !inTime && unit == 'D':
			d = time.Duration(n) * 24 * time.Hour
		case inTime && unit == 'H':
			d = time.Duration(n) * time.Hour
		case inTime && unit == 'M':
			d = time.Duration(n) * time.Minute
		case inTime && unit == 'S':
			d = time.Duration(n) * time.Second
		case !inTime && (unit == 'Y' || unit == 'M' || unit == 'W'):
			return 0, fmt.Errorf("%w: calendar designator %q not supported", ErrInvalid, string(unit))
		default:
			return 0, fmt.Errorf("%w: unexpected designator %q in %q", ErrInvalid, string(unit), input)
		}
		total += d
		seen = true
	}
	if !seen {
		return 0, fmt.Errorf("%w: %q has no components", ErrInvalid, input)
	}
	return total, nil
}

// Format renders a non-negative duration in canonical form: days first, then
// hours, minutes, and seconds, omitting zero components. Zero formats as
// "PT0S". Sub-second precision is truncated.
func Format(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	d = d.Truncate(time.Second)
	if d == 0 {
		return "PT0S"
	}

	days := d / (24 * time.Hour)
	d -= days * 24 * time.Hour
	hours := d / time.Hour
	d -= hours * time.Hour
	minutes := d / time.Minute
	d -= minutes * time.Minute
	seconds := d / time.Second

	var b strings.Builder
	b.WriteByte('P')
	if days > 0 {
		fmt.Fprintf(&b, "%dD", days)
	}
	if hours > 0 || minutes > 0 || seconds > 0 {
		b.WriteByte('T')
		if hours > 0 {
			fmt.Fprintf(&b, "%dH", hours)
		}
		if minutes > 0 {
			fmt.Fprintf(&b, "%dM", minutes)
		}
		if seconds > 0 {
			fmt.Fprintf(&b, "%dS", seconds)
		}
	}
	return b.String()
}
