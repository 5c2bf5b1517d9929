/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

package iso8601

import (
	"testing"
	"time"
)

func TestParse(t *testing.T) {
	tests := []struct {
		input   string
		want    time.Duration
		wantErr bool
	}{
		{input: "PT1H", want: time.Hour},
		{input: "pt1h", want: time.Hour},
		{input: " PT2H ", want: 2 * time.Hour},
		{input: "PT30M", want: 30 * time.Minute},
		{input: "PT15S", want: 15 * time.Second},
		{input: "P1D", want: 24 * time.Hour},
		{input: "P2DT3H4M5S", want: 51*time.Hour + 4*time.Minute + 5*time.Second},
		{input: "PT0S", want: 0},
		{input: "PT90M", want: 90 * time.Minute},
		{input: "", wantErr: true},
		{input: "P", wantErr: true},
		{input: "PT", wantErr: true},
		{input: "1H", wantErr: true},
		{input: "PT1", wantErr: true},
		{input: "PTH", wantErr: true},
		{input: "P1H", wantErr: true},   // H requires the T section
		{input: "PT1D", wantErr: true},  // D must precede T
		{input: "P1M", wantErr: true},   // calendar month unsupported
		{input: "P1Y", wantErr: true},   // calendar year unsupported
		{input: "P1W", wantErr: true},   // weeks unsupported
		{input: "-PT1H", wantErr: true},
		{input: "PT1HT1M", wantErr: true},
	}
	for _, tc := range tests {
		t.Run(tc.input, func(t *testing.T) {
			got, err := Parse(tc.input)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("Parse(%q) = %v, want error", tc.input, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("Parse(%q): %v", tc.input, err)
			}
			if got != tc.want {
				t.Errorf("Parse(%q) = %v, want %v", tc.input, got, tc.want)
			}
		})
	}
}

func TestFormat(t *testing.T) {
	tests := []struct {
		input time.Duration
		want  string
	}{
		{input: time.Hour, want: "PT1H"},
		{input: 2 * time.Hour, want: "PT2H"},
		{input: 30 * time.Minute, want: "PT30M"},
		{input: 90 * time.Minute, want: "PT1H30M"},
		{input: 24 * time.Hour, want: "P1D"},
		{input: 51*time.Hour + 4*time.Minute + 5*time.Second, want: "P2DT3H4M5S"},
		{input: 0, want: "PT0S"},
		{input: 1500 * time.Millisecond, want: "PT1S"},
	}
	for _, tc := range tests {
		if got := Format(tc.input); got != tc.want {
			t.Errorf("Format(%v) = %q, want %q", tc.input, got, tc.want)
		}
	}
}

func TestRoundTrip(t *testing.T) {
	for _, d := range []time.Duration{
		time.Second, time.Minute, time.Hour, 8 * time.Hour,
		25 * time.Hour, 36*time.Hour + 15*time.Minute,
	} {
		parsed, err := Parse(Format(d))
		if err != nil {
			t.Fatalf("Parse(Format(%v)): %v", d, err)
		}
		if parsed != d {
			t.Errorf("round trip of %v produced %v", d, parsed)
		}
	}
}
