package types

import (
	"errors"
	"strings"
)

// Filter condition kinds.
const (
	FilterContains = "contains"
	FilterEquals   = "equals"
	FilterRange    = "range"
	FilterBoolean  = "boolean"
	FilterOneOf    = "oneof"
)

// validFilterKinds is the set of recognized condition kinds.
var validFilterKinds = map[string]bool{
	FilterContains: true,
	FilterEquals:   true,
	FilterRange:    true,
	FilterBoolean:  true,
	FilterOneOf:    true,
}

// Filter validation errors.
var (
	ErrFilterKindUnknown = errors.New("unknown filter kind")
	ErrFilterRangeEmpty  = errors.New("range filter needs a min or a max")
)

// FilterCondition is one column predicate. Kind selects which of the value
// fields applies: Text for contains and equals, Min/Max for range, Bool
// for boolean, Values for oneof.
type FilterCondition struct {
	Kind   string   `toml:"kind"`
	Text   string   `toml:"text,omitempty"`
	Min    *float64 `toml:"min,omitempty"`
	Max    *float64 `toml:"max,omitempty"`
	Bool   *bool    `toml:"bool,omitempty"`
	Values []string `toml:"values,omitempty"`
}

// Validate checks that the condition is well-formed.
func (c FilterCondition) Validate() error {
	if !validFilterKinds[c.Kind] {
		return ErrFilterKindUnknown
	}
	if c.Kind == FilterRange && c.Min == nil && c.Max == nil {
		return ErrFilterRangeEmpty
	}
	return nil
}

// Matches reports whether a cell value satisfies the condition.
//
// contains matches a case-insensitive substring of the cell's string form.
// equals matches the string form exactly, or numerically when both sides
// have numeric forms. range is inclusive and matches only numeric cells.
// boolean matches bool cells only. oneof matches membership by string form.
func (c FilterCondition) Matches(v any) bool {
	switch c.Kind {
	case FilterContains:
		return strings.Contains(strings.ToLower(CellString(v)), strings.ToLower(c.Text))
	case FilterEquals:
		if CellString(v) == c.Text {
			return true
		}
		cellNum, cellOK := CellNumber(v)
		wantNum, wantOK := CellNumber(c.Text)
		return cellOK && wantOK && cellNum == wantNum
	case FilterRange:
		n, ok := CellNumber(v)
		if !ok {
			return false
		}
		if c.Min != nil && n < *c.Min {
			return false
		}
		if c.Max != nil && n > *c.Max {
			return false
		}
		return true
	case FilterBoolean:
		b, ok := v.(bool)
		return ok && c.Bool != nil && b == *c.Bool
	case FilterOneOf:
		s := CellString(v)
		for _, want := range c.Values {
			if s == want {
				return true
			}
		}
		return false
	default:
		return false
	}
}
