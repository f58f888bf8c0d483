package protocol

import (
	"encoding/json"
	"fmt"
)

// FilterOp is the tag selecting a Filter's operator on the wire.
type FilterOp string

const (
	OpEq        FilterOp = "$eq"
	OpNeq       FilterOp = "$neq"
	OpLt        FilterOp = "$lt"
	OpLte       FilterOp = "$lte"
	OpGt        FilterOp = "$gt"
	OpGte       FilterOp = "$gte"
	OpIn        FilterOp = "$in"
	OpNotIn     FilterOp = "$nin"
	OpExists    FilterOp = "$exists"
	OpNotExists FilterOp = "$nexists"
	OpAnd       FilterOp = "$and"
	OpOr        FilterOp = "$or"
)

// Filter is the sum-typed server-side filter expression AST of spec.md
// §3. Exactly one constructor should be used per node; the zero value is
// not a valid Filter.
type Filter struct {
	op      FilterOp
	field   string
	value   string
	values  []string
	filters []Filter
}

// Leaf comparison constructors. field must be non-empty.

func Eq(field, value string) Filter  { return Filter{op: OpEq, field: field, value: value} }
func Neq(field, value string) Filter { return Filter{op: OpNeq, field: field, value: value} }
func Lt(field, value string) Filter  { return Filter{op: OpLt, field: field, value: value} }
func Lte(field, value string) Filter { return Filter{op: OpLte, field: field, value: value} }
func Gt(field, value string) Filter  { return Filter{op: OpGt, field: field, value: value} }
func Gte(field, value string) Filter { return Filter{op: OpGte, field: field, value: value} }

// Set constructors. values must be non-empty.

func In(field string, values []string) Filter {
	return Filter{op: OpIn, field: field, values: values}
}
func NotIn(field string, values []string) Filter {
	return Filter{op: OpNotIn, field: field, values: values}
}

// Existence constructors.

func Exists(field string) Filter    { return Filter{op: OpExists, field: field} }
func NotExists(field string) Filter { return Filter{op: OpNotExists, field: field} }

// Connectives. filters must be non-empty.

func And(filters []Filter) Filter { return Filter{op: OpAnd, filters: filters} }
func Or(filters []Filter) Filter  { return Filter{op: OpOr, filters: filters} }

// Op reports the node's operator tag.
func (f Filter) Op() FilterOp { return f.op }

// Validate checks the structural invariants of spec.md §3: non-empty
// field on leaves, non-empty values on set leaves, non-empty sub-filter
// lists on connectives.
func (f Filter) Validate() error {
	switch f.op {
	case OpEq, OpNeq, OpLt, OpLte, OpGt, OpGte:
		if f.field == "" {
			return fmt.Errorf("protocol: filter %s: empty field", f.op)
		}
	case OpIn, OpNotIn:
		if f.field == "" {
			return fmt.Errorf("protocol: filter %s: empty field", f.op)
		}
		if len(f.values) == 0 {
			return fmt.Errorf("protocol: filter %s: empty values", f.op)
		}
	case OpExists, OpNotExists:
		if f.field == "" {
			return fmt.Errorf("protocol: filter %s: empty field", f.op)
		}
	case OpAnd, OpOr:
		if len(f.filters) == 0 {
			return fmt.Errorf("protocol: filter %s: empty sub-filters", f.op)
		}
		for _, sub := range f.filters {
			if err := sub.Validate(); err != nil {
				return err
			}
		}
	default:
		return fmt.Errorf("protocol: unknown filter op %q", f.op)
	}
	return nil
}

// wireFilter is the canonical tagged-object wire form, spec.md §6.
type wireFilter struct {
	Op      FilterOp     `json:"op"`
	Field   string       `json:"field,omitempty"`
	Value   string       `json:"value,omitempty"`
	Values  []string     `json:"values,omitempty"`
	Filters []wireFilter `json:"filters,omitempty"`
}

func (f Filter) toWire() wireFilter {
	w := wireFilter{Op: f.op, Field: f.field, Value: f.value, Values: f.values}
	if len(f.filters) > 0 {
		w.Filters = make([]wireFilter, len(f.filters))
		for i, sub := range f.filters {
			w.Filters[i] = sub.toWire()
		}
	}
	return w
}

func fromWire(w wireFilter) Filter {
	f := Filter{op: w.Op, field: w.Field, value: w.Value, values: w.Values}
	if len(w.Filters) > 0 {
		f.filters = make([]Filter, len(w.Filters))
		for i, sub := range w.Filters {
			f.filters[i] = fromWire(sub)
		}
	}
	return f
}

// MarshalJSON serializes a Filter to its canonical tagged-object wire
// form (spec.md §6): {"op": "$eq", "field": "...", "value"|"values"|"filters": ...}.
func (f Filter) MarshalJSON() ([]byte, error) {
	return json.Marshal(f.toWire())
}

// UnmarshalJSON parses the canonical tagged-object wire form back into a
// Filter, the inverse of MarshalJSON.
func (f *Filter) UnmarshalJSON(data []byte) error {
	var w wireFilter
	if err := json.Unmarshal(data, &w); err != nil {
		return fmt.Errorf("protocol: malformed filter: %w", err)
	}
	*f = fromWire(w)
	return nil
}

// SerializeTagsFilter renders f as the canonical wire string used in a
// subscribe payload's tags_filter field.
func SerializeTagsFilter(f Filter) (string, error) {
	b, err := json.Marshal(f)
	if err != nil {
		return "", fmt.Errorf("protocol: serialize tags_filter: %w", err)
	}
	return string(b), nil
}
