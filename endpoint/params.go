package endpoint

import (
	"strconv"

	"github.com/google/uuid"
)

// ParamKind declares how a subject placeholder converts to a scalar. The
// kind is fixed at registration time so the dispatch path stays table-driven.
type ParamKind int

const (
	ParamString ParamKind = iota
	ParamInt
	ParamInt64
	ParamBool
	ParamFloat
	ParamUUID
)

// ParamSpec is one placeholder binding: its lowercase name and target kind.
type ParamSpec struct {
	Name string
	Kind ParamKind
}

// Params is the bag of placeholder values parsed from an inbound subject.
// Typed getters return the zero value when the segment does not parse as the
// requested scalar.
type Params struct {
	values map[string]string
}

// NewParams builds a Params bag from raw subject bindings.
func NewParams(values map[string]string) Params {
	return Params{values: values}
}

// Has reports whether a placeholder was bound.
func (p Params) Has(name string) bool {
	_, ok := p.values[name]
	return ok
}

// Len returns the number of bound placeholders.
func (p Params) Len() int { return len(p.values) }

// String returns the raw segment value, or "".
func (p Params) String(name string) string {
	return p.values[name]
}

// Int returns the value as int, or 0.
func (p Params) Int(name string) int {
	n, _ := strconv.Atoi(p.values[name])
	return n
}

// Int64 returns the value as int64, or 0.
func (p Params) Int64(name string) int64 {
	n, _ := strconv.ParseInt(p.values[name], 10, 64)
	return n
}

// Bool returns the value as bool, or false.
func (p Params) Bool(name string) bool {
	b, _ := strconv.ParseBool(p.values[name])
	return b
}

// Float returns the value as float64, or 0.
func (p Params) Float(name string) float64 {
	f, _ := strconv.ParseFloat(p.values[name], 64)
	return f
}

// UUID returns the value as a UUID, or uuid.Nil.
func (p Params) UUID(name string) uuid.UUID {
	id, err := uuid.Parse(p.values[name])
	if err != nil {
		return uuid.Nil
	}
	return id
}
