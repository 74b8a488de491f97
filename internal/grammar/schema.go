// Package grammar describes the fixed structured-output schema used when a
// request asks for JSON, and the two ways engines consume it: a GBNF
// grammar for llama.cpp and an incremental byte matcher for Go engines.
package grammar

import (
	"errors"
	"fmt"

	"github.com/goccy/go-json"
)

type Kind int

const (
	KindObject Kind = iota
	KindArray
	KindString
	KindNumber
)

// Field is one required object member. Members are emitted in order.
type Field struct {
	Name   string
	Schema *Schema
}

// Schema is a closed JSON shape: compact encoding, fields in declaration
// order, strings of printable ASCII without quotes or backslashes, integers
// without leading zeros.
type Schema struct {
	Kind Kind

	Fields []Field // KindObject

	Items    *Schema // KindArray
	MaxItems int

	MaxLength int // KindString
	MaxDigits int // KindNumber
}

const (
	DefaultMaxLength = 64
	DefaultMaxDigits = 9
	DefaultMaxItems  = 4
)

func String() *Schema { return &Schema{Kind: KindString, MaxLength: DefaultMaxLength} }
func Number() *Schema { return &Schema{Kind: KindNumber, MaxDigits: DefaultMaxDigits} }

func Object(fields ...Field) *Schema {
	return &Schema{Kind: KindObject, Fields: fields}
}

func Array(items *Schema, maxItems int) *Schema {
	return &Schema{Kind: KindArray, Items: items, MaxItems: maxItems}
}

// Proofreading is the schema for correction results:
//
//	{"corrected_text":string,"corrections":[{"original":string,"suggested":string,
//	 "type":string,"explanation":string,"start":number,"end":number}]}
func Proofreading() *Schema {
	correction := Object(
		Field{Name: "original", Schema: String()},
		Field{Name: "suggested", Schema: String()},
		Field{Name: "type", Schema: String()},
		Field{Name: "explanation", Schema: String()},
		Field{Name: "start", Schema: Number()},
		Field{Name: "end", Schema: Number()},
	)
	return Object(
		Field{Name: "corrected_text", Schema: String()},
		Field{Name: "corrections", Schema: Array(correction, DefaultMaxItems)},
	)
}

var ErrSchemaMismatch = errors.New("grammar: output does not match schema")

// Validate reports whether text is a complete instance of s.
func (s *Schema) Validate(text string) error {
	m := NewMatcher(s)
	if !m.Accept([]byte(text)) {
		return fmt.Errorf("%w: unexpected byte in %q", ErrSchemaMismatch, text)
	}
	if !m.Complete() {
		return fmt.Errorf("%w: incomplete document %q", ErrSchemaMismatch, text)
	}
	if !json.Valid([]byte(text)) {
		return fmt.Errorf("%w: invalid json %q", ErrSchemaMismatch, text)
	}
	return nil
}
