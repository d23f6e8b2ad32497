// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package wire

import (
	"fmt"
	"strconv"
)

// ParseError describes a malformed field in a status line. The evaluator
// logs it once and discards the record; it never aborts the session.
type ParseError struct {
	Pos  int    // byte offset into the line body
	Want string // what was expected at Pos
	Got  string // the offending field, possibly truncated
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("offset %d: expected %s, got %q", e.Pos, e.Want, e.Got)
}

// Tokenizer walks the space-separated fields of a status line body. It
// never mutates the input. All numeric conversions return a *ParseError on
// malformed input.
type Tokenizer struct {
	data []byte
	pos  int
}

// NewTokenizer tokenizes the line body (the bytes after the tag and
// separator).
func NewTokenizer(body []byte) *Tokenizer {
	return &Tokenizer{data: body}
}

func (t *Tokenizer) skipSpace() {
	for t.pos < len(t.data) && t.data[t.pos] == ' ' {
		t.pos++
	}
}

// More reports whether another field is available.
func (t *Tokenizer) More() bool {
	t.skipSpace()
	return t.pos < len(t.data)
}

// Field returns the next space-separated field as a subslice of the input.
func (t *Tokenizer) Field() ([]byte, error) {
	t.skipSpace()
	if t.pos >= len(t.data) {
		return nil, &ParseError{Pos: t.pos, Want: "field", Got: ""}
	}
	start := t.pos
	for t.pos < len(t.data) && t.data[t.pos] != ' ' {
		t.pos++
	}
	return t.data[start:t.pos], nil
}

// Uint parses the next field as an unsigned decimal.
func (t *Tokenizer) Uint() (uint64, error) {
	start := t.pos
	f, err := t.Field()
	if err != nil {
		return 0, err
	}
	v, err := strconv.ParseUint(string(f), 10, 64)
	if err != nil {
		return 0, &ParseError{Pos: start, Want: "decimal integer", Got: clip(f)}
	}
	return v, nil
}

// Int parses the next field as a signed decimal.
func (t *Tokenizer) Int() (int64, error) {
	start := t.pos
	f, err := t.Field()
	if err != nil {
		return 0, err
	}
	v, err := strconv.ParseInt(string(f), 10, 64)
	if err != nil {
		return 0, &ParseError{Pos: start, Want: "integer", Got: clip(f)}
	}
	return v, nil
}

// Hex parses the next field as an unsigned hexadecimal value without a 0x
// prefix, the encoding used for directory and job identifiers.
func (t *Tokenizer) Hex() (uint64, error) {
	start := t.pos
	f, err := t.Field()
	if err != nil {
		return 0, err
	}
	v, err := strconv.ParseUint(string(f), 16, 64)
	if err != nil {
		return 0, &ParseError{Pos: start, Want: "hex integer", Got: clip(f)}
	}
	return v, nil
}

// Rest returns everything after the current position with leading spaces
// trimmed, consuming the tokenizer. Used for free-form trailing fields such
// as the recipient string.
func (t *Tokenizer) Rest() []byte {
	t.skipSpace()
	rest := t.data[t.pos:]
	t.pos = len(t.data)
	return rest
}

func clip(f []byte) string {
	const max = 32
	if len(f) > max {
		return string(f[:max]) + "..."
	}
	return string(f)
}
