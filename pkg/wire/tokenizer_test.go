// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package wire_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/holger24/AFD-sub000/pkg/wire"
)

func TestTokenizerFields(t *testing.T) {
	tok := wire.NewTokenizer([]byte("alias  42 1a2b -7"))

	f, err := tok.Field()
	require.NoError(t, err)
	assert.Equal(t, "alias", string(f))

	u, err := tok.Uint()
	require.NoError(t, err)
	assert.Equal(t, uint64(42), u)

	h, err := tok.Hex()
	require.NoError(t, err)
	assert.Equal(t, uint64(0x1a2b), h)

	i, err := tok.Int()
	require.NoError(t, err)
	assert.Equal(t, int64(-7), i)

	assert.False(t, tok.More())
	_, err = tok.Field()
	assert.Error(t, err)
}

func TestTokenizerMalformed(t *testing.T) {
	tests := []struct {
		name string
		body string
		call func(*wire.Tokenizer) error
	}{
		{
			name: "uint with letters",
			body: "12x4",
			call: func(tok *wire.Tokenizer) error { _, err := tok.Uint(); return err },
		},
		{
			name: "hex with out of range digit",
			body: "12g4",
			call: func(tok *wire.Tokenizer) error { _, err := tok.Hex(); return err },
		},
		{
			name: "int empty line",
			body: "",
			call: func(tok *wire.Tokenizer) error { _, err := tok.Int(); return err },
		},
		{
			name: "negative uint",
			body: "-3",
			call: func(tok *wire.Tokenizer) error { _, err := tok.Uint(); return err },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.call(wire.NewTokenizer([]byte(tt.body)))
			require.Error(t, err)
			var perr *wire.ParseError
			assert.ErrorAs(t, err, &perr)
		})
	}
}

func TestTokenizerRest(t *testing.T) {
	tok := wire.NewTokenizer([]byte("3  mail://user@host:25/dir with spaces"))
	u, err := tok.Uint()
	require.NoError(t, err)
	assert.Equal(t, uint64(3), u)
	assert.Equal(t, "mail://user@host:25/dir with spaces", string(tok.Rest()))
	assert.False(t, tok.More())
	assert.Empty(t, tok.Rest())
}

func TestTokenizerDoesNotMutateInput(t *testing.T) {
	body := []byte("a b c")
	orig := string(body)
	tok := wire.NewTokenizer(body)
	for tok.More() {
		_, err := tok.Field()
		require.NoError(t, err)
	}
	assert.Equal(t, orig, string(body))
}
