// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package cursor_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/holger24/AFD-sub000/pkg/cursor"
)

func TestReadWriteRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "SYSTEM_LOG.ls")

	want := cursor.Cursor{Inode: 8473625, LogNumber: 7}
	require.NoError(t, cursor.Write(path, want, 0o640))

	got, err := cursor.Read(path)
	require.NoError(t, err)
	assert.Equal(t, want, got)

	// Rewrites replace, not append.
	want = cursor.Cursor{Inode: 99, LogNumber: 8}
	require.NoError(t, cursor.Write(path, want, 0o640))
	got, err = cursor.Read(path)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestReadMissingIsZero(t *testing.T) {
	got, err := cursor.Read(filepath.Join(t.TempDir(), "absent.ls"))
	require.NoError(t, err)
	assert.Equal(t, cursor.Cursor{}, got)
}

func TestReadMalformed(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"empty", ""},
		{"one field", "12345\n"},
		{"three fields", "1 2 3\n"},
		{"not numbers", "abc def\n"},
		{"negative log number", "12345 -2\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "c.ls")
			require.NoError(t, os.WriteFile(path, []byte(tt.content), 0o640))

			got, err := cursor.Read(path)
			require.Error(t, err)
			var merr *cursor.MalformedError
			assert.ErrorAs(t, err, &merr)
			assert.Equal(t, cursor.Cursor{}, got)
		})
	}
}

func TestReadToleratesTrailingWhitespace(t *testing.T) {
	path := filepath.Join(t.TempDir(), "c.lt")
	require.NoError(t, os.WriteFile(path, []byte("  42 3  \n\n"), 0o640))

	got, err := cursor.Read(path)
	require.NoError(t, err)
	assert.Equal(t, cursor.Cursor{Inode: 42, LogNumber: 3}, got)
}
