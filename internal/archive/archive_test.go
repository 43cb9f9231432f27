// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package archive

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPackUnpackRoundTripsByteIdentical(t *testing.T) {
	src := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(src, "nested"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(src, "a.txt"), []byte("hello world"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(src, "nested", "b.txt"), []byte("nested contents\n"), 0644))

	encoded, err := Pack(src)
	require.NoError(t, err)
	require.NotEmpty(t, encoded)

	dest := t.TempDir()
	require.NoError(t, Unpack(encoded, dest))

	a, err := os.ReadFile(filepath.Join(dest, "a.txt"))
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(a))

	b, err := os.ReadFile(filepath.Join(dest, "nested", "b.txt"))
	require.NoError(t, err)
	assert.Equal(t, "nested contents\n", string(b))
}

func TestUnpackRejectsInvalidBase64(t *testing.T) {
	err := Unpack("not-valid-base64!!!", t.TempDir())
	assert.Error(t, err)
}
