// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestListRemoteFilesReturnsEmptyForMissingDirectory(t *testing.T) {
	entries, err := listRemoteFiles(filepath.Join(t.TempDir(), "nope"))
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestListRemoteFilesReportsRelativePathsAndSizes(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "stdout.1"), []byte("hello"), 0644))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "nested"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "nested", "stderr.1"), []byte("hi"), 0644))

	entries, err := listRemoteFiles(dir)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	byPath := make(map[string]int64)
	for _, e := range entries {
		byPath[e.RelPath] = e.Size
	}
	assert.Equal(t, int64(5), byPath["stdout.1"])
	assert.Equal(t, int64(2), byPath["nested/stderr.1"])
}
