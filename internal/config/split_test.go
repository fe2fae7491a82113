package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadSplitAlwaysRegistersMainAtZero(t *testing.T) {
	roots, err := LoadSplit("")
	require.NoError(t, err)
	require.Equal(t, MainFunction, roots[0])
	require.Len(t, roots, 1)
}

func TestLoadSplitParsesHexPCs(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "split.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"functions":{"transfer":"0x1a2","approve":"0x200"}}`), 0o644))

	roots, err := LoadSplit(path)
	require.NoError(t, err)
	require.Equal(t, MainFunction, roots[0])
	require.Equal(t, "transfer", roots[0x1a2])
	require.Equal(t, "approve", roots[0x200])
}

func TestLoadSplitRejectsMissingFile(t *testing.T) {
	_, err := LoadSplit(filepath.Join(t.TempDir(), "missing.json"))
	require.Error(t, err)
}

func TestLoadSplitRejectsMalformedJSON(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "split.json")
	require.NoError(t, os.WriteFile(path, []byte(`not json`), 0o644))
	_, err := LoadSplit(path)
	require.Error(t, err)
}
