package main

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"

	"github.com/giongaysau-stack/minizflash/internal/license"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProvisionFromStdin(t *testing.T) {
	out := filepath.Join(t.TempDir(), "keys.yaml")
	in := strings.NewReader("# batch 1\nMZ1A-K9X4-7P2M-5R8T\n\n mz1a-aaaa-bbbb-cccc \nMZ1A-K9X4-7P2M-5R8T\n")

	require.NoError(t, run([]string{"-out", out, "-in", "-", "-salt", "pepper"}, in, &bytes.Buffer{}))

	set, err := license.LoadKeySet(out)
	require.NoError(t, err)
	assert.Equal(t, 2, set.Len())
	assert.Equal(t, "pepper", set.Salt())

	v := license.NewValidator(set)
	_, err = v.Check("MZ1A-AAAA-BBBB-CCCC")
	assert.NoError(t, err)
}

func TestProvisionGenerateAndMerge(t *testing.T) {
	out := filepath.Join(t.TempDir(), "keys.yaml")

	var printed bytes.Buffer
	require.NoError(t, run([]string{"-out", out, "-generate", "3"}, nil, &printed))
	keys := strings.Fields(printed.String())
	require.Len(t, keys, 3)

	first, err := license.LoadKeySet(out)
	require.NoError(t, err)
	assert.NotEmpty(t, first.Salt())

	printed.Reset()
	require.NoError(t, run([]string{"-out", out, "-generate", "2", "-merge"}, nil, &printed))
	keys = append(keys, strings.Fields(printed.String())...)

	merged, err := license.LoadKeySet(out)
	require.NoError(t, err)
	assert.Equal(t, first.Salt(), merged.Salt())
	assert.Equal(t, 5, merged.Len())

	v := license.NewValidator(merged)
	for _, k := range keys {
		_, err := v.Check(k)
		assert.NoError(t, err, k)
	}
}

func TestProvisionRejects(t *testing.T) {
	out := filepath.Join(t.TempDir(), "keys.yaml")

	assert.Error(t, run([]string{"-out", out}, nil, &bytes.Buffer{}))
	assert.Error(t, run([]string{"-out", out, "-in", "-"}, strings.NewReader("not-a-key\n"), &bytes.Buffer{}))
}
