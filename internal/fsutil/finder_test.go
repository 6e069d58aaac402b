package fsutil

import (
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFindFilesByExtension(t *testing.T) {
	fs := afero.NewMemMapFs()
	for _, p := range []string{"/root/b.hcl", "/root/a.hcl", "/root/sub/c.hcl", "/root/d.csv"} {
		require.NoError(t, afero.WriteFile(fs, p, []byte("x"), 0o644))
	}

	files, err := FindFilesByExtension(fs, "/root", ".hcl")
	require.NoError(t, err)
	assert.Equal(t, []string{"/root/a.hcl", "/root/b.hcl", "/root/sub/c.hcl"}, files)
}

func TestFindFilesByExtension_EmptyExtension(t *testing.T) {
	assert.Panics(t, func() {
		_, _ = FindFilesByExtension(afero.NewMemMapFs(), "/", "")
	})
}

func TestFindFilesByExtension_MissingRoot(t *testing.T) {
	_, err := FindFilesByExtension(afero.NewMemMapFs(), "/missing", ".hcl")
	assert.Error(t, err)
}
