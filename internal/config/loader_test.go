package config

import (
	"context"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, fs afero.Fs, path, content string) {
	t.Helper()
	require.NoError(t, afero.WriteFile(fs, path, []byte(content), 0o644))
}

func TestLoad_SingleFile(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeFile(t, fs, "/run.hcl", `
base        = "base.csv"
overlay     = "overlay.csv"
formulas    = "model.formulas"
start_point = "p2"
output      = "out.csv"
graph       = "graph.dot"
targets     = ["x2", "x3"]
workers     = 4
allow_partial = false

log {
  level  = "debug"
  format = "text"
}

publish {
  url       = "http://localhost:3000"
  namespace = "/runs"
  connect_timeout = "5s"
}

metrics {
  textfile = "formulagrid.prom"
}
`)

	f, err := Load(context.Background(), fs, "/run.hcl")
	require.NoError(t, err)

	assert.Equal(t, "base.csv", f.Base)
	assert.Equal(t, "overlay.csv", f.Overlay)
	assert.Equal(t, "model.formulas", f.Formulas)
	assert.Equal(t, "p2", f.StartPoint)
	assert.Equal(t, "out.csv", f.Output)
	assert.Equal(t, "graph.dot", f.Graph)
	assert.Equal(t, []string{"x2", "x3"}, f.Targets)
	require.NotNil(t, f.Workers)
	assert.Equal(t, 4, *f.Workers)
	require.NotNil(t, f.AllowPartial)
	assert.False(t, *f.AllowPartial)
	assert.Equal(t, &Log{Level: "debug", Format: "text"}, f.Log)
	assert.Equal(t, &Publish{URL: "http://localhost:3000", Namespace: "/runs", ConnectTimeout: "5s"}, f.Publish)
	assert.Equal(t, &Metrics{Textfile: "formulagrid.prom"}, f.Metrics)
}

func TestLoad_UnsetFields(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeFile(t, fs, "/run.hcl", `base = "base.csv"`)

	f, err := Load(context.Background(), fs, "/run.hcl")
	require.NoError(t, err)
	assert.Equal(t, "base.csv", f.Base)
	assert.Nil(t, f.Workers)
	assert.Nil(t, f.AllowPartial)
	assert.Nil(t, f.Log)
	assert.Nil(t, f.Publish)
}

func TestLoad_DirectoryMerge(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeFile(t, fs, "/conf/10-base.hcl", `
base    = "base.csv"
workers = 2
log {
  level = "warn"
}
`)
	writeFile(t, fs, "/conf/20-local.hcl", `
workers = 8
log {
  format = "json"
}
`)
	writeFile(t, fs, "/conf/notes.txt", `not = "read"`)

	f, err := Load(context.Background(), fs, "/conf")
	require.NoError(t, err)
	assert.Equal(t, "base.csv", f.Base)
	assert.Equal(t, 8, *f.Workers)
	assert.Equal(t, &Log{Level: "warn", Format: "json"}, f.Log)
}

func TestLoad_Errors(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeFile(t, fs, "/syntax.hcl", `base = `)
	writeFile(t, fs, "/unknown.hcl", `colour = "red"`)
	writeFile(t, fs, "/type.hcl", `workers = "many"`)
	writeFile(t, fs, "/publish.hcl", "publish {\n  namespace = \"/x\"\n}\n")
	writeFile(t, fs, "/run.toml", `base = "x"`)
	require.NoError(t, fs.MkdirAll("/empty", 0o755))

	testCases := []struct {
		name    string
		path    string
		wantErr string
	}{
		{name: "syntax", path: "/syntax.hcl", wantErr: "failed to parse run file /syntax.hcl"},
		{name: "unknown attribute", path: "/unknown.hcl", wantErr: "Unsupported argument"},
		{name: "wrong type", path: "/type.hcl", wantErr: "failed to decode run file /type.hcl"},
		{name: "missing required", path: "/publish.hcl", wantErr: `"url" is required`},
		{name: "extension", path: "/run.toml", wantErr: "must have the .hcl extension"},
		{name: "missing", path: "/nope.hcl", wantErr: "error accessing path /nope.hcl"},
		{name: "empty directory", path: "/empty", wantErr: "no .hcl files found at /empty"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load(context.Background(), fs, tc.path)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.wantErr)
		})
	}
}
