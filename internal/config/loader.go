package config

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/spf13/afero"
	"github.com/vk/formulagrid/internal/ctxlog"
	"github.com/vk/formulagrid/internal/fsutil"
)

// Load reads the run file at path, or every .hcl file below path when it is a
// directory, and merges them into one File.
func Load(ctx context.Context, fs afero.Fs, path string) (*File, error) {
	logger := ctxlog.FromContext(ctx)
	logger.Debug("Run file loader started.", "path", path)

	files, err := findHCLFiles(fs, path)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no .hcl files found at %s", path)
	}
	logger.Debug("Discovered run files.", "count", len(files))

	parser := hclparse.NewParser()
	merged := &File{}
	for _, file := range files {
		src, err := afero.ReadFile(fs, file)
		if err != nil {
			return nil, fmt.Errorf("failed to read run file %s: %w", file, err)
		}

		hclFile, diags := parser.ParseHCL(src, file)
		if diags.HasErrors() {
			return nil, fmt.Errorf("failed to parse run file %s: %w", file, diags)
		}

		var decoded File
		diags = gohcl.DecodeBody(hclFile.Body, nil, &decoded)
		if diags.HasErrors() {
			return nil, fmt.Errorf("failed to decode run file %s: %w", file, diags)
		}
		merged.merge(&decoded)
	}

	logger.Debug("Run file loading complete.", "files", len(files))
	return merged, nil
}

func findHCLFiles(fs afero.Fs, path string) ([]string, error) {
	info, err := fs.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("error accessing path %s: %w", path, err)
	}
	if !info.IsDir() {
		if filepath.Ext(path) != ".hcl" {
			return nil, fmt.Errorf("run file %s must have the .hcl extension", path)
		}
		return []string{path}, nil
	}
	return fsutil.FindFilesByExtension(fs, path, ".hcl")
}
