// Package expdir prepares an experiment directory: it copies config files
// in, fills their @KEY@ placeholders and appends per-run resource blocks.
package expdir

import (
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/afero"
	"github.com/spf13/cast"

	"github.com/gwflow/gwsetup/pkg/render"
)

// ErrNoConfigs is returned when a config directory holds no config.* files.
var ErrNoConfigs = errors.New("no config files found")

// TemplateDict turns a mapping into placeholder substitutions: each key K
// becomes @K@ unless it already contains an @.
func TemplateDict(in map[string]interface{}) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		if !strings.Contains(k, "@") {
			k = "@" + k + "@"
		}
		out[k] = cast.ToString(v)
	}
	return out
}

// FillExpDir copies every config.* file of configDir into expDir and
// returns the copied file names.
func FillExpDir(fs afero.Fs, configDir, expDir string) ([]string, error) {
	configs, err := afero.Glob(fs, filepath.Join(configDir, "config.*"))
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", configDir, err)
	}
	if len(configs) == 0 {
		return nil, fmt.Errorf("%w in %s", ErrNoConfigs, configDir)
	}

	if err := fs.MkdirAll(expDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", expDir, err)
	}

	sort.Strings(configs)
	copied := make([]string, 0, len(configs))
	for _, src := range configs {
		data, err := afero.ReadFile(fs, src)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", src, err)
		}
		name := filepath.Base(src)
		if err := afero.WriteFile(fs, filepath.Join(expDir, name), data, 0644); err != nil {
			return nil, fmt.Errorf("failed to copy %s: %w", name, err)
		}
		copied = append(copied, name)
	}
	return copied, nil
}

// EditConfig fills the placeholders of in and writes the result to out.
// Host values take precedence over dict. Keys are substituted in sorted
// order so the output does not depend on map iteration.
func EditConfig(fs afero.Fs, in, out string, hostInfo map[string]interface{}, dict map[string]string) error {
	merged := make(map[string]string, len(dict)+len(hostInfo))
	for k, v := range dict {
		merged[k] = v
	}
	for k, v := range TemplateDict(hostInfo) {
		merged[k] = v
	}

	data, err := afero.ReadFile(fs, in)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", in, err)
	}

	keys := make([]string, 0, len(merged))
	for k := range merged {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	text := string(data)
	for _, k := range keys {
		text = strings.ReplaceAll(text, k, merged[k])
	}

	if err := afero.WriteFile(fs, out, []byte(text), 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", out, err)
	}
	return nil
}

// InsertRunBlock inserts a run-guarded export block after the first line
// (the shebang) of the config file at path. A block already written for
// run is replaced.
func InsertRunBlock(fs afero.Fs, path, run string, exports []render.Export) error {
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}

	sorted := make([]render.Export, len(exports))
	copy(sorted, exports)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Key < sorted[j].Key })

	var block strings.Builder
	if err := render.Shell(&block, run, sorted); err != nil {
		return err
	}

	head, rest, found := strings.Cut(string(data), "\n")
	var out strings.Builder
	out.WriteString(head)
	out.WriteString("\n")
	out.WriteString(block.String())
	if found {
		out.WriteString(dropRunBlock(rest, run))
	}

	if err := afero.WriteFile(fs, path, []byte(out.String()), 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

// dropRunBlock removes every block guarded by run from text.
func dropRunBlock(text, run string) string {
	guard := render.RunGuard(run)
	lines := strings.SplitAfter(text, "\n")
	out := lines[:0]
	inBlock := false
	for _, line := range lines {
		trimmed := strings.TrimRight(line, "\r\n")
		switch {
		case inBlock:
			if trimmed == "fi" {
				inBlock = false
			}
		case trimmed == guard:
			inBlock = true
		default:
			out = append(out, line)
		}
	}
	return strings.Join(out, "")
}
