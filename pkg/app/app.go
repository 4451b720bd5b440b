// Package app describes workflow applications: which tasks they run, which
// config files they need and how they adjust the base configuration.
package app

import (
	"bufio"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/spf13/afero"
	"github.com/subosito/gotenv"

	"github.com/gwflow/gwsetup/pkg/host"
	"github.com/gwflow/gwsetup/pkg/resources"
)

var (
	// ErrInvalidMode is returned for a MODE outside ValidModes.
	ErrInvalidMode = errors.New("invalid application mode")

	// ErrInvalidInterval is returned for an unsupported cycle count.
	ErrInvalidInterval = errors.New("invalid forecast cycle count")
)

// ValidModes are the supported values of MODE in config.base.
var ValidModes = []string{"cycled", "forecast-only"}

// TaskNameProvider enumerates the tasks of an application per run.
type TaskNameProvider interface {
	TaskNames() map[string][]string
}

// BaseConfigUpdater derives the effective base configuration.
type BaseConfigUpdater interface {
	UpdateBase(base map[string]string) map[string]string
}

// ConfigNamesProvider lists the config files an application sources.
type ConfigNamesProvider interface {
	ConfigNames() []string
}

// Application is a complete workflow application.
type Application interface {
	TaskNameProvider
	BaseConfigUpdater
	ConfigNamesProvider
	Name() string
}

var assignment = regexp.MustCompile(`^(export\s+)?[A-Za-z_][A-Za-z0-9_]*=`)

// LoadBase reads the plain assignments of a shell config file. Lines that
// are not assignments (conditionals, function calls, comments) are skipped.
func LoadBase(fs afero.Fs, path string) (map[string]string, error) {
	f, err := fs.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	var assignments strings.Builder
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if assignment.MatchString(line) {
			assignments.WriteString(line)
			assignments.WriteByte('\n')
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	env, err := gotenv.StrictParse(strings.NewReader(assignments.String()))
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return env, nil
}

// ValidateMode checks MODE when the base config sets it.
func ValidateMode(base map[string]string) error {
	mode, ok := base["MODE"]
	if !ok {
		return nil
	}
	for _, m := range ValidModes {
		if mode == m {
			return nil
		}
	}
	return fmt.Errorf("%w: %q, valid modes are %s", ErrInvalidMode, mode, strings.Join(ValidModes, ", "))
}

// GFSInterval converts the number of forecast cycles per day into the
// interval between them.
func GFSInterval(cycles int) (time.Duration, error) {
	switch cycles {
	case 1:
		return 24 * time.Hour, nil
	case 2:
		return 12 * time.Hour, nil
	case 4:
		return 6 * time.Hour, nil
	default:
		return 0, fmt.Errorf("%w: %d, must be 1, 2 or 4", ErrInvalidInterval, cycles)
	}
}

// Resolve computes the resources of every task a enumerates on h.
func Resolve(a Application, catalog *resources.Catalog, h host.Profile, opts ...resources.FitOption) (map[string]resources.Resolution, error) {
	return catalog.ResolveAll(a.TaskNames(), h, opts...)
}
