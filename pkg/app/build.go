package app

import (
	"fmt"
	"strings"

	"github.com/spf13/cast"
)

// BuildRun is the only run of the compute-build application.
const BuildRun = "build"

// ValidBuilds lists the systems the build application can compile, in
// task order.
var ValidBuilds = []string{"gfs", "gefs", "sfs", "upp", "ufs_utils", "gfs_utils", "gdas", "gsi", "gsi_monitor", "gsi_utils"}

// BuildApp compiles workflow components on compute nodes.
type BuildApp struct {
	builds map[string]bool
}

// NewBuildApp selects builds from the BUILD_<name> toggles of base.
func NewBuildApp(base map[string]string) (*BuildApp, error) {
	if err := ValidateMode(base); err != nil {
		return nil, err
	}

	builds := make(map[string]bool, len(ValidBuilds))
	for _, name := range ValidBuilds {
		key := "BUILD_" + name
		v, ok := base[key]
		if !ok || v == "" {
			continue
		}
		on, err := parseToggle(v)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", key, err)
		}
		builds[name] = on
	}
	return &BuildApp{builds: builds}, nil
}

// Name implements Application
func (a *BuildApp) Name() string { return "build" }

// Enabled reports whether name is selected for building.
func (a *BuildApp) Enabled(name string) bool { return a.builds[name] }

// TaskNames returns the compile tasks of the selected builds.
func (a *BuildApp) TaskNames() map[string][]string {
	tasks := []string{}
	for _, name := range ValidBuilds {
		if a.builds[name] {
			tasks = append(tasks, "compile_"+name)
		}
	}
	return map[string][]string{BuildRun: tasks}
}

// UpdateBase returns a copy of base with RUN set to gfs.
func (a *BuildApp) UpdateBase(base map[string]string) map[string]string {
	out := make(map[string]string, len(base)+1)
	for k, v := range base {
		out[k] = v
	}
	out["RUN"] = "gfs"
	return out
}

// ConfigNames implements ConfigNamesProvider
func (a *BuildApp) ConfigNames() []string {
	return []string{"compile"}
}

// parseToggle accepts the YES/NO spelling used by shell configs as well as
// anything cast understands as a boolean.
func parseToggle(v string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "yes", "y", "on":
		return true, nil
	case "no", "n", "off":
		return false, nil
	}
	on, err := cast.ToBoolE(strings.ToLower(v))
	if err != nil {
		return false, fmt.Errorf("%q is not a boolean", v)
	}
	return on, nil
}
