package host

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"
)

// ErrUnknownHost is returned when no profile exists for a machine.
var ErrUnknownHost = errors.New("unknown host")

// Provider supplies host profiles by machine name.
type Provider interface {
	Lookup(machine string) (Profile, error)
}

// Lister is a Provider that can enumerate its machines.
type Lister interface {
	Provider
	List() ([]string, error)
}

// hostFile is the on-disk form of a profile
type hostFile struct {
	CoresPerNode int    `yaml:"cores_per_node"`
	MemPerNode   string `yaml:"mem_per_node"`
	Scheduler    string `yaml:"scheduler"`
	Account      string `yaml:"account"`
	Partition    string `yaml:"partition"`
	Queue        string `yaml:"queue"`
}

// machineName is what a host file may be called, without its extension.
var machineName = regexp.MustCompile(`^[a-z0-9_-]+$`)

// FileProvider reads profiles from <Dir>/<machine>.yaml.
type FileProvider struct {
	Fs  afero.Fs
	Dir string
}

// NewFileProvider creates a provider over the OS filesystem.
func NewFileProvider(dir string) *FileProvider {
	return &FileProvider{Fs: afero.NewOsFs(), Dir: dir}
}

// Lookup loads the profile for machine.
func (p *FileProvider) Lookup(machine string) (Profile, error) {
	name := strings.ToLower(strings.TrimSpace(machine))
	if name == "" {
		return Profile{}, fmt.Errorf("%w: empty machine name", ErrUnknownHost)
	}
	if !machineName.MatchString(name) {
		return Profile{}, fmt.Errorf("%w: %q is not a valid machine name", ErrUnknownHost, machine)
	}

	data, err := afero.ReadFile(p.Fs, filepath.Join(p.Dir, name+".yaml"))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Profile{}, fmt.Errorf("%w: %s", ErrUnknownHost, name)
		}
		return Profile{}, fmt.Errorf("failed to read host file for %s", name)
	}

	var hf hostFile
	if err := yaml.Unmarshal(data, &hf); err != nil {
		return Profile{}, fmt.Errorf("failed to parse host file for %s: %w", name, err)
	}

	profile, err := NewProfile(name, hf.CoresPerNode, hf.MemPerNode)
	if err != nil {
		return Profile{}, err
	}
	profile.Scheduler = strings.ToLower(hf.Scheduler)
	profile.Account = hf.Account
	profile.Partition = hf.Partition
	profile.Queue = hf.Queue

	return profile, nil
}

// List returns the machine names that have a profile, sorted.
func (p *FileProvider) List() ([]string, error) {
	entries, err := afero.ReadDir(p.Fs, p.Dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read host directory %s: %w", p.Dir, err)
	}

	var names []string
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".yaml" {
			continue
		}
		name := strings.TrimSuffix(entry.Name(), ".yaml")
		if !machineName.MatchString(name) {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// StaticProvider serves a fixed set of profiles.
type StaticProvider map[string]Profile

// Lookup returns the profile registered under machine.
func (s StaticProvider) Lookup(machine string) (Profile, error) {
	p, ok := s[strings.ToLower(machine)]
	if !ok {
		return Profile{}, fmt.Errorf("%w: %s", ErrUnknownHost, machine)
	}
	return p, nil
}

// List returns the registered machine names in sorted order.
func (s StaticProvider) List() ([]string, error) {
	names := make([]string, 0, len(s))
	for name := range s {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}
