// Package kernelspec implements the registry of installable kernel types:
// the set of kernel specifications the gateway is willing to launch, and
// their resource files.
package kernelspec

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"

	"github.com/pkg/errors"
)

// LanguageInfo describes the language a kernel speaks, echoed back verbatim
// in kernelspec listings.
type LanguageInfo struct {
	Name          string `json:"name"`
	Version       string `json:"version,omitempty"`
	Mimetype      string `json:"mimetype,omitempty"`
	FileExtension string `json:"file_extension,omitempty"`
}

// Spec is a single installable kernel type, immutable once discovered.
type Spec struct {
	Name          string            `json:"name"`
	DisplayName   string            `json:"display_name"`
	Language      string            `json:"language"`
	Argv          []string          `json:"argv"`
	Env           map[string]string `json:"env,omitempty"`
	ResourceFiles []string          `json:"resource_files,omitempty"`
}

// Registry enumerates installable kernel specs by name.
type Registry struct {
	specs    map[string]Spec
	default_ string
}

// NewRegistry builds a registry from a fixed set of specs. The first spec
// becomes the default unless overridden by SetDefault.
func NewRegistry(specs ...Spec) *Registry {
	r := &Registry{specs: make(map[string]Spec, len(specs))}
	for _, s := range specs {
		r.specs[s.Name] = s
		if r.default_ == "" {
			r.default_ = s.Name
		}
	}
	return r
}

// SetDefault overrides which spec name is reported as the default. Returns
// an error if the name is not registered.
func (r *Registry) SetDefault(name string) error {
	if _, ok := r.specs[name]; !ok {
		return errors.Errorf("kernelspec: unknown spec %q", name)
	}
	r.default_ = name
	return nil
}

// Default returns the default spec name.
func (r *Registry) Default() string {
	return r.default_
}

// Get looks up a spec by name.
func (r *Registry) Get(name string) (Spec, bool) {
	s, ok := r.specs[name]
	return s, ok
}

// Names returns all registered spec names, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.specs))
	for n := range r.specs {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// ListingEntry is the shape of a single entry in the GET /api/kernelspecs
// response.
type ListingEntry struct {
	Name      string            `json:"name"`
	Spec      Spec              `json:"spec"`
	Resources map[string]string `json:"resources"`
}

// Listing is the full GET /api/kernelspecs response body.
type Listing struct {
	Default     string                  `json:"default"`
	Kernelspecs map[string]ListingEntry `json:"kernelspecs"`
}

// Listing builds the REST payload for GET /api/kernelspecs.
func (r *Registry) Listing() Listing {
	out := Listing{Default: r.default_, Kernelspecs: make(map[string]ListingEntry, len(r.specs))}
	for name, spec := range r.specs {
		out.Kernelspecs[name] = ListingEntry{
			Name:      name,
			Spec:      spec,
			Resources: map[string]string{},
		}
	}
	return out
}

// LoadDir discovers kernel specs the way Jupyter does: one directory per
// kernel under dir, each containing a kernel.json. Unreadable or malformed
// entries are skipped with an error collected, not a hard failure -- a
// single bad kernel.json must not take down discovery of the others.
func LoadDir(dir string) (*Registry, []error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return NewRegistry(), []error{errors.Wrapf(err, "reading kernelspec dir %q", dir)}
	}
	var errs []error
	var specs []Spec
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		path := filepath.Join(dir, e.Name(), "kernel.json")
		data, err := os.ReadFile(path)
		if err != nil {
			errs = append(errs, errors.Wrapf(err, "reading %q", path))
			continue
		}
		var raw struct {
			Argv        []string          `json:"argv"`
			DisplayName string            `json:"display_name"`
			Language    string            `json:"language"`
			Env         map[string]string `json:"env"`
		}
		if err := json.Unmarshal(data, &raw); err != nil {
			errs = append(errs, errors.Wrapf(err, "parsing %q", path))
			continue
		}
		specs = append(specs, Spec{
			Name:        e.Name(),
			DisplayName: raw.DisplayName,
			Language:    raw.Language,
			Argv:        raw.Argv,
			Env:         raw.Env,
		})
	}
	return NewRegistry(specs...), errs
}
