package profile

import (
	"embed"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"sync"

	"gopkg.in/yaml.v3"
)

//go:embed profiles/*.yaml
var embedded embed.FS

type document struct {
	Models         []string          `yaml:"models"`
	Category       Category          `yaml:"category"`
	PropertyMethod string            `yaml:"propertyMethod"`
	MaxProperties  int               `yaml:"maxProperties"`
	Channels       []channelDocument `yaml:"channels"`
}

type channelDocument struct {
	ID           string          `yaml:"id"`
	Property     string          `yaml:"property"`
	FriendlyName string          `yaml:"friendlyName"`
	Type         DataType        `yaml:"type"`
	Refresh      bool            `yaml:"refresh"`
	Action       *actionDocument `yaml:"action"`
}

type actionDocument struct {
	Command       string        `yaml:"command"`
	ParameterType ParameterType `yaml:"parameterType"`
}

// Registry maps model identifiers to profiles. It is immutable after load.
type Registry struct {
	profiles map[string]*Profile
}

// Load reads every *.yaml document in fsys, validates it and indexes its
// profiles by model.
func Load(fsys fs.FS) (*Registry, error) {
	names, err := fs.Glob(fsys, "*.yaml")
	if err != nil {
		return nil, err
	}
	sort.Strings(names)

	r := &Registry{profiles: make(map[string]*Profile)}
	for _, name := range names {
		data, err := fs.ReadFile(fsys, name)
		if err != nil {
			return nil, err
		}
		if err := r.add(data); err != nil {
			return nil, fmt.Errorf("%s: %w", path.Base(name), err)
		}
	}
	return r, nil
}

// Parse builds a registry from in-memory YAML documents.
func Parse(docs ...[]byte) (*Registry, error) {
	r := &Registry{profiles: make(map[string]*Profile)}
	for i, data := range docs {
		if err := r.add(data); err != nil {
			return nil, fmt.Errorf("document %d: %w", i, err)
		}
	}
	return r, nil
}

func (r *Registry) add(data []byte) error {
	if err := validateDocument(data); err != nil {
		return err
	}

	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidProfile, err)
	}

	method := doc.PropertyMethod
	if method == "" {
		method = DefaultPropertyMethod
	}
	maxProps := doc.MaxProperties
	if maxProps == 0 {
		maxProps = DefaultMaxProperties
	}

	channels := make([]Channel, 0, len(doc.Channels))
	actions := make(map[string]Action)
	for _, cd := range doc.Channels {
		channels = append(channels, Channel{
			ID:           cd.ID,
			Property:     cd.Property,
			FriendlyName: cd.FriendlyName,
			Type:         cd.Type,
			Refresh:      cd.Refresh,
		})
		if cd.Action != nil {
			pt := cd.Action.ParameterType
			if pt == "" {
				pt = ParamNone
			}
			actions[cd.ID] = Action{Channel: cd.ID, Command: cd.Action.Command, ParameterType: pt}
		}
	}

	for _, model := range doc.Models {
		if _, dup := r.profiles[model]; dup {
			return fmt.Errorf("%w: %s", ErrDuplicateModel, model)
		}
		desc := Lookup(model).Description
		if !Known(model) {
			desc = model
		}
		r.profiles[model] = &Profile{
			Model:          model,
			Description:    desc,
			Category:       doc.Category,
			Channels:       channels,
			Actions:        actions,
			PropertyMethod: method,
			MaxProperties:  maxProps,
		}
	}
	return nil
}

// Resolve returns the profile for model, or the Unknown profile. It never
// returns nil.
func (r *Registry) Resolve(model string) *Profile {
	if p, ok := r.profiles[model]; ok {
		return p
	}
	return unknownProfile
}

// Models returns the registered models, sorted.
func (r *Registry) Models() []string {
	out := make([]string, 0, len(r.profiles))
	for m := range r.profiles {
		out = append(out, m)
	}
	sort.Strings(out)
	return out
}

var (
	defaultOnce     sync.Once
	defaultRegistry *Registry
)

// Default returns the process-wide registry of embedded profiles.
// The embedded documents are validated by tests, so a load failure panics.
func Default() *Registry {
	defaultOnce.Do(func() {
		sub, err := fs.Sub(embedded, "profiles")
		if err != nil {
			panic(err)
		}
		r, err := Load(sub)
		if err != nil {
			panic(fmt.Sprintf("profile: embedded profiles: %v", err))
		}
		defaultRegistry = r
	})
	return defaultRegistry
}

// Resolve looks model up in the Default registry.
func Resolve(model string) *Profile {
	return Default().Resolve(model)
}
