// Package screen describes dashboard screens in YAML so that sessions can be
// built over generic JSON records without a Go type per collection. Record
// fields are read with gjson paths.
//
//	name: toys
//	endpoint: /api/toys
//	mode: client
//	pageSize: 20
//	search: [name, brand.name]
//	fields:
//	  brand: brandId
//	  price: price
//	references:
//	  - name: brands
//	    endpoint: /api/brands
package screen

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/Sternrassler/dashboard-sync/pkg/client"
	"github.com/Sternrassler/dashboard-sync/pkg/notify"
	"github.com/Sternrassler/dashboard-sync/pkg/reference"
	"github.com/Sternrassler/dashboard-sync/pkg/session"
	"github.com/Sternrassler/dashboard-sync/pkg/view"
	"github.com/tidwall/gjson"
	"gopkg.in/yaml.v3"
)

// Record is one item of a generic collection.
type Record = json.RawMessage

// Session is a session over generic records.
type Session = session.Session[Record]

// Reference describes a reference set of a screen.
type Reference struct {
	Name      string `yaml:"name"`
	Endpoint  string `yaml:"endpoint"`
	IDField   string `yaml:"id,omitempty"`
	NameField string `yaml:"label,omitempty"`
}

// Definition is one screen.
type Definition struct {
	Name     string `yaml:"name"`
	Endpoint string `yaml:"endpoint"`

	// Mode is "server" (default) or "client".
	Mode     string `yaml:"mode,omitempty"`
	PageSize int    `yaml:"pageSize,omitempty"`

	// IDField is the gjson path of the item id. Default "id".
	IDField string `yaml:"id,omitempty"`

	// Search lists the gjson paths searched by the search term.
	Search []string `yaml:"search,omitempty"`

	// Fields maps facet and sort names to gjson paths.
	Fields map[string]string `yaml:"fields,omitempty"`

	References []Reference `yaml:"references,omitempty"`

	// ReferenceMode is "partial" (default) or "strict".
	ReferenceMode string `yaml:"referenceMode,omitempty"`
}

// ParseFile reads and validates a definition file.
func ParseFile(path string) (*Definition, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	def, err := Parse(file)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return def, nil
}

// Parse decodes and validates a definition.
func Parse(r io.Reader) (*Definition, error) {
	var def Definition
	decoder := yaml.NewDecoder(r)
	decoder.KnownFields(true)
	if err := decoder.Decode(&def); err != nil {
		return nil, fmt.Errorf("decode screen definition: %w", err)
	}
	if err := def.Validate(); err != nil {
		return nil, err
	}
	return &def, nil
}

// ParseDir reads every *.yaml and *.yml file of dir, sorted by screen name.
func ParseDir(dir string) ([]*Definition, error) {
	var paths []string
	for _, pattern := range []string{"*.yaml", "*.yml"} {
		matches, err := filepath.Glob(filepath.Join(dir, pattern))
		if err != nil {
			return nil, err
		}
		paths = append(paths, matches...)
	}

	defs := make([]*Definition, 0, len(paths))
	seen := make(map[string]string, len(paths))
	for _, p := range paths {
		def, err := ParseFile(p)
		if err != nil {
			return nil, err
		}
		if prev, ok := seen[def.Name]; ok {
			return nil, fmt.Errorf("screen %q defined in %s and %s", def.Name, prev, p)
		}
		seen[def.Name] = p
		defs = append(defs, def)
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	return defs, nil
}

// Validate checks required fields and enumerations.
func (d *Definition) Validate() error {
	var errs []error
	if d.Name == "" {
		errs = append(errs, errors.New("name is required"))
	}
	if !strings.HasPrefix(d.Endpoint, "/") {
		errs = append(errs, fmt.Errorf("endpoint %q must start with /", d.Endpoint))
	}
	switch d.Mode {
	case "", "server", "client":
	default:
		errs = append(errs, fmt.Errorf("mode %q must be server or client", d.Mode))
	}
	switch d.ReferenceMode {
	case "", "partial", "strict":
	default:
		errs = append(errs, fmt.Errorf("referenceMode %q must be partial or strict", d.ReferenceMode))
	}
	if d.PageSize < 0 {
		errs = append(errs, fmt.Errorf("pageSize %d must be positive", d.PageSize))
	}
	for i, ref := range d.References {
		if ref.Name == "" || !strings.HasPrefix(ref.Endpoint, "/") {
			errs = append(errs, fmt.Errorf("reference %d needs a name and an endpoint starting with /", i))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("screen %q: %w", d.Name, errors.Join(errs...))
	}
	return nil
}

// ID returns the id of a record.
func (d *Definition) ID(r Record) string {
	path := d.IDField
	if path == "" {
		path = "id"
	}
	return gjson.GetBytes(r, path).String()
}

// Field returns the value of a named field of a record, or nil when the
// field is unknown or missing. Numbers are float64.
func (d *Definition) Field(r Record, name string) any {
	path, ok := d.Fields[name]
	if !ok {
		return nil
	}
	return value(gjson.GetBytes(r, path))
}

func value(res gjson.Result) any {
	if !res.Exists() {
		return nil
	}
	switch res.Type {
	case gjson.Null:
		return nil
	case gjson.Number:
		return res.Float()
	case gjson.True, gjson.False:
		return res.Bool()
	case gjson.String:
		return res.String()
	default:
		return res.Raw
	}
}

// Schema returns the view schema of the screen.
func (d *Definition) Schema() view.Schema[Record] {
	schema := view.Schema[Record]{Fields: make(map[string]func(Record) any, len(d.Fields))}
	for _, path := range d.Search {
		schema.SearchFields = append(schema.SearchFields, func(r Record) string {
			return gjson.GetBytes(r, path).String()
		})
	}
	for name, path := range d.Fields {
		schema.Fields[name] = func(r Record) any {
			return value(gjson.GetBytes(r, path))
		}
	}
	return schema
}

// Specs returns the reference specs of the screen.
func (d *Definition) Specs() []reference.Spec {
	specs := make([]reference.Spec, 0, len(d.References))
	for _, ref := range d.References {
		specs = append(specs, reference.Spec{
			Name:      ref.Name,
			Endpoint:  ref.Endpoint,
			IDField:   ref.IDField,
			NameField: ref.NameField,
		})
	}
	return specs
}

// SessionConfig returns the session configuration of the screen, starting
// from session.DefaultConfig.
func (d *Definition) SessionConfig() session.Config[Record] {
	cfg := session.DefaultConfig(d.Name, d.Endpoint, d.ID)
	if d.Mode == "client" {
		cfg.Mode = session.ModeClient
	}
	if d.PageSize > 0 {
		cfg.PageSize = d.PageSize
	}
	if d.ReferenceMode == "strict" {
		cfg.ReferenceMode = reference.ModeStrict
	}
	cfg.Schema = d.Schema()
	cfg.References = d.Specs()
	return cfg
}

// NewSession creates a session for the screen. tune, when non-nil, adjusts
// the configuration before the session is built.
func (d *Definition) NewSession(c *client.Client, n notify.Notifier, tune func(*session.Config[Record])) (*Session, error) {
	cfg := d.SessionConfig()
	cfg.Notifier = n
	if tune != nil {
		tune(&cfg)
	}
	return session.New(c, cfg)
}
