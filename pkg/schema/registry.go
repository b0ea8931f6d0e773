package schema

import (
	"embed"
	"fmt"
	"io/fs"
	"path"
	"slices"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"gopkg.in/yaml.v3"

	"p9e.in/wsm/models"
	"p9e.in/wsm/pkg/apperr"
)

//go:embed schemas/*.yaml
var embedded embed.FS

// DefaultFS returns the schema declarations compiled into the binary.
func DefaultFS() fs.FS {
	sub, err := fs.Sub(embedded, "schemas")
	if err != nil {
		panic(err)
	}
	return sub
}

// document is one YAML file. Files without a variant declare shared sections.
type document struct {
	Variant  models.Variant `yaml:"variant"`
	Prefix   string         `yaml:"prefix"`
	Title    string         `yaml:"title"`
	Order    int            `yaml:"order"`
	Sections []Section      `yaml:"sections"`
}

// Registry resolves variants to their schemas. It is safe for concurrent use
// and can be reloaded in place.
type Registry struct {
	mu       sync.RWMutex
	variants map[models.Variant]*VariantSchema
	order    []models.Variant
	gen      atomic.Uint64
}

// Default builds a registry from the embedded declarations.
func Default() *Registry {
	r, err := Load(DefaultFS())
	if err != nil {
		panic(fmt.Sprintf("embedded schemas are invalid: %v", err))
	}
	return r
}

// Load reads every *.yaml file of each layer. Later layers replace variants and
// shared sections of the same name declared by earlier ones.
func Load(layers ...fs.FS) (*Registry, error) {
	r := &Registry{}
	if err := r.Reload(layers...); err != nil {
		return nil, err
	}
	return r, nil
}

// Reload swaps in a freshly parsed set of declarations. On error the current
// set is kept.
func (r *Registry) Reload(layers ...fs.FS) error {
	variants, order, err := parseLayers(layers)
	if err != nil {
		return err
	}
	r.mu.Lock()
	r.variants = variants
	r.order = order
	r.mu.Unlock()
	r.gen.Add(1)
	return nil
}

// Generation counts successful loads; it changes whenever the declarations do.
func (r *Registry) Generation() uint64 { return r.gen.Load() }

func parseLayers(layers []fs.FS) (map[models.Variant]*VariantSchema, []models.Variant, error) {
	var shared []Section
	docs := map[models.Variant]document{}

	for _, layer := range layers {
		if layer == nil {
			continue
		}
		names, err := fs.Glob(layer, "*.y*ml")
		if err != nil {
			return nil, nil, err
		}
		sort.Strings(names)
		for _, name := range names {
			if ext := path.Ext(name); ext != ".yaml" && ext != ".yml" {
				continue
			}
			raw, err := fs.ReadFile(layer, name)
			if err != nil {
				return nil, nil, fmt.Errorf("read %s: %w", name, err)
			}
			var doc document
			if err := yaml.Unmarshal(raw, &doc); err != nil {
				return nil, nil, &apperr.SchemaError{Reason: fmt.Sprintf("%s: %v", name, err)}
			}
			if doc.Variant == "" {
				shared = mergeSections(shared, doc.Sections)
				continue
			}
			docs[doc.Variant] = doc
		}
	}

	if len(docs) == 0 {
		return nil, nil, &apperr.SchemaError{Reason: "no variant declarations found"}
	}
	for i := range shared {
		if err := checkSection("", &shared[i]); err != nil {
			return nil, nil, err
		}
	}

	variants := make(map[models.Variant]*VariantSchema, len(docs))
	order := make([]models.Variant, 0, len(docs))
	prefixes := map[string]models.Variant{}
	for v, doc := range docs {
		vs, err := assemble(doc, shared)
		if err != nil {
			return nil, nil, err
		}
		if other, dup := prefixes[vs.Prefix]; dup {
			return nil, nil, &apperr.SchemaError{Variant: string(v), Reason: "prefix " + vs.Prefix + " already used by " + string(other)}
		}
		prefixes[vs.Prefix] = v
		variants[v] = vs
		order = append(order, v)
	}
	sort.SliceStable(order, func(i, j int) bool {
		a, b := variants[order[i]], variants[order[j]]
		if a.Order != b.Order {
			return a.Order < b.Order
		}
		return a.Variant < b.Variant
	})
	return variants, order, nil
}

func mergeSections(base, over []Section) []Section {
	for _, s := range over {
		idx := slices.IndexFunc(base, func(b Section) bool { return b.Name == s.Name })
		if idx >= 0 {
			base[idx] = s
			continue
		}
		base = append(base, s)
	}
	return base
}

func assemble(doc document, shared []Section) (*VariantSchema, error) {
	if strings.TrimSpace(doc.Prefix) == "" {
		return nil, &apperr.SchemaError{Variant: string(doc.Variant), Reason: "prefix is required"}
	}
	vs := &VariantSchema{
		Variant: doc.Variant,
		Prefix:  strings.ToUpper(doc.Prefix),
		Title:   doc.Title,
		Order:   doc.Order,
	}

	own := map[string]bool{}
	for i := range doc.Sections {
		own[doc.Sections[i].Name] = true
	}
	var before, after []*Section
	for _, s := range shared {
		if own[s.Name] {
			continue
		}
		cp := s
		cp.buildIndex()
		if s.Placement == PlaceBefore {
			before = append(before, &cp)
		} else {
			after = append(after, &cp)
		}
	}

	vs.Sections = append(vs.Sections, before...)
	for i := range doc.Sections {
		s := doc.Sections[i]
		if err := checkSection(doc.Variant, &s); err != nil {
			return nil, err
		}
		s.buildIndex()
		vs.Sections = append(vs.Sections, &s)
	}
	vs.Sections = append(vs.Sections, after...)
	return vs, nil
}

func checkSection(v models.Variant, s *Section) error {
	fail := func(format string, args ...any) error {
		return &apperr.SchemaError{Variant: string(v), Reason: fmt.Sprintf("section %q: ", s.Name) + fmt.Sprintf(format, args...)}
	}
	if s.Name == "" {
		return &apperr.SchemaError{Variant: string(v), Reason: "section without a name"}
	}
	seen := map[string]bool{}
	check := func(f *Field) error {
		if f.Name == "" {
			return fail("field without a name")
		}
		if seen[f.Name] {
			return fail("duplicate field %q", f.Name)
		}
		seen[f.Name] = true
		if f.Kind == "" {
			f.Kind = KindText
		}
		if !f.Kind.valid() {
			return fail("field %q has unknown kind %q", f.Name, f.Kind)
		}
		if f.Kind == KindChoice && len(f.Options) == 0 {
			return fail("choice field %q has no options", f.Name)
		}
		if f.Label == "" {
			f.Label = f.Name
		}
		return nil
	}
	for i := range s.Fields {
		if err := check(&s.Fields[i]); err != nil {
			return err
		}
	}
	for gi := range s.Groups {
		g := &s.Groups[gi]
		if !seen[g.CountField] {
			return fail("group %q count field %q is not declared", g.Name, g.CountField)
		}
		if g.Min < 0 || g.Max < 1 || g.Min > g.Max {
			return fail("group %q has invalid bounds %d..%d", g.Name, g.Min, g.Max)
		}
		for i := range g.Fields {
			if err := check(&g.Fields[i]); err != nil {
				return err
			}
		}
	}
	return nil
}

// Variants lists the declared variants in display order.
func (r *Registry) Variants() []models.Variant {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.order)
}

// Schema returns the complete declaration of a variant.
func (r *Registry) Schema(v models.Variant) (*VariantSchema, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	vs, ok := r.variants[v]
	if !ok {
		return nil, &apperr.SchemaError{Variant: string(v), Reason: "unknown variant"}
	}
	return vs, nil
}

// Prefix returns the project-number prefix of a variant.
func (r *Registry) Prefix(v models.Variant) (string, error) {
	vs, err := r.Schema(v)
	if err != nil {
		return "", err
	}
	return vs.Prefix, nil
}

// Section returns the named section of a variant.
func (r *Registry) Section(v models.Variant, name string) (*Section, error) {
	vs, err := r.Schema(v)
	if err != nil {
		return nil, err
	}
	s, ok := vs.Section(name)
	if !ok {
		return nil, apperr.NotFound("section", name)
	}
	return s, nil
}

// Sections returns a variant's sections in report order.
func (r *Registry) Sections(v models.Variant) ([]*Section, error) {
	vs, err := r.Schema(v)
	if err != nil {
		return nil, err
	}
	return slices.Clone(vs.Sections), nil
}

// FieldsFor returns the ordered descriptors of the variant's supply/services section.
// Repeated-group fields carry their Group name and unsuffixed base name.
func (r *Registry) FieldsFor(v models.Variant) ([]Field, error) {
	s, err := r.Section(v, models.SectionSupplyServices)
	if err != nil {
		return nil, err
	}
	return s.Ordered(), nil
}

// Label returns the display label of a stored field name, "" if undeclared.
// Suffixed group names resolve to "<label> <n>".
func (r *Registry) Label(v models.Variant, section, name string) string {
	s, err := r.Section(v, section)
	if err != nil {
		return ""
	}
	return s.Label(name)
}

// Label resolves a plain or suffixed field name.
func (s *Section) Label(name string) string {
	if f, ok := s.Field(name); ok {
		return f.Label
	}
	for _, g := range s.Groups {
		for _, gf := range g.Fields {
			if i, ok := splitFlat(name, gf.Name); ok && i <= g.Max {
				return fmt.Sprintf("%s %d", gf.Label, i)
			}
		}
	}
	return ""
}
