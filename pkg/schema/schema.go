// Package schema declares which sections and fields exist for each boiler-type
// variant, validates submitted section data against them and supplies display labels.
package schema

import (
	"fmt"
	"strconv"
	"strings"

	"p9e.in/wsm/models"
)

// Kind is the input kind of a field.
type Kind string

const (
	KindText      Kind = "text"
	KindChoice    Kind = "choice"
	KindMultiline Kind = "multiline"
	KindNumber    Kind = "number"
	KindDate      Kind = "date"
)

func (k Kind) valid() bool {
	switch k {
	case KindText, KindChoice, KindMultiline, KindNumber, KindDate:
		return true
	}
	return false
}

// Field describes one input field.
type Field struct {
	Name     string   `yaml:"name" json:"name"`
	Label    string   `yaml:"label" json:"label"`
	Kind     Kind     `yaml:"kind" json:"kind"`
	Options  []string `yaml:"options,omitempty" json:"options,omitempty"`
	Required bool     `yaml:"required" json:"required"`
	Default  string   `yaml:"default,omitempty" json:"default,omitempty"`

	// Group is set on descriptors that belong to a repeated group.
	Group string `yaml:"-" json:"group,omitempty"`
}

// Allows reports whether v is an acceptable option of a choice field.
func (f Field) Allows(v string) bool {
	if f.Kind != KindChoice {
		return true
	}
	for _, o := range f.Options {
		if o == v {
			return true
		}
	}
	return false
}

// Group is a count-driven repeated block of fields, such as WHRB gensets.
// The value of CountField decides how many entries are mandatory.
type Group struct {
	Name       string  `yaml:"name" json:"name"`
	Label      string  `yaml:"label" json:"label"`
	CountField string  `yaml:"count_field" json:"count_field"`
	Min        int     `yaml:"min" json:"min"`
	Max        int     `yaml:"max" json:"max"`
	Fields     []Field `yaml:"fields" json:"fields"`
}

// FlatName is the suffixed wire name of a group field, 1-based.
func FlatName(base string, index int) string {
	return base + "_" + strconv.Itoa(index)
}

// splitFlat reverses FlatName for a known base.
func splitFlat(name, base string) (int, bool) {
	rest, ok := strings.CutPrefix(name, base+"_")
	if !ok {
		return 0, false
	}
	n, err := strconv.Atoi(rest)
	if err != nil || n < 1 {
		return 0, false
	}
	return n, true
}

// Count parses the group count stored in fields.
func (g Group) Count(fields map[string]string) (int, error) {
	raw := strings.TrimSpace(fields[g.CountField])
	if raw == "" {
		return 0, fmt.Errorf("%s is empty", g.CountField)
	}
	if f, err := strconv.ParseFloat(raw, 64); err == nil && f == float64(int(f)) {
		return int(f), nil
	}
	return 0, fmt.Errorf("%s must be a whole number", g.CountField)
}

// Placement of a shared section relative to the variant sections.
const (
	PlaceBefore = "before"
	PlaceAfter  = "after"
)

// Section is a named slice of a project's form.
type Section struct {
	Name      string  `yaml:"name" json:"name"`
	Title     string  `yaml:"title" json:"title"`
	Placement string  `yaml:"placement,omitempty" json:"-"`
	Fields    []Field `yaml:"fields" json:"fields"`
	Groups    []Group `yaml:"groups,omitempty" json:"groups,omitempty"`

	index map[string]int
}

func (s *Section) buildIndex() {
	s.index = make(map[string]int, len(s.Fields))
	for i, f := range s.Fields {
		s.index[f.Name] = i
	}
}

// Field looks up a plain field by name.
func (s *Section) Field(name string) (Field, bool) {
	if i, ok := s.index[name]; ok {
		return s.Fields[i], true
	}
	return Field{}, false
}

// Ordered returns the section's descriptors, each group's fields placed right
// after its count field.
func (s *Section) Ordered() []Field {
	out := make([]Field, 0, len(s.Fields))
	for _, f := range s.Fields {
		out = append(out, f)
		for _, g := range s.Groups {
			if g.CountField != f.Name {
				continue
			}
			for _, gf := range g.Fields {
				gf.Group = g.Name
				out = append(out, gf)
			}
		}
	}
	return out
}

// VariantSchema is the complete form of one variant, shared sections included.
type VariantSchema struct {
	Variant  models.Variant `json:"variant"`
	Prefix   string         `json:"prefix"`
	Title    string         `json:"title"`
	Order    int            `json:"-"`
	Sections []*Section     `json:"sections"`
}

// Section finds a section by name.
func (v *VariantSchema) Section(name string) (*Section, bool) {
	for _, s := range v.Sections {
		if s.Name == name {
			return s, true
		}
	}
	return nil, false
}
