package schema

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"p9e.in/wsm/models"
	"p9e.in/wsm/pkg/apperr"
	"p9e.in/wsm/utils"
)

// Normalize folds suffixed group names (genset_make_2) into the group sequence,
// applies declared defaults to absent fields and converts date fields to ISO dates.
// Values that cannot be converted are kept as submitted.
func (s *Section) Normalize(data models.SectionData) models.SectionData {
	out := data.Clone()

	for _, g := range s.Groups {
		entries := out.Groups[g.Name]
		for _, gf := range g.Fields {
			for name, val := range out.Fields {
				i, ok := splitFlat(name, gf.Name)
				if !ok || i > g.Max {
					continue
				}
				for len(entries) < i {
					entries = append(entries, models.GroupEntry{})
				}
				if entries[i-1] == nil {
					entries[i-1] = models.GroupEntry{}
				}
				entries[i-1][gf.Name] = val
				delete(out.Fields, name)
			}
		}
		if len(entries) > 0 {
			if out.Groups == nil {
				out.Groups = map[string][]models.GroupEntry{}
			}
			for _, e := range entries {
				applyDefaults(g.Fields, map[string]string(e))
			}
			out.Groups[g.Name] = entries
		}
	}

	applyDefaults(s.Fields, out.Fields)
	return out
}

func applyDefaults(fields []Field, values map[string]string) {
	for _, f := range fields {
		v, present := values[f.Name]
		if !present && f.Default != "" {
			values[f.Name] = f.Default
			continue
		}
		if f.Kind == KindDate && v != "" {
			if iso, ok := utils.NormalizeDate(v); ok {
				values[f.Name] = iso
			}
		}
	}
}

// Flatten returns the section as one flat map, group values under their suffixed names.
func (s *Section) Flatten(data models.SectionData) map[string]string {
	out := make(map[string]string, len(data.Fields))
	for k, v := range data.Fields {
		out[k] = v
	}
	for _, g := range s.Groups {
		for i, e := range data.Groups[g.Name] {
			for k, v := range e {
				out[FlatName(k, i+1)] = v
			}
		}
	}
	return out
}

// Row is one labelled value for display.
type Row struct {
	Name  string
	Label string
	Value string
}

// Rows lays out stored data in declaration order. Every declared field yields a
// row even when no value was stored; undeclared stored fields follow, sorted.
// Group entries are listed up to the stored count; entries stored beyond it
// follow, so nothing that was saved is left out.
func (s *Section) Rows(data models.SectionData) []Row {
	rows := make([]Row, 0, len(s.Fields))
	used := map[string]bool{}
	for _, f := range s.Fields {
		rows = append(rows, Row{Name: f.Name, Label: f.Label, Value: data.Fields[f.Name]})
		used[f.Name] = true
		for _, g := range s.Groups {
			if g.CountField != f.Name {
				continue
			}
			entries := data.Groups[g.Name]
			n := len(entries)
			if c, err := g.Count(data.Fields); err == nil && c >= g.Min && c <= g.Max && c > n {
				n = c
			}
			for i := 1; i <= n; i++ {
				var e models.GroupEntry
				if i <= len(entries) {
					e = entries[i-1]
				}
				for _, gf := range g.Fields {
					rows = append(rows, Row{
						Name:  FlatName(gf.Name, i),
						Label: fmt.Sprintf("%s %d", gf.Label, i),
						Value: e[gf.Name],
					})
				}
			}
		}
	}

	var extra []string
	for k := range data.Fields {
		if !used[k] {
			extra = append(extra, k)
		}
	}
	sort.Strings(extra)
	for _, k := range extra {
		label := s.Label(k)
		if label == "" {
			label = k
		}
		rows = append(rows, Row{Name: k, Label: label, Value: data.Fields[k]})
	}
	return rows
}

// Validate checks the variant's supply/services data.
func (r *Registry) Validate(v models.Variant, data models.SectionData) ([]apperr.Violation, error) {
	return r.ValidateSection(v, models.SectionSupplyServices, data)
}

// ValidateSection returns one violation per missing required, out-of-option or
// malformed value. An empty result means the data is valid.
func (r *Registry) ValidateSection(v models.Variant, section string, data models.SectionData) ([]apperr.Violation, error) {
	s, err := r.Section(v, section)
	if err != nil {
		return nil, err
	}
	return s.Validate(data), nil
}

// Validate checks data, flat or structured, against the section.
func (s *Section) Validate(data models.SectionData) []apperr.Violation {
	data = s.Normalize(data)
	var out []apperr.Violation
	for _, f := range s.Fields {
		if vi, bad := checkValue(s.Name, f, f.Name, data.Fields[f.Name]); bad {
			out = append(out, vi)
		}
	}

	for _, g := range s.Groups {
		if _, declared := s.Field(g.CountField); declared && strings.TrimSpace(data.Fields[g.CountField]) == "" {
			// already reported as missing when required
			continue
		}
		n, err := g.Count(data.Fields)
		if err != nil {
			out = append(out, apperr.Violation{Section: s.Name, Field: g.CountField, Reason: apperr.ReasonInvalid, Message: err.Error()})
			continue
		}
		if n < g.Min || n > g.Max {
			out = append(out, apperr.Violation{
				Section: s.Name,
				Field:   g.CountField,
				Reason:  apperr.ReasonOutOfRange,
				Message: fmt.Sprintf("%s must be between %d and %d", g.CountField, g.Min, g.Max),
			})
			continue
		}
		entries := data.Groups[g.Name]
		for i := 1; i <= n; i++ {
			var e models.GroupEntry
			if i <= len(entries) {
				e = entries[i-1]
			}
			for _, gf := range g.Fields {
				if vi, bad := checkValue(s.Name, gf, FlatName(gf.Name, i), e[gf.Name]); bad {
					out = append(out, vi)
				}
			}
		}
	}
	return out
}

func checkValue(section string, f Field, name, value string) (apperr.Violation, bool) {
	vi := apperr.Violation{Section: section, Field: name}
	if strings.TrimSpace(value) == "" {
		if f.Required {
			vi.Reason = apperr.ReasonMissing
			vi.Message = f.Label + " is required"
			return vi, true
		}
		return vi, false
	}
	switch f.Kind {
	case KindChoice:
		if !f.Allows(value) {
			vi.Reason = apperr.ReasonNotAllowed
			vi.Message = fmt.Sprintf("%q is not one of %s", value, strings.Join(f.Options, ", "))
			return vi, true
		}
	case KindNumber:
		if _, err := strconv.ParseFloat(strings.TrimSpace(value), 64); err != nil {
			vi.Reason = apperr.ReasonInvalid
			vi.Message = f.Label + " must be a number"
			return vi, true
		}
	case KindDate:
		if _, ok := utils.NormalizeDate(value); !ok {
			vi.Reason = apperr.ReasonInvalid
			vi.Message = f.Label + " must be a date (YYYY-MM-DD)"
			return vi, true
		}
	}
	return vi, false
}

// Normalize applies Section.Normalize for a variant's section.
func (r *Registry) Normalize(v models.Variant, section string, data models.SectionData) (models.SectionData, error) {
	s, err := r.Section(v, section)
	if err != nil {
		return models.SectionData{}, err
	}
	return s.Normalize(data), nil
}
