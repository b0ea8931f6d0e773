package report

import (
	"sort"
	"strings"
	"time"

	"p9e.in/wsm/models"
	"p9e.in/wsm/pkg/schema"
	"p9e.in/wsm/utils"
)

// SectionView is one titled block of labelled rows.
type SectionView struct {
	Name  string
	Title string
	Rows  []schema.Row
}

// Line is one label: value pair of the plain-text layout.
type Line struct {
	Label string
	Value string
}

func (l Line) String() string { return l.Label + ": " + l.Value }

// Data is everything a report template can reference. Fields is a flat map, so
// a template lookup of an unknown key yields "".
type Data struct {
	ProjectNo string
	Variant   string
	Status    string
	CreatedBy string
	Generated string

	Fields   map[string]string
	Sections []SectionView
	Gensets  []models.GroupEntry
}

// BuildData flattens a project into template data. Sections declared by the
// variant come first in schema order, then any undeclared stored sections.
func BuildData(p *models.Project, reg *schema.Registry, now time.Time) *Data {
	d := &Data{
		ProjectNo: p.ProjectNo,
		Variant:   string(p.Variant),
		Status:    string(p.Status),
		CreatedBy: p.CreatedBy,
		Generated: utils.FormatTime(now),
		Fields:    map[string]string{},
	}

	stored := p.SectionMap()
	seen := map[string]bool{}

	declared, _ := reg.Sections(p.Variant)
	for _, s := range declared {
		data := stored[s.Name]
		seen[s.Name] = true
		d.Sections = append(d.Sections, SectionView{Name: s.Name, Title: sectionTitle(s.Name, s.Title), Rows: s.Rows(data)})
		merge(d.Fields, s.Flatten(data))

		for _, g := range s.Groups {
			if g.Name != "gensets" {
				continue
			}
			entries := data.Groups[g.Name]
			if n, err := g.Count(data.Fields); err == nil && n >= g.Min && n <= g.Max && n < len(entries) {
				entries = entries[:n]
			}
			d.Gensets = entries
		}
	}

	var extra []string
	for name := range stored {
		if !seen[name] {
			extra = append(extra, name)
		}
	}
	sort.Strings(extra)
	for _, name := range extra {
		data := stored[name]
		view := SectionView{Name: name, Title: sectionTitle(name, "")}
		for _, k := range data.Keys() {
			view.Rows = append(view.Rows, schema.Row{Name: k, Label: k, Value: data.Fields[k]})
		}
		d.Sections = append(d.Sections, view)
		merge(d.Fields, data.Fields)
	}

	if p.Variant == models.VariantWHRB {
		if sup, ok := stored[models.SectionSupplyServices]; ok {
			d.Fields["boiler_type_whrb"] = sup.Get("boiler_type")
		}
	}

	computed := map[string]string{
		"project_no":     p.ProjectNo,
		"variant":        string(p.Variant),
		"status":         string(p.Status),
		"created_by":     p.CreatedBy,
		"created_at":     utils.FormatTime(p.CreatedAt),
		"updated_at":     utils.FormatTime(p.UpdatedAt),
		"generated_date": d.Generated,
	}
	for k, v := range computed {
		d.Fields[k] = v
	}
	setDefault(d.Fields, "date", d.Generated)
	setDefault(d.Fields, "revision", "1.0")
	setDefault(d.Fields, "wsm_type", string(p.Variant))
	setDefault(d.Fields, "boiler_type", p.BoilerType)
	setDefault(d.Fields, "reviewed_by", p.CreatedBy)
	return d
}

// Lines is the plain-text layout: identity first, then every stored value.
func (d *Data) Lines() []Line {
	lines := []Line{
		{Label: "Project No", Value: d.ProjectNo},
		{Label: "Variant", Value: d.Variant},
		{Label: "Status", Value: d.Status},
		{Label: "Created By", Value: d.CreatedBy},
		{Label: "Generated", Value: d.Generated},
	}
	for _, s := range d.Sections {
		for _, r := range s.Rows {
			if r.Value == "" {
				continue
			}
			lines = append(lines, Line{Label: r.Label, Value: r.Value})
		}
	}
	return lines
}

func sectionTitle(name, title string) string {
	if title != "" {
		return title
	}
	return strings.ToUpper(strings.ReplaceAll(name, "_", " "))
}

// merge copies src into dst without overwriting earlier sections.
func merge(dst, src map[string]string) {
	for k, v := range src {
		setDefault(dst, k, v)
	}
}

func setDefault(m map[string]string, k, v string) {
	if cur, ok := m[k]; !ok || cur == "" {
		m[k] = v
	}
}
