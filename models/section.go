package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"maps"
	"sort"

	"gorm.io/gorm"
	"gorm.io/gorm/schema"
)

// GroupEntry is one record of a repeated group, e.g. a single genset.
type GroupEntry map[string]string

// SectionData is the stored form data of one section. Values are already
// normalized to strings; repeated groups are ordered sequences of records.
type SectionData struct {
	Fields map[string]string       `json:"fields"`
	Groups map[string][]GroupEntry `json:"groups,omitempty"`
}

// NewSectionData wraps a flat field map.
func NewSectionData(fields map[string]string) SectionData {
	if fields == nil {
		fields = map[string]string{}
	}
	return SectionData{Fields: fields}
}

// Get returns a field value or "" when absent.
func (d SectionData) Get(name string) string {
	return d.Fields[name]
}

// IsEmpty reports whether the section holds no values at all.
func (d SectionData) IsEmpty() bool {
	return len(d.Fields) == 0 && len(d.Groups) == 0
}

// Clone returns a deep copy.
func (d SectionData) Clone() SectionData {
	out := SectionData{Fields: maps.Clone(d.Fields)}
	if out.Fields == nil {
		out.Fields = map[string]string{}
	}
	if len(d.Groups) > 0 {
		out.Groups = make(map[string][]GroupEntry, len(d.Groups))
		for name, entries := range d.Groups {
			cp := make([]GroupEntry, len(entries))
			for i, e := range entries {
				cp[i] = maps.Clone(e)
			}
			out.Groups[name] = cp
		}
	}
	return out
}

// Keys returns the field names in sorted order.
func (d SectionData) Keys() []string {
	keys := make([]string, 0, len(d.Fields))
	for k := range d.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Scan implements the sql.Scanner interface for SectionData
func (d *SectionData) Scan(value interface{}) error {
	var raw []byte
	switch v := value.(type) {
	case nil:
		*d = NewSectionData(nil)
		return nil
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("SectionData.Scan: unsupported type %T", value)
	}

	var out SectionData
	if err := json.Unmarshal(raw, &out); err != nil {
		return fmt.Errorf("SectionData.Scan: %w", err)
	}
	if out.Fields == nil {
		out.Fields = map[string]string{}
	}
	*d = out
	return nil
}

// Value implements the driver.Valuer interface for SectionData
func (d SectionData) Value() (driver.Value, error) {
	if d.Fields == nil {
		d.Fields = map[string]string{}
	}
	b, err := json.Marshal(d)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// GormDataType defines the data type for GORM
func (SectionData) GormDataType() string {
	return "json"
}

// GormDBDataType picks jsonb on postgres and plain text elsewhere
func (SectionData) GormDBDataType(db *gorm.DB, field *schema.Field) string {
	switch db.Dialector.Name() {
	case "postgres":
		return "jsonb"
	case "mysql":
		return "JSON"
	default:
		return "text"
	}
}
