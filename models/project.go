package models

import (
	"time"
)

// Variant is the boiler-type form family a project belongs to.
type Variant string

const (
	VariantStandard    Variant = "Standard"
	VariantNonStandard Variant = "Non-Standard"
	VariantElectrical  Variant = "Electrical"
	VariantWHRB        Variant = "WHRB"
	VariantCustom      Variant = "Custom"
)

// Section names shared by all variants
const (
	SectionGeneralInfo    = "general_info"
	SectionSupplyServices = "supply_services"
)

// Project is one WSM worksheet. ProjectNo never changes after creation.
type Project struct {
	ID         uint      `gorm:"primaryKey" json:"-"`
	ProjectNo  string    `gorm:"size:40;uniqueIndex;not null" json:"project_no"`
	Variant    Variant   `gorm:"size:20;not null;index" json:"variant"`
	BoilerType string    `gorm:"size:255" json:"boiler_type"`
	Status     Status    `gorm:"size:50;not null;index" json:"status"`
	CreatedBy  string    `gorm:"size:100;not null;index" json:"created_by"`
	Client     string    `gorm:"size:255;index" json:"client"`
	Site       string    `gorm:"size:255" json:"site"`
	CreatedAt  time.Time `gorm:"not null" json:"created_at"`
	UpdatedAt  time.Time `gorm:"not null" json:"updated_at"`

	Sections []ProjectSection `gorm:"foreignKey:ProjectNo;references:ProjectNo" json:"sections,omitempty"`
}

// Section returns the named section's data and whether it was found.
func (p *Project) Section(name string) (SectionData, bool) {
	for _, s := range p.Sections {
		if s.SectionName == name {
			return s.FieldData, true
		}
	}
	return SectionData{}, false
}

// SectionMap indexes the loaded sections by name.
func (p *Project) SectionMap() map[string]SectionData {
	out := make(map[string]SectionData, len(p.Sections))
	for _, s := range p.Sections {
		out[s.SectionName] = s.FieldData
	}
	return out
}

// ProjectSection is one (project, section name) row holding a structured field map.
type ProjectSection struct {
	ID          uint        `gorm:"primaryKey" json:"-"`
	ProjectNo   string      `gorm:"size:40;not null;uniqueIndex:idx_project_section" json:"project_no"`
	SectionName string      `gorm:"size:64;not null;uniqueIndex:idx_project_section" json:"section_name"`
	FieldData   SectionData `gorm:"not null" json:"data"`
	UpdatedAt   time.Time   `gorm:"not null" json:"updated_at"`
}

func (ProjectSection) TableName() string {
	return "project_sections"
}

// ProjectCounter holds the last number handed out for a project-number prefix.
type ProjectCounter struct {
	Prefix string `gorm:"size:16;primaryKey"`
	Value  int64  `gorm:"not null"`
}
