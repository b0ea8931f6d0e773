package config

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"gorm.io/gorm"

	"p9e.in/wsm/models"
)

func Migrations(db *gorm.DB) error {
	m := gormigrate.New(db, gormigrate.DefaultOptions, []*gormigrate.Migration{
		{
			ID: "14102026_create_wsm_tables",
			Migrate: func(tx *gorm.DB) error {
				return tx.AutoMigrate(&models.User{}, &models.Project{}, &models.ProjectSection{}, &models.ProjectCounter{})
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable("project_counters", "project_sections", "projects", "users")
			},
		},
		{
			ID: "14102026_add_status_transitions",
			Migrate: func(tx *gorm.DB) error {
				return tx.AutoMigrate(&models.StatusTransition{})
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable("status_transitions")
			},
		},
	})
	return m.Migrate()
}
