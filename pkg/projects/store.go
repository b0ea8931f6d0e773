// Package projects persists WSM projects, their section data and status history.
package projects

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/pkg/errors"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"p9e.in/wsm/models"
	"p9e.in/wsm/pkg/access"
	"p9e.in/wsm/pkg/apperr"
	"p9e.in/wsm/pkg/workflow"
)

// PrefixSource maps a variant to its project-number prefix.
type PrefixSource interface {
	Prefix(v models.Variant) (string, error)
}

// Store handles project persistence
type Store struct {
	db       *gorm.DB
	prefixes PrefixSource
	numberer Numberer
	workflow *workflow.Workflow
	logger   *slog.Logger
	now      func() time.Time
}

// Option customises a Store.
type Option func(*Store)

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithLogger sets the store's logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// NewStore creates a store. A nil numberer means CounterNumberer and a nil
// workflow the permissive, admin-gated default.
func NewStore(db *gorm.DB, prefixes PrefixSource, numberer Numberer, wf *workflow.Workflow, opts ...Option) *Store {
	if numberer == nil {
		numberer = CounterNumberer{}
	}
	if wf == nil {
		wf = workflow.New(nil, workflow.GateAdmin)
	}
	s := &Store{
		db:       db,
		prefixes: prefixes,
		numberer: numberer,
		workflow: wf,
		logger:   slog.Default(),
		now:      time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Workflow exposes the state machine the store enforces.
func (s *Store) Workflow() *workflow.Workflow { return s.workflow }

// CreateInput is the first submission of a project.
type CreateInput struct {
	Variant     models.Variant
	BoilerType  string
	GeneralInfo models.SectionData
}

const maxNumberAttempts = 3

// CreateProject validates the general information, allocates a project number
// and stores the project in its initial status together with its general_info section.
func (s *Store) CreateProject(ctx context.Context, creator string, in CreateInput) (string, error) {
	var missing []string
	for _, f := range []string{"client", "site"} {
		if strings.TrimSpace(in.GeneralInfo.Get(f)) == "" {
			missing = append(missing, f)
		}
	}
	if len(missing) > 0 {
		return "", apperr.Missing(models.SectionGeneralInfo, missing...)
	}
	if strings.TrimSpace(creator) == "" {
		return "", apperr.Missing("project", "created_by")
	}
	prefix, err := s.prefixes.Prefix(in.Variant)
	if err != nil {
		return "", err
	}

	boilerType := strings.TrimSpace(in.BoilerType)
	if boilerType == "" {
		boilerType = in.GeneralInfo.Get("boiler_type")
	}

	var projectNo string
	for attempt := 1; ; attempt++ {
		now := s.now()
		projectNo, err = s.create(ctx, prefix, now, func(no string) *models.Project {
			return &models.Project{
				ProjectNo:  no,
				Variant:    in.Variant,
				BoilerType: boilerType,
				Status:     workflow.Initial(),
				CreatedBy:  creator,
				Client:     strings.TrimSpace(in.GeneralInfo.Get("client")),
				Site:       strings.TrimSpace(in.GeneralInfo.Get("site")),
				CreatedAt:  now,
				UpdatedAt:  now,
			}
		}, in.GeneralInfo)
		if errors.Is(err, gorm.ErrDuplicatedKey) && attempt < maxNumberAttempts {
			s.logger.Warn("project number collision, retrying", "attempt", attempt)
			continue
		}
		break
	}
	if err != nil {
		s.logger.Error("❌ create project failed", "variant", in.Variant, "err", err)
		return "", apperr.Persistence("create project", err)
	}

	s.logger.Info("✅ created project", "project_no", projectNo, "variant", in.Variant, "created_by", creator)
	return projectNo, nil
}

func (s *Store) create(ctx context.Context, prefix string, now time.Time, build func(string) *models.Project, general models.SectionData) (string, error) {
	var projectNo string
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		no, err := s.numberer.Next(tx, prefix, now)
		if err != nil {
			return err
		}
		if err := tx.Create(build(no)).Error; err != nil {
			return err
		}
		section := models.ProjectSection{
			ProjectNo:   no,
			SectionName: models.SectionGeneralInfo,
			FieldData:   general.Clone(),
			UpdatedAt:   now,
		}
		if err := tx.Create(&section).Error; err != nil {
			return err
		}
		projectNo = no
		return nil
	})
	return projectNo, err
}

// SaveSection upserts one section of an existing project. Other sections are
// untouched; the most recent write of a section wins.
func (s *Store) SaveSection(ctx context.Context, projectNo, section string, data models.SectionData) error {
	if strings.TrimSpace(section) == "" {
		return apperr.Missing("section", "section_name")
	}
	now := s.now()

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		touch := map[string]any{"updated_at": now}
		if section == models.SectionGeneralInfo {
			touch["client"] = strings.TrimSpace(data.Get("client"))
			touch["site"] = strings.TrimSpace(data.Get("site"))
			if bt := data.Get("boiler_type"); bt != "" {
				touch["boiler_type"] = bt
			}
		}
		res := tx.Model(&models.Project{}).Where("project_no = ?", projectNo).Updates(touch)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return apperr.NotFound("project", projectNo)
		}

		rec := models.ProjectSection{
			ProjectNo:   projectNo,
			SectionName: section,
			FieldData:   data.Clone(),
			UpdatedAt:   now,
		}
		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "project_no"}, {Name: "section_name"}},
			DoUpdates: clause.AssignmentColumns([]string{"field_data", "updated_at"}),
		}).Create(&rec).Error
	})
	if errors.Is(err, apperr.ErrNotFound) {
		return err
	}
	if err != nil {
		s.logger.Error("❌ save section failed", "project_no", projectNo, "section", section, "err", err)
		return apperr.Persistence("save section", err)
	}
	return nil
}

// GetSection returns the stored data of one section.
func (s *Store) GetSection(ctx context.Context, projectNo, section string) (models.SectionData, error) {
	var rec models.ProjectSection
	err := s.db.WithContext(ctx).
		Where("project_no = ? AND section_name = ?", projectNo, section).
		First(&rec).Error
	if err == nil {
		return rec.FieldData, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return models.SectionData{}, apperr.Persistence("get section", err)
	}
	exists, err := s.exists(ctx, projectNo)
	if err != nil {
		return models.SectionData{}, err
	}
	if !exists {
		return models.SectionData{}, apperr.NotFound("project", projectNo)
	}
	return models.SectionData{}, apperr.NotFound("section", section)
}

func (s *Store) exists(ctx context.Context, projectNo string) (bool, error) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&models.Project{}).Where("project_no = ?", projectNo).Count(&count).Error; err != nil {
		return false, apperr.Persistence("check project", err)
	}
	return count > 0, nil
}

// GetProject returns a project with all of its sections. Sections are read in
// one statement so the result is a consistent view of them.
func (s *Store) GetProject(ctx context.Context, projectNo string) (*models.Project, error) {
	var p models.Project
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Preload("Sections", func(db *gorm.DB) *gorm.DB {
			return db.Order("section_name")
		}).Where("project_no = ?", projectNo).First(&p).Error
	})
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.NotFound("project", projectNo)
	}
	if err != nil {
		return nil, apperr.Persistence("get project", err)
	}
	return &p, nil
}

// Sort keys accepted by ListProjects.
const (
	SortCreatedAt = "created_at"
	SortProjectNo = "project_no"
	SortStatus    = "status"
)

// ListFilter narrows ListProjects. A nil CreatedBy means every creator.
type ListFilter struct {
	CreatedBy *string
	Search    string
	Status    models.Status
	Variant   models.Variant
	Sort      string
	Desc      bool
	Limit     int
	Offset    int
}

func (f ListFilter) apply(q *gorm.DB) *gorm.DB {
	if f.CreatedBy != nil {
		q = q.Where("created_by = ?", *f.CreatedBy)
	}
	if term := strings.TrimSpace(f.Search); term != "" {
		like := "%" + escapeLike(strings.ToLower(term)) + "%"
		q = q.Where("(LOWER(project_no) LIKE ? ESCAPE '\\' OR LOWER(client) LIKE ? ESCAPE '\\' OR LOWER(site) LIKE ? ESCAPE '\\')", like, like, like)
	}
	if f.Status != "" {
		q = q.Where("status = ?", f.Status)
	}
	if f.Variant != "" {
		q = q.Where("variant = ?", f.Variant)
	}
	return q
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

// ListProjects returns full project records matching f.
func (s *Store) ListProjects(ctx context.Context, f ListFilter) ([]models.Project, error) {
	col := SortCreatedAt
	switch f.Sort {
	case SortProjectNo, SortStatus:
		col = f.Sort
	case "", SortCreatedAt:
	default:
		return nil, apperr.NewValidation(apperr.Violation{Field: "sort", Reason: apperr.ReasonNotAllowed, Message: "sort must be created_at, project_no or status"})
	}

	q := f.apply(s.db.WithContext(ctx).Model(&models.Project{}))
	q = q.Order(clause.OrderByColumn{Column: clause.Column{Name: col}, Desc: f.Desc}).
		Order(clause.OrderByColumn{Column: clause.Column{Name: "id"}, Desc: f.Desc})
	if f.Limit > 0 {
		q = q.Limit(f.Limit).Offset(f.Offset)
	}

	var out []models.Project
	if err := q.Preload("Sections", func(db *gorm.DB) *gorm.DB {
		return db.Order("section_name")
	}).Find(&out).Error; err != nil {
		return nil, apperr.Persistence("list projects", err)
	}
	return out, nil
}

// UpdateStatus moves a project to a new status when the workflow allows it
// for the caller's role, recording the transition.
func (s *Store) UpdateStatus(ctx context.Context, projectNo string, to models.Status, caller access.Caller, comment string) error {
	now := s.now()
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var p models.Project
		if err := tx.Where("project_no = ?", projectNo).First(&p).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return apperr.NotFound("project", projectNo)
			}
			return err
		}
		if err := s.workflow.Check(p.Status, to, caller.Role); err != nil {
			return err
		}

		// the status guard turns a concurrent change into a refusal instead of a lost update
		res := tx.Model(&models.Project{}).
			Where("project_no = ? AND status = ?", projectNo, p.Status).
			Updates(map[string]any{"status": to, "updated_at": now})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return apperr.NewValidation(apperr.Violation{Field: "status", Reason: apperr.ReasonInvalid, Message: "status was changed concurrently, reload and retry"})
		}

		return tx.Create(&models.StatusTransition{
			ProjectNo:      projectNo,
			FromStatus:     p.Status,
			ToStatus:       to,
			ActorName:      caller.Username,
			ActorRole:      caller.Role,
			Comment:        comment,
			Metadata:       datatypes.JSONMap{"policy": s.workflow.Policy().Name()},
			TransitionedAt: now,
		}).Error
	})

	switch {
	case err == nil:
		s.logger.Info("✅ status changed", "project_no", projectNo, "to", to, "by", caller.Username)
		return nil
	case errors.Is(err, apperr.ErrNotFound), errors.Is(err, apperr.ErrValidation), errors.Is(err, apperr.ErrForbidden):
		return err
	default:
		s.logger.Error("❌ status update failed", "project_no", projectNo, "err", err)
		return apperr.Persistence("update status", err)
	}
}

// History lists a project's status transitions, oldest first.
func (s *Store) History(ctx context.Context, projectNo string) ([]models.StatusTransition, error) {
	exists, err := s.exists(ctx, projectNo)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, apperr.NotFound("project", projectNo)
	}
	var out []models.StatusTransition
	if err := s.db.WithContext(ctx).
		Where("project_no = ?", projectNo).
		Order("transitioned_at, id").
		Find(&out).Error; err != nil {
		return nil, apperr.Persistence("status history", err)
	}
	return out, nil
}

// Stats counts projects per status; every status is present in the result.
func (s *Store) Stats(ctx context.Context, createdBy *string) (map[models.Status]int64, error) {
	var rows []struct {
		Status models.Status
		Count  int64
	}
	q := ListFilter{CreatedBy: createdBy}.apply(s.db.WithContext(ctx).Model(&models.Project{}))
	if err := q.Select("status, COUNT(*) AS count").Group("status").Scan(&rows).Error; err != nil {
		return nil, apperr.Persistence("project stats", err)
	}

	out := make(map[models.Status]int64, len(rows))
	for _, st := range workflow.States() {
		out[st] = 0
	}
	for _, r := range rows {
		out[r.Status] = r.Count
	}
	return out, nil
}
