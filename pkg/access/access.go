// Package access authenticates users and decides what a caller may see or change.
package access

import (
	"context"
	"log/slog"
	"strings"

	"github.com/pkg/errors"
	"gorm.io/gorm"

	"p9e.in/wsm/models"
	"p9e.in/wsm/pkg/apperr"
	"p9e.in/wsm/pkg/workflow"
)

// Caller is the authenticated identity attached to one request.
type Caller struct {
	Username string      `json:"username"`
	Role     models.Role `json:"role"`
}

// IsAdmin checks the caller's role
func (c Caller) IsAdmin() bool { return c.Role == models.RoleAdmin }

type ctxKey int

const callerKey ctxKey = iota

// WithCaller returns a context carrying c.
func WithCaller(ctx context.Context, c Caller) context.Context {
	return context.WithValue(ctx, callerKey, c)
}

// CallerFrom extracts the caller set by WithCaller.
func CallerFrom(ctx context.Context) (Caller, bool) {
	c, ok := ctx.Value(callerKey).(Caller)
	return c, ok
}

// Service owns the users table.
type Service struct {
	db       *gorm.DB
	hasher   *Hasher
	workflow *workflow.Workflow
	logger   *slog.Logger
}

func NewService(db *gorm.DB, hasher *Hasher, wf *workflow.Workflow, logger *slog.Logger) *Service {
	if hasher == nil {
		hasher = NewHasher(DefaultHashParams)
	}
	if wf == nil {
		wf = workflow.New(nil, workflow.GateAdmin)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{db: db, hasher: hasher, workflow: wf, logger: logger}
}

// Authenticate checks a username/password pair. A wrong password or unknown
// user yields ok=false with a nil error; err is only set for storage failures.
func (s *Service) Authenticate(ctx context.Context, username, password string) (Caller, bool, error) {
	var user models.User
	err := s.db.WithContext(ctx).Where("username = ?", strings.TrimSpace(username)).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Caller{}, false, nil
	}
	if err != nil {
		return Caller{}, false, apperr.Persistence("load user", err)
	}

	ok, rehash, err := s.hasher.Verify(password, user.PasswordHash)
	if err != nil {
		s.logger.Warn("unverifiable password hash", "username", user.Username, "err", err)
		return Caller{}, false, nil
	}
	if !ok {
		return Caller{}, false, nil
	}

	if rehash {
		s.upgradeHash(ctx, &user, password)
	}
	return Caller{Username: user.Username, Role: user.Role}, true, nil
}

func (s *Service) upgradeHash(ctx context.Context, user *models.User, password string) {
	hash, err := s.hasher.Hash(password)
	if err != nil {
		s.logger.Warn("rehash failed", "username", user.Username, "err", err)
		return
	}
	if err := s.db.WithContext(ctx).Model(user).Update("password_hash", hash).Error; err != nil {
		s.logger.Warn("storing upgraded hash failed", "username", user.Username, "err", err)
		return
	}
	s.logger.Info("upgraded legacy password hash", "username", user.Username)
}

// NewUser is the input of CreateUser.
type NewUser struct {
	Username string
	Password string
	Email    string
	Role     models.Role
}

// CreateUser stores a new account. Duplicate usernames are validation errors.
func (s *Service) CreateUser(ctx context.Context, in NewUser) (*models.User, error) {
	in.Username = strings.TrimSpace(in.Username)
	var missing []string
	if in.Username == "" {
		missing = append(missing, "username")
	}
	if in.Password == "" {
		missing = append(missing, "password")
	}
	if len(missing) > 0 {
		return nil, apperr.Missing("user", missing...)
	}
	if in.Role == "" {
		in.Role = models.RoleUser
	}
	if !in.Role.Valid() {
		return nil, apperr.NewValidation(apperr.Violation{Section: "user", Field: "role", Reason: apperr.ReasonNotAllowed, Message: "role must be admin or user"})
	}

	hash, err := s.hasher.Hash(in.Password)
	if err != nil {
		return nil, err
	}
	user := &models.User{
		Username:     in.Username,
		PasswordHash: hash,
		Email:        strings.TrimSpace(in.Email),
		Role:         in.Role,
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&models.User{}).Where("username = ?", user.Username).Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return errDuplicate
		}
		return tx.Create(user).Error
	})
	if errors.Is(err, errDuplicate) || errors.Is(err, gorm.ErrDuplicatedKey) {
		return nil, apperr.NewValidation(apperr.Violation{Section: "user", Field: "username", Reason: apperr.ReasonInvalid, Message: "username already exists"})
	}
	if err != nil {
		return nil, apperr.Persistence("create user", err)
	}
	return user, nil
}

var errDuplicate = errors.New("duplicate username")

// Bootstrap seeds the first admin account. It does nothing once a user named
// username exists and reports whether an account was created.
func (s *Service) Bootstrap(ctx context.Context, username, password, email string) (bool, error) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&models.User{}).Where("username = ?", username).Count(&count).Error; err != nil {
		return false, apperr.Persistence("check bootstrap admin", err)
	}
	if count > 0 {
		return false, nil
	}
	if _, err := s.CreateUser(ctx, NewUser{Username: username, Password: password, Email: email, Role: models.RoleAdmin}); err != nil {
		return false, err
	}
	s.logger.Warn("⚠️ seeded default admin account, rotate its password", "username", username)
	return true, nil
}

// AuthorizeView lets admins see every project and users only their own.
func AuthorizeView(c Caller, p *models.Project) bool {
	if p == nil {
		return false
	}
	return c.IsAdmin() || (c.Username != "" && p.CreatedBy == c.Username)
}

// AuthorizeStatusChange applies the configured status-change gate.
func (s *Service) AuthorizeStatusChange(c Caller) bool {
	return s.workflow.CanChange(c.Role)
}

// VisibilityFilter returns the creator restriction list queries must apply for c;
// nil means no restriction.
func VisibilityFilter(c Caller) *string {
	if c.IsAdmin() {
		return nil
	}
	owner := c.Username
	return &owner
}
