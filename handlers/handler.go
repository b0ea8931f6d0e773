// Package handlers exposes the WSM store, registry, workflow and renderer over HTTP.
package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"p9e.in/wsm/middleware"
	"p9e.in/wsm/pkg/access"
	"p9e.in/wsm/pkg/projects"
	"p9e.in/wsm/pkg/report"
	"p9e.in/wsm/pkg/schema"
)

// V validates request DTOs. Field names in violations are the json names.
var V = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Deps are the services a Handler serves.
type Deps struct {
	Projects  *projects.Store
	Registry  *schema.Registry
	Access    *access.Service
	Tokens    *middleware.TokenIssuer
	Renderer  *report.Renderer
	Templates *report.Templates
	Logger    *slog.Logger
	Now       func() time.Time
}

// Handler holds the HTTP endpoints.
type Handler struct {
	projects  *projects.Store
	registry  *schema.Registry
	access    *access.Service
	tokens    *middleware.TokenIssuer
	renderer  *report.Renderer
	templates *report.Templates
	logger    *slog.Logger
	now       func() time.Time
}

func New(d Deps) *Handler {
	h := &Handler{
		projects:  d.Projects,
		registry:  d.Registry,
		access:    d.Access,
		tokens:    d.Tokens,
		renderer:  d.Renderer,
		templates: d.Templates,
		logger:    d.Logger,
		now:       d.Now,
	}
	if h.logger == nil {
		h.logger = slog.Default()
	}
	if h.now == nil {
		h.now = time.Now
	}
	return h
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// decode reads a JSON body into a DTO and validates it.
func decode(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return errInvalidJSON
	}
	if err := V.Struct(v); err != nil {
		return violations(err)
	}
	return nil
}
