package handlers

import (
	"log/slog"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"

	"p9e.in/wsm/pkg/apperr"
)

var errInvalidJSON = errors.New("invalid JSON")

// violations converts validator output into the shared violation list.
func violations(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	out := make([]apperr.Violation, 0, len(verrs))
	for _, fe := range verrs {
		v := apperr.Violation{Field: fe.Field()}
		switch fe.Tag() {
		case "required":
			v.Reason = apperr.ReasonMissing
			v.Message = fe.Field() + " is required"
		case "oneof":
			v.Reason = apperr.ReasonNotAllowed
			v.Message = fe.Field() + " must be one of " + fe.Param()
		default:
			v.Reason = apperr.ReasonInvalid
			v.Message = fe.Field() + " is invalid"
		}
		out = append(out, v)
	}
	return apperr.NewValidation(out...)
}

type errorBody struct {
	Error      string             `json:"error"`
	Violations []apperr.Violation `json:"violations,omitempty"`
}

// writeError maps the error taxonomy onto status codes. Persistence, render
// and schema failures are logged with their cause and answered generically.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var verr *apperr.ValidationError
	switch {
	case errors.Is(err, errInvalidJSON):
		http.Error(w, "invalid JSON", http.StatusBadRequest)
	case errors.As(err, &verr):
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "validation failed", Violations: verr.Violations})
	case errors.Is(err, apperr.ErrNotFound):
		var nf *apperr.NotFoundError
		msg := "not found"
		if errors.As(err, &nf) {
			msg = nf.Kind + " not found"
		}
		http.Error(w, msg, http.StatusNotFound)
	case errors.Is(err, apperr.ErrForbidden):
		http.Error(w, "forbidden", http.StatusForbidden)
	case errors.Is(err, apperr.ErrRender):
		h.log(r, err).Error("❌ report could not be produced")
		w.Header().Set("Retry-After", "5")
		http.Error(w, "report could not be generated, please retry", http.StatusServiceUnavailable)
	case errors.Is(err, apperr.ErrPersistence):
		h.log(r, err).Error("❌ storage failure")
		http.Error(w, "storage error, please retry", http.StatusInternalServerError)
	case errors.Is(err, apperr.ErrSchema):
		h.log(r, err).Error("❌ schema configuration error")
		http.Error(w, "configuration error", http.StatusInternalServerError)
	default:
		h.log(r, err).Error("❌ unexpected error")
		http.Error(w, "internal server error", http.StatusInternalServerError)
	}
}

func (h *Handler) log(r *http.Request, err error) *slog.Logger {
	return h.logger.With("method", r.Method, "path", r.URL.Path, "err", err)
}
