package handlers

import (
	"encoding/json"
	"net/http"
	"slices"
	"strconv"
	"strings"

	"github.com/gorilla/mux"

	"p9e.in/wsm/middleware"
	"p9e.in/wsm/models"
	"p9e.in/wsm/pkg/access"
	"p9e.in/wsm/pkg/apperr"
	"p9e.in/wsm/pkg/projects"
	"p9e.in/wsm/pkg/workflow"
)

type createProjectReq struct {
	Variant     string          `json:"variant" validate:"required"`
	BoilerType  string          `json:"boiler_type"`
	GeneralInfo json.RawMessage `json:"general_info" validate:"required"`
}

// CreateProject validates general information and starts a new worksheet.
func (h *Handler) CreateProject(w http.ResponseWriter, r *http.Request) {
	var req createProjectReq
	if err := decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	variant := models.Variant(req.Variant)
	if !slices.Contains(h.registry.Variants(), variant) {
		h.writeError(w, r, apperr.NewValidation(apperr.Violation{
			Field:   "variant",
			Reason:  apperr.ReasonNotAllowed,
			Message: req.Variant + " is not a known variant",
		}))
		return
	}
	sec, err := h.registry.Section(variant, models.SectionGeneralInfo)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	general, err := parseSectionData(bytesReader(req.GeneralInfo))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	general = sec.Normalize(general)
	if strings.TrimSpace(general.Get("wsm_type")) == "" {
		general.Fields["wsm_type"] = string(variant)
	}
	if vs := sec.Validate(general); len(vs) > 0 {
		h.writeError(w, r, apperr.NewValidation(vs...))
		return
	}

	caller := middleware.GetCaller(r)
	no, err := h.projects.CreateProject(r.Context(), caller.Username, projects.CreateInput{
		Variant:     variant,
		BoilerType:  req.BoilerType,
		GeneralInfo: general,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"project_no": no,
		"status":     workflow.Initial(),
	})
}

// listFilter reads the shared list query parameters and applies the caller's visibility.
func listFilter(r *http.Request) (projects.ListFilter, error) {
	q := r.URL.Query()
	f := projects.ListFilter{
		CreatedBy: access.VisibilityFilter(middleware.GetCaller(r)),
		Search:    q.Get("search"),
		Status:    models.Status(q.Get("status")),
		Variant:   models.Variant(q.Get("variant")),
		Sort:      q.Get("sort"),
		Desc:      q.Get("order") == "desc",
	}

	var vs []apperr.Violation
	for _, p := range []struct {
		name string
		dst  *int
	}{{"limit", &f.Limit}, {"offset", &f.Offset}} {
		s := q.Get(p.name)
		if s == "" {
			continue
		}
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			vs = append(vs, apperr.Violation{Field: p.name, Reason: apperr.ReasonInvalid, Message: p.name + " must be a non-negative integer"})
			continue
		}
		*p.dst = n
	}
	if len(vs) > 0 {
		return f, apperr.NewValidation(vs...)
	}
	return f, nil
}

// ListProjects returns the projects the caller may see.
func (h *Handler) ListProjects(w http.ResponseWriter, r *http.Request) {
	f, err := listFilter(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	list, err := h.projects.ListProjects(r.Context(), f)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if list == nil {
		list = []models.Project{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"projects": list,
		"count":    len(list),
	})
}

// viewable loads a project and checks the caller may see it, answering the
// request itself when not.
func (h *Handler) viewable(w http.ResponseWriter, r *http.Request, projectNo string) (*models.Project, bool) {
	p, err := h.projects.GetProject(r.Context(), projectNo)
	if err != nil {
		h.writeError(w, r, err)
		return nil, false
	}
	if !access.AuthorizeView(middleware.GetCaller(r), p) {
		http.Error(w, "forbidden", http.StatusForbidden)
		return nil, false
	}
	return p, true
}

// GetProject returns a project with all of its sections.
func (h *Handler) GetProject(w http.ResponseWriter, r *http.Request) {
	p, ok := h.viewable(w, r, mux.Vars(r)["project_no"])
	if !ok {
		return
	}
	caller := middleware.GetCaller(r)
	next := []models.Status{}
	if h.access.AuthorizeStatusChange(caller) {
		next = append(next, h.projects.Workflow().Next(p.Status, caller.Role)...)
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"project":     p,
		"next_status": next,
	})
}

type statusReq struct {
	Status  string `json:"status" validate:"required"`
	Comment string `json:"comment" validate:"max=2000"`
}

// UpdateStatus moves a project through the workflow.
func (h *Handler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	projectNo := mux.Vars(r)["project_no"]
	var req statusReq
	if err := decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	caller := middleware.GetCaller(r)
	if !h.access.AuthorizeStatusChange(caller) {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}
	if _, ok := h.viewable(w, r, projectNo); !ok {
		return
	}

	to := models.Status(req.Status)
	if err := h.projects.UpdateStatus(r.Context(), projectNo, to, caller, req.Comment); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"project_no":  projectNo,
		"status":      to,
		"next_status": h.projects.Workflow().Next(to, caller.Role),
	})
}

// History lists a project's status transitions, oldest first.
func (h *Handler) History(w http.ResponseWriter, r *http.Request) {
	projectNo := mux.Vars(r)["project_no"]
	if _, ok := h.viewable(w, r, projectNo); !ok {
		return
	}
	events, err := h.projects.History(r.Context(), projectNo)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if events == nil {
		events = []models.StatusTransition{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"project_no": projectNo,
		"history":    events,
	})
}

// Stats counts visible projects per status.
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	counts, err := h.projects.Stats(r.Context(), access.VisibilityFilter(middleware.GetCaller(r)))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	var total int64
	for _, n := range counts {
		total += n
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"counts": counts,
		"total":  total,
	})
}
