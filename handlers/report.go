package handlers

import (
	"fmt"
	"net/http"

	"github.com/gorilla/mux"

	"p9e.in/wsm/pkg/export"
)

// Report renders the project worksheet as a PDF download.
func (h *Handler) Report(w http.ResponseWriter, r *http.Request) {
	projectNo := mux.Vars(r)["project_no"]
	if _, ok := h.viewable(w, r, projectNo); !ok {
		return
	}

	doc, err := h.renderer.Render(r.Context(), projectNo)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", doc.ContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%s", doc.Filename))
	w.Header().Set("Content-Length", fmt.Sprintf("%d", len(doc.Data)))
	w.Header().Set("X-Render-Engine", doc.Engine)
	w.WriteHeader(http.StatusOK)
	w.Write(doc.Data)
}

// registerTitle names the exported project register.
const registerTitle = "WSM Register"

// Export downloads the visible project list as xlsx (default) or csv.
func (h *Handler) Export(w http.ResponseWriter, r *http.Request) {
	format, err := export.ParseFormat(r.URL.Query().Get("format"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
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

	now := h.now()
	data, err := export.Write(format, registerTitle, list, now)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", format.ContentType())
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%s", export.Filename(registerTitle, format, now)))
	w.Header().Set("Content-Length", fmt.Sprintf("%d", len(data)))
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}
