package handlers

import (
	"net/http"
	"slices"

	"github.com/gorilla/mux"

	"p9e.in/wsm/models"
	"p9e.in/wsm/pkg/apperr"
)

type sectionInfo struct {
	Name   string `json:"name"`
	Title  string `json:"title"`
	Fields int    `json:"fields"`
}

type variantInfo struct {
	Variant  models.Variant `json:"variant"`
	Title    string         `json:"title"`
	Prefix   string         `json:"prefix"`
	Sections []sectionInfo  `json:"sections"`
}

// Variants lists the declared boiler variants and their sections.
func (h *Handler) Variants(w http.ResponseWriter, r *http.Request) {
	out := []variantInfo{}
	for _, v := range h.registry.Variants() {
		vs, err := h.registry.Schema(v)
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		info := variantInfo{Variant: vs.Variant, Title: vs.Title, Prefix: vs.Prefix}
		for _, s := range vs.Sections {
			info.Sections = append(info.Sections, sectionInfo{Name: s.Name, Title: s.Title, Fields: len(s.Ordered())})
		}
		out = append(out, info)
	}
	writeJSON(w, http.StatusOK, out)
}

// Fields returns the supply/services descriptors of a variant, or of the
// section named by ?section=.
func (h *Handler) Fields(w http.ResponseWriter, r *http.Request) {
	variant := models.Variant(mux.Vars(r)["variant"])
	if !slices.Contains(h.registry.Variants(), variant) {
		h.writeError(w, r, apperr.NotFound("variant", string(variant)))
		return
	}
	name := r.URL.Query().Get("section")
	if name == "" {
		name = models.SectionSupplyServices
	}
	sec, err := h.registry.Section(variant, name)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"variant": variant,
		"section": sec.Name,
		"title":   sec.Title,
		"fields":  sec.Ordered(),
		"groups":  sec.Groups,
	})
}

// Templates lists the available report templates.
func (h *Handler) Templates(w http.ResponseWriter, r *http.Request) {
	list, err := h.templates.List()
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}
