package handlers

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"p9e.in/wsm/models"
	"p9e.in/wsm/pkg/apperr"
)

// parseSectionData accepts either the structured form
// {"fields": {...}, "groups": {"gensets": [...]}} or a flat name/value object.
// Numbers and booleans are kept as their literal text.
func parseSectionData(body io.Reader) (models.SectionData, error) {
	var raw map[string]any
	dec := json.NewDecoder(body)
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		return models.SectionData{}, errInvalidJSON
	}

	fields, structured := raw["fields"].(map[string]any)
	if !structured {
		return models.NewSectionData(stringMap(raw)), nil
	}

	data := models.NewSectionData(stringMap(fields))
	groups, _ := raw["groups"].(map[string]any)
	for name, v := range groups {
		list, ok := v.([]any)
		if !ok {
			return models.SectionData{}, apperr.NewValidation(apperr.Violation{Field: "groups." + name, Reason: apperr.ReasonInvalid, Message: "group must be a list of objects"})
		}
		entries := make([]models.GroupEntry, 0, len(list))
		for _, item := range list {
			m, ok := item.(map[string]any)
			if !ok {
				return models.SectionData{}, apperr.NewValidation(apperr.Violation{Field: "groups." + name, Reason: apperr.ReasonInvalid, Message: "group must be a list of objects"})
			}
			entries = append(entries, models.GroupEntry(stringMap(m)))
		}
		if data.Groups == nil {
			data.Groups = map[string][]models.GroupEntry{}
		}
		data.Groups[name] = entries
	}
	return data, nil
}

func bytesReader(b []byte) io.Reader { return bytes.NewReader(b) }

func stringMap(m map[string]any) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		switch t := v.(type) {
		case nil:
			out[k] = ""
		case string:
			out[k] = t
		case json.Number:
			out[k] = t.String()
		case bool:
			out[k] = strconv.FormatBool(t)
		default:
			b, _ := json.Marshal(t)
			out[k] = string(bytes.TrimSpace(b))
		}
	}
	return out
}

// SaveSection upserts one section after normalizing and validating it
// against the project's variant.
func (h *Handler) SaveSection(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	projectNo, name := vars["project_no"], vars["section"]

	p, ok := h.viewable(w, r, projectNo)
	if !ok {
		return
	}
	sec, err := h.registry.Section(p.Variant, name)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	data, err := parseSectionData(r.Body)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	data = sec.Normalize(data)
	if vs := sec.Validate(data); len(vs) > 0 {
		h.writeError(w, r, apperr.NewValidation(vs...))
		return
	}

	if err := h.projects.SaveSection(r.Context(), projectNo, name, data); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"project_no": projectNo,
		"section":    name,
		"data":       data,
	})
}

// GetSection returns a stored section.
func (h *Handler) GetSection(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	projectNo, name := vars["project_no"], vars["section"]

	if _, ok := h.viewable(w, r, projectNo); !ok {
		return
	}
	data, err := h.projects.GetSection(r.Context(), projectNo, name)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"project_no": projectNo,
		"section":    name,
		"data":       data,
	})
}
