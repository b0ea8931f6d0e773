package routes

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"p9e.in/wsm/handlers"
	"p9e.in/wsm/middleware"
	"p9e.in/wsm/models"
)

// RegisterRoutes sets up all application routes
func RegisterRoutes(h *handlers.Handler, tokens *middleware.TokenIssuer) http.Handler {
	r := mux.NewRouter()

	// =====================================================
	// Public Routes (no authentication)
	// =====================================================
	r.HandleFunc("/health", health).Methods("GET")
	r.HandleFunc("/api/v1/login", h.Login).Methods("POST")

	// =====================================================
	// Protected API Routes (require JWT authentication)
	// =====================================================
	api := r.PathPrefix("/api/v1").Subrouter()
	api.Use(tokens.JWTMiddleware)

	api.HandleFunc("/me", h.Me).Methods("GET")

	// Form schema
	api.HandleFunc("/variants", h.Variants).Methods("GET")
	api.HandleFunc("/variants/{variant}/fields", h.Fields).Methods("GET")
	api.HandleFunc("/templates", h.Templates).Methods("GET")

	registerProjectRoutes(api, h)

	// =====================================================
	// Admin Routes (require admin role)
	// =====================================================
	admins := []models.Role{models.RoleAdmin}
	api.Handle("/users", middleware.RequireRole(admins, http.HandlerFunc(h.CreateUser))).Methods("POST")

	return r
}

func registerProjectRoutes(api *mux.Router, h *handlers.Handler) {
	api.HandleFunc("/projects", h.CreateProject).Methods("POST")
	api.HandleFunc("/projects", h.ListProjects).Methods("GET")
	// fixed paths before {project_no}
	api.HandleFunc("/projects/stats", h.Stats).Methods("GET")
	api.HandleFunc("/projects/export", h.Export).Methods("GET")

	api.HandleFunc("/projects/{project_no}", h.GetProject).Methods("GET")
	api.HandleFunc("/projects/{project_no}/sections/{section}", h.SaveSection).Methods("PUT")
	api.HandleFunc("/projects/{project_no}/sections/{section}", h.GetSection).Methods("GET")
	api.HandleFunc("/projects/{project_no}/status", h.UpdateStatus).Methods("PUT")
	api.HandleFunc("/projects/{project_no}/history", h.History).Methods("GET")
	api.HandleFunc("/projects/{project_no}/report", h.Report).Methods("GET")
}

func health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}
