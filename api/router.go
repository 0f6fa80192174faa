package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	oasis "github.com/nevindra/runcore"
	"github.com/nevindra/runcore/sandbox"
	"github.com/nevindra/runcore/settings"
)

// skillsNotConfigured answers every /skills route when no skill root or
// sandbox runner was wired.
func skillsNotConfigured(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusServiceUnavailable, map[string]string{
		"code":    "SKILLS_NOT_CONFIGURED",
		"message": "skills root or sandbox runner is not configured",
	})
}

// Deps are the collaborators NewRouter wires into the Run API and Skill
// API. SkillsRoot/WorkspaceRoot/Runner may be left zero if this process
// never serves skill invocations (e.g. a worker-only deployment embedding
// only the Run API for its own emit-message callback).
type Deps struct {
	Store         oasis.Store
	Runner        *sandbox.Runner
	SkillsRoot    string
	WorkspaceRoot string
	CORSOrigins   []string

	// Emit is the chat-emitter collaborator behind the internal
	// emit-message callback. May be nil.
	Emit func(ctx context.Context, run oasis.Run)
}

// NewRouter builds the chi router serving the Run API and Skill API.
func NewRouter(deps Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	origins := deps.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	runs := RunHandlers{Store: deps.Store, Emit: deps.Emit}
	r.Route("/runs", func(r chi.Router) {
		r.Post("/", runs.create)
		r.Get("/", runs.list)
		r.Get("/{id}", runs.get)
		r.Post("/{id}/cancel", runs.cancel)
		r.Delete("/{id}", runs.delete)
	})
	r.Route("/internal/runs", func(r chi.Router) {
		r.Post("/{id}/emit-message", runs.emitMessage)
	})

	if deps.Runner != nil && deps.SkillsRoot != "" {
		skills := NewSkillHandlers(deps.Runner, deps.SkillsRoot, deps.WorkspaceRoot)
		r.Route("/skills", func(r chi.Router) {
			r.Get("/", skills.list)
			r.Post("/{id}/invoke", skills.invoke)
		})
	} else {
		r.Route("/skills", func(r chi.Router) {
			r.HandleFunc("/*", skillsNotConfigured)
			r.HandleFunc("/", skillsNotConfigured)
		})
	}

	r.Get("/healthz", func(w http.ResponseWriter, req *http.Request) {
		writeJSON(w, http.StatusOK, settings.Probe(req.Context(), deps.WorkspaceRoot, time.Now()))
	})

	return r
}
