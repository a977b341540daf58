// It defines the API server, sets up the routes (endpoints)
// using chi, and links them to the handler functions.

package api

import (
	"io/fs"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/vrsandeep/comicvault/internal/core"
	"github.com/vrsandeep/comicvault/internal/store"
)

// Server holds the dependencies for our API.
type Server struct {
	app    *core.App
	store  *store.Store
	logger *zap.Logger
}

// Store returns the store instance.
func (s *Server) Store() *store.Store {
	return s.store
}

// NewServer creates a new Server instance.
func NewServer(app *core.App) *Server {
	logger := app.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		app:    app,
		store:  app.Store,
		logger: logger.Named("http"),
	}
}

// Router sets up and returns the main router for the application.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.RequestLogger)
	r.Use(middleware.Recoverer)

	r.Post("/api/users/login", s.handleLogin)
	r.Get("/api/version", s.handleGetVersion)
	r.Get("/api/health", s.handleHealth)
	r.Handle("/metrics", s.app.Metrics.Handler())

	r.Group(func(r chi.Router) {
		r.Use(s.AuthMiddleware)

		r.Post("/api/users/logout", s.handleLogout)
		r.Get("/api/users/me", s.handleGetMe)

		r.Route("/api/admin", func(r chi.Router) {
			r.Use(s.AdminOnlyMiddleware)

			r.Get("/jobs/status", s.handleGetAdminJobsStatus)
			r.Post("/jobs/run", s.handleRunAdminJob)

			// Seeding runs may outlive the usual request timeout when wait=true.
			r.Post("/seed", s.handleRunSeed)
			r.Get("/seed/status", s.handleGetSeedStatus)
		})

		r.With(s.AdminOnlyMiddleware).Get("/ws/admin/progress", func(w http.ResponseWriter, r *http.Request) {
			s.app.WsHub.ServeWs(w, r)
		})
	})

	// Media: downloaded uploads and locally authored images by their public
	// path, plus the whole root under /media.
	root := http.Dir(s.app.Media.Resolver().Root())
	uploads := "/" + strings.Trim(s.app.Config.Media.UploadsDir, "/") + "/"
	if uploads == "//" {
		uploads = "/uploads/"
	}
	r.Group(func(r chi.Router) {
		r.Use(middleware.SetHeader("Cache-Control", "public, max-age=86400"))
		r.Use(middleware.Timeout(60 * time.Second))
		FileServer(r, uploads, root)
		FileServer(r, "/images/", root)
		r.Handle("/media/*", http.StripPrefix("/media", http.FileServer(noDirFS{root})))
	})

	return r
}

// FileServer conveniently sets up a static file server that doesn't list directories.
// The path prefix is kept, so path maps directly onto root.
func FileServer(r chi.Router, path string, root http.FileSystem) {
	fs := http.FileServer(noDirFS{root})
	r.Get(path+"*", func(w http.ResponseWriter, r *http.Request) {
		fs.ServeHTTP(w, r)
	})
}

// noDirFS hides directories so http.FileServer never renders a listing.
type noDirFS struct {
	fs http.FileSystem
}

func (n noDirFS) Open(name string) (http.File, error) {
	f, err := n.fs.Open(name)
	if err != nil {
		return nil, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	if info.IsDir() {
		f.Close()
		return nil, fs.ErrNotExist
	}
	return f, nil
}
