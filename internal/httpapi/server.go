package httpapi

import (
	"context"
	"net"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/MimeLyc/stories-now/internal/documents"
	"github.com/MimeLyc/stories-now/internal/jobs"
	"github.com/MimeLyc/stories-now/internal/presenter"
)

// JobSource is the tracked job history.
type JobSource interface {
	List() []*jobs.Job
	Get(id string) (*jobs.Job, bool)
}

// DocumentSource is the cached document list.
type DocumentSource interface {
	Documents() []documents.Document
	FetchedAt() time.Time
}

// Canceller stops polling a job without touching the backend job.
type Canceller interface {
	Get(jobID string) (*jobs.Handle, bool)
}

// Server exposes presenter state to local UIs. It only reads; polling stays in the jobs package.
type Server struct {
	jobs      JobSource
	events    *presenter.EventBus
	documents DocumentSource
	cancel    Canceller

	uiEnabled   bool
	uiStaticDir string

	mux    *http.ServeMux
	server *http.Server
}

type Option func(*Server)

func WithUI(staticDir string, enabled bool) Option {
	return func(s *Server) {
		s.uiStaticDir = staticDir
		s.uiEnabled = enabled
	}
}

func WithDocuments(docs DocumentSource) Option {
	return func(s *Server) {
		s.documents = docs
	}
}

func WithCanceller(c Canceller) Option {
	return func(s *Server) {
		s.cancel = c
	}
}

func NewServer(jobSource JobSource, events *presenter.EventBus, opts ...Option) *Server {
	s := &Server{
		jobs:   jobSource,
		events: events,
		mux:    http.NewServeMux(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.routes()
	s.server = &http.Server{
		Handler:           s.mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

func (s *Server) Handler() http.Handler {
	return s.mux
}

// ListenAndServe blocks until Shutdown. Once shut down it returns http.ErrServerClosed immediately.
func (s *Server) ListenAndServe(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.server.Serve(ln)
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) routes() {
	s.mux.HandleFunc("/healthz", s.handleHealth)
	s.mux.HandleFunc("/api/jobs", s.handleJobs)
	s.mux.HandleFunc("/api/jobs/", s.handleJob)
	s.mux.HandleFunc("/api/events", s.handleEvents)
	s.mux.HandleFunc("/api/documents", s.handleDocuments)
	s.mux.HandleFunc("/", s.handleStatic)
}

func (s *Server) handleStatic(w http.ResponseWriter, r *http.Request) {
	if !s.uiEnabled || s.uiStaticDir == "" {
		http.NotFound(w, r)
		return
	}

	rel := strings.TrimPrefix(path.Clean(r.URL.Path), "/")
	indexPath := filepath.Join(s.uiStaticDir, "index.html")

	if rel == "" || !strings.Contains(filepath.Base(rel), ".") {
		http.ServeFile(w, r, indexPath)
		return
	}

	filePath := filepath.Join(s.uiStaticDir, rel)
	if _, err := os.Stat(filePath); err != nil {
		// client-side routes fall back to the index
		http.ServeFile(w, r, indexPath)
		return
	}
	http.ServeFile(w, r, filePath)
}
