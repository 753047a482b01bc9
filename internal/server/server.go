package server

import (
	"context"
	"embed"
	"fmt"
	"html/template"
	"io/fs"
	"log/slog"
	"net"
	"net/http"

	"github.com/esnunes/renderpilot/internal/htmlgen"
	"github.com/esnunes/renderpilot/internal/live"
	"github.com/esnunes/renderpilot/internal/orchestrator"
	"github.com/esnunes/renderpilot/internal/telemetry"
)

//go:embed templates
var templatesFS embed.FS

type Options struct {
	Session   *orchestrator.Session
	Live      *live.Manager
	Bridge    *Bridge
	Converter *htmlgen.Converter
	Telemetry *telemetry.Metrics
	Logger    *slog.Logger
}

type Server struct {
	session   *orchestrator.Session
	live      *live.Manager
	bridge    *Bridge
	conv      *htmlgen.Converter
	telemetry *telemetry.Metrics
	logger    *slog.Logger

	pages   map[string]*template.Template
	handler http.Handler
	httpSrv *http.Server
	ln      net.Listener
	addr    string
}

func New(opts Options) (*Server, error) {
	pages, err := parsePages()
	if err != nil {
		return nil, err
	}

	s := &Server{
		session:   opts.Session,
		live:      opts.Live,
		bridge:    opts.Bridge,
		conv:      opts.Converter,
		telemetry: opts.Telemetry,
		logger:    opts.Logger,
		pages:     pages,
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.conv == nil {
		s.conv = htmlgen.NewConverter()
	}

	mux := http.NewServeMux()

	mux.HandleFunc("GET /{$}", s.handleLedgerPage)
	mux.HandleFunc("GET /sandbox", s.handleSandbox)

	mux.HandleFunc("GET /api/session", s.handleSnapshot)
	mux.HandleFunc("DELETE /api/session", s.handleClear)
	mux.HandleFunc("PUT /api/view", s.handleNavigate)
	mux.HandleFunc("GET /api/context", s.handleContext)

	mux.HandleFunc("GET /api/revisions", s.handleRevisions)
	mux.HandleFunc("POST /api/revisions/{id}/toggle", s.handleToggle)

	mux.HandleFunc("POST /api/visuals", s.handleGenerate)
	mux.HandleFunc("POST /api/messages", s.handleSendMessage)
	mux.HandleFunc("POST /api/messages/{id}/feedback", s.handleFeedback)
	mux.HandleFunc("POST /api/messages/{id}/decline", s.handleDecline)
	mux.HandleFunc("POST /api/uploads", s.handleUpload)
	mux.HandleFunc("POST /api/crop", s.handleCrop)

	mux.HandleFunc("POST /api/render/activate", s.handleActivate)
	mux.HandleFunc("POST /api/render/cancel", s.handleCancelActivation)
	mux.HandleFunc("POST /api/render/confirm", s.handleConfirmRender)
	mux.HandleFunc("POST /api/render/accept", s.handleAccept)
	mux.HandleFunc("POST /api/render/reject", s.handleReject)
	mux.HandleFunc("POST /api/sandbox/refine", s.handleRefine)

	mux.HandleFunc("GET /api/voices", s.handleVoices)
	mux.HandleFunc("GET /api/live", s.handleLiveStatus)
	mux.HandleFunc("POST /api/live/start", s.handleLiveStart)
	mux.HandleFunc("POST /api/live/stop", s.handleLiveStop)
	mux.HandleFunc("PUT /api/live/voice", s.handleLiveVoice)
	if s.bridge != nil {
		mux.Handle("GET /live", s.bridge)
	}

	mux.Handle("GET /metrics", s.telemetry.Handler())

	s.handler = mux
	s.httpSrv = &http.Server{Handler: mux}
	return s, nil
}

// parsePages builds a template for each page by combining layout.html with the page template.
func parsePages() (map[string]*template.Template, error) {
	tmplFS, err := fs.Sub(templatesFS, "templates")
	if err != nil {
		return nil, fmt.Errorf("getting templates subfs: %w", err)
	}

	layoutBytes, err := fs.ReadFile(tmplFS, "layout.html")
	if err != nil {
		return nil, fmt.Errorf("reading layout: %w", err)
	}

	pageNames := []string{"ledger.html"}

	pages := make(map[string]*template.Template, len(pageNames))
	for _, name := range pageNames {
		pageBytes, err := fs.ReadFile(tmplFS, name)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", name, err)
		}

		tmpl, err := template.New("layout.html").Parse(string(layoutBytes))
		if err != nil {
			return nil, fmt.Errorf("parsing layout for %s: %w", name, err)
		}

		if _, err := tmpl.New(name).Parse(string(pageBytes)); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", name, err)
		}

		pages[name] = tmpl
	}
	return pages, nil
}

// Handler returns the routing handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Listen binds the server to addr. An empty addr picks a random local port. Call
// Serve to start handling requests.
func (s *Server) Listen(addr string) error {
	if addr == "" {
		addr = "127.0.0.1:0"
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("binding port: %w", err)
	}
	s.ln = ln
	s.addr = ln.Addr().String()
	return nil
}

// Serve starts handling HTTP requests. Blocks until ctx is cancelled.
func (s *Server) Serve(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		if s.live != nil {
			s.live.Stop()
		}
		s.httpSrv.Shutdown(context.Background())
	}()

	s.logger.Info("Renderpilot running", "url", "http://"+s.addr)

	if err := s.httpSrv.Serve(s.ln); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("serving: %w", err)
	}
	s.logger.Info("Shutting down")
	return nil
}

func (s *Server) Addr() string {
	return s.addr
}

func (s *Server) renderPage(w http.ResponseWriter, name string, data any) {
	tmpl, ok := s.pages[name]
	if !ok {
		s.logger.Error("Template not found", "name", name)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := tmpl.ExecuteTemplate(w, "layout.html", data); err != nil {
		s.logger.Error("Render error", "name", name, "error", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
	}
}
