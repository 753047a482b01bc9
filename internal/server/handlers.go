package server

import (
	"context"
	"encoding/json"
	"errors"
	"html/template"
	"net/http"
	"strings"
	"time"

	"github.com/esnunes/renderpilot/internal/audio"
	"github.com/esnunes/renderpilot/internal/chat"
	"github.com/esnunes/renderpilot/internal/live"
	"github.com/esnunes/renderpilot/internal/models"
	"github.com/esnunes/renderpilot/internal/orchestrator"
	"github.com/esnunes/renderpilot/internal/provider"
)

// maxBody bounds request bodies; uploads arrive as data URLs.
const maxBody = 32 << 20

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("Writing response", "error", err)
	}
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, orchestrator.ErrRevisionNotFound), errors.Is(err, chat.ErrMessageNotFound):
		return http.StatusNotFound
	case orchestrator.IsInputError(err), errors.Is(err, chat.ErrInvalidFeedback), errors.Is(err, live.ErrUnknownVoice):
		return http.StatusBadRequest
	case orchestrator.IsGateError(err), errors.Is(err, chat.ErrFeedbackSet), errors.Is(err, audio.ErrNoDevice):
		return http.StatusConflict
	case errors.Is(err, audio.ErrPermissionDenied):
		return http.StatusForbidden
	case errors.Is(err, provider.ErrMissingAPIKey):
		return http.StatusServiceUnavailable
	case errors.Is(err, provider.ErrTimeout):
		return http.StatusGatewayTimeout
	default:
		return http.StatusBadGateway
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("Request failed", "error", err)
	}
	s.writeJSON(w, status, errorResponse{Error: err.Error()})
}

func (s *Server) readJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBody)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body: " + err.Error()})
		return false
	}
	return true
}

// detached keeps a pipeline running after the client goes away. Results land in
// the session either way.
func detached(r *http.Request) context.Context {
	return context.WithoutCancel(r.Context())
}

type imageInput struct {
	URL      string `json:"url"`
	MIMEType string `json:"mimeType"`
}

func (in *imageInput) image() *models.Image {
	if in == nil || in.URL == "" {
		return nil
	}
	mime := in.MIMEType
	if mime == "" {
		mime = provider.MediaType(in.URL)
	}
	return &models.Image{URL: in.URL, MIMEType: mime}
}

type ledgerPage struct {
	State     string
	View      models.View
	Revisions []revisionView
}

type revisionView struct {
	Version          int
	Kind             models.Kind
	Timestamp        time.Time
	Confirmed        bool
	DescriptionHTML  template.HTML
	PreviewURL       template.URL
	OutputPreviewURL template.URL
}

// imageURL admits only inline images and http(s) links into templates.
func imageURL(u string) template.URL {
	if strings.HasPrefix(u, "data:image/") || strings.HasPrefix(u, "https://") || strings.HasPrefix(u, "http://") {
		return template.URL(u)
	}
	return ""
}

func (s *Server) describe(rev models.Revision) string {
	out, err := s.conv.HTML(rev.Description)
	if err != nil {
		s.logger.Warn("Rendering revision description", "version", rev.Version, "error", err)
		return template.HTMLEscapeString(rev.Description)
	}
	return out
}

func (s *Server) handleLedgerPage(w http.ResponseWriter, r *http.Request) {
	snap := s.session.Snapshot()
	page := ledgerPage{State: snap.Render.State, View: snap.View}
	// Newest first.
	for i := len(snap.Revisions) - 1; i >= 0; i-- {
		rev := snap.Revisions[i]
		page.Revisions = append(page.Revisions, revisionView{
			Version:          rev.Version,
			Kind:             rev.Kind(),
			Timestamp:        rev.Timestamp,
			Confirmed:        rev.Confirmed,
			DescriptionHTML:  template.HTML(s.describe(rev)),
			PreviewURL:       imageURL(rev.PreviewURL()),
			OutputPreviewURL: imageURL(rev.OutputPreviewURL()),
		})
	}
	s.renderPage(w, "ledger.html", page)
}

const sandboxPolicy = "sandbox allow-scripts allow-forms allow-popups"

// handleSandbox serves the confirmed layout, or the layout awaiting confirmation
// with ?pending=1.
func (s *Server) handleSandbox(w http.ResponseWriter, r *http.Request) {
	snap := s.session.Snapshot()
	doc := snap.Render.ConfirmedRenderHTML
	if r.URL.Query().Get("pending") != "" {
		doc = snap.Render.RenderedHTML
	}
	if doc == "" {
		http.Error(w, "No layout in the sandbox yet.", http.StatusNotFound)
		return
	}
	// Generated pages run scripts but get an opaque origin, so they cannot reach
	// the API with the user's session.
	w.Header().Set("Content-Security-Policy", sandboxPolicy)
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write([]byte(doc))
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.session.Snapshot())
}

func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	s.session.Clear()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleNavigate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		View models.View `json:"view"`
	}
	if !s.readJSON(w, r, &req) {
		return
	}
	if err := s.session.Navigate(req.View); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, s.session.Snapshot())
}

func (s *Server) handleContext(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Write([]byte(s.session.SessionContext()))
}

type revisionEntry struct {
	Revision        models.Revision `json:"revision"`
	DescriptionHTML string          `json:"descriptionHtml"`
}

func (s *Server) handleRevisions(w http.ResponseWriter, r *http.Request) {
	revs := s.session.Snapshot().Revisions
	kind := models.Kind(r.URL.Query().Get("type"))
	out := make([]revisionEntry, 0, len(revs))
	for _, rev := range revs {
		if kind != "" && rev.Kind() != kind {
			continue
		}
		out = append(out, revisionEntry{Revision: rev, DescriptionHTML: s.describe(rev)})
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleToggle(w http.ResponseWriter, r *http.Request) {
	if err := s.session.ToggleConfirmed(r.PathValue("id")); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Prompt string `json:"prompt"`
	}
	if !s.readJSON(w, r, &req) {
		return
	}
	rev, err := s.session.GenerateVisual(detached(r), req.Prompt)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, rev)
}

type messageRequest struct {
	Text  string      `json:"text"`
	Image *imageInput `json:"image,omitempty"`
}

func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	var req messageRequest
	if !s.readJSON(w, r, &req) {
		return
	}
	msg, err := s.session.SendChat(detached(r), req.Text, req.Image.image())
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, msg)
}

func (s *Server) handleFeedback(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Signal models.Feedback `json:"signal"`
	}
	if !s.readJSON(w, r, &req) {
		return
	}
	if err := s.session.Feedback(r.PathValue("id"), req.Signal); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDecline(w http.ResponseWriter, r *http.Request) {
	if err := s.session.DeclineVisual(r.PathValue("id")); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	var req imageInput
	if !s.readJSON(w, r, &req) {
		return
	}
	img := req.image()
	if img == nil {
		s.writeError(w, orchestrator.ErrNoSourceImage)
		return
	}
	msg, err := s.session.AnalyzeUpload(detached(r), *img)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, msg)
}

func (s *Server) handleCrop(w http.ResponseWriter, r *http.Request) {
	var req struct {
		URL string `json:"url"`
	}
	if !s.readJSON(w, r, &req) {
		return
	}
	out, err := s.session.CropImage(detached(r), req.URL)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"url": out})
}

func (s *Server) handleActivate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RevisionID string `json:"revisionId"`
	}
	if !s.readJSON(w, r, &req) {
		return
	}
	if err := s.session.ActivateRender(req.RevisionID); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, s.session.Snapshot())
}

func (s *Server) handleCancelActivation(w http.ResponseWriter, r *http.Request) {
	s.session.CancelRenderActivation()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleConfirmRender(w http.ResponseWriter, r *http.Request) {
	if err := s.session.ConfirmRender(detached(r)); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, s.session.Snapshot())
}

type changedResponse struct {
	Changed bool `json:"changed"`
}

func (s *Server) handleAccept(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, changedResponse{Changed: s.session.AcceptRender()})
}

func (s *Server) handleReject(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, changedResponse{Changed: s.session.RejectRender()})
}

func (s *Server) handleRefine(w http.ResponseWriter, r *http.Request) {
	var req messageRequest
	if !s.readJSON(w, r, &req) {
		return
	}
	if err := s.session.RefineSandbox(detached(r), req.Text, req.Image.image()); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, s.session.Snapshot())
}

func (s *Server) handleVoices(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, live.Voices())
}

func (s *Server) requireLive(w http.ResponseWriter) bool {
	if s.live == nil {
		s.writeError(w, provider.ErrMissingAPIKey)
		return false
	}
	return true
}

func (s *Server) handleLiveStatus(w http.ResponseWriter, r *http.Request) {
	if !s.requireLive(w) {
		return
	}
	s.writeJSON(w, http.StatusOK, liveStatusResponse{
		Status:          s.live.Status(),
		BrowserAttached: s.bridge != nil && s.bridge.Attached(),
	})
}

type liveStatusResponse struct {
	live.Status
	BrowserAttached bool `json:"browserAttached"`
}

func (s *Server) handleLiveStart(w http.ResponseWriter, r *http.Request) {
	if !s.requireLive(w) {
		return
	}
	if err := s.live.Start(detached(r)); err != nil {
		status := s.live.Status()
		s.writeJSON(w, statusFor(err), errorResponse{Error: status.Error})
		return
	}
	s.writeJSON(w, http.StatusOK, s.live.Status())
}

func (s *Server) handleLiveStop(w http.ResponseWriter, r *http.Request) {
	if !s.requireLive(w) {
		return
	}
	s.live.Stop()
	s.writeJSON(w, http.StatusOK, s.live.Status())
}

func (s *Server) handleLiveVoice(w http.ResponseWriter, r *http.Request) {
	if !s.requireLive(w) {
		return
	}
	var req struct {
		ID string `json:"id"`
	}
	if !s.readJSON(w, r, &req) {
		return
	}
	if err := s.live.SetVoice(detached(r), req.ID); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, s.live.Status())
}
