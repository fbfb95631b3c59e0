package server

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"os"
	pathpkg "path"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-pkgz/lgr"

	"podcast-timeline/internal/app"
	"podcast-timeline/internal/locale"
	"podcast-timeline/internal/models"
	"podcast-timeline/internal/notify"
	"podcast-timeline/internal/playback"
	"podcast-timeline/internal/timeline"
)

const maxEventBytes = 64 << 10

// App is the application state the HTTP handlers drive.
type App interface {
	Dispatch(ctx context.Context, ev app.Event) (app.Render, error)
	Snapshot() app.Render
	Visible(filter *timeline.FilterState) []models.Episode
	Catalog() models.Catalog
	Subscribe(fn func(app.Render))
}

// FeedMetadata describes the static information necessary to render the RSS feed.
type FeedMetadata struct {
	Title       string
	Description string
	Language    string
	Author      string
}

// Options configure the HTTP surface.
type Options struct {
	// AudioRoot is served under /audio/. Empty disables it.
	AudioRoot string
	// AssetRoot holds the catalog's local covers, served under /assets/.
	// Empty disables it.
	AssetRoot string
	Feed      FeedMetadata
	Locale    locale.Locale
	Logger    lgr.L
}

// Server is the HTTP handler of the player page, its event API, the
// websocket push channel and the RSS feed.
type Server struct {
	http.Handler

	app       App
	audioRoot string
	assetRoot string
	feed      FeedMetadata
	locale    locale.Locale
	logger    lgr.L
	hub       *hub

	// last timeline fragment pushed, guarded by the app lock
	lastTimeline string
}

type fragments struct {
	Timeline *string `json:"timeline,omitempty"`
	Panel    *string `json:"panel,omitempty"`
	Toasts   *string `json:"toasts,omitempty"`
}

type eventResponse struct {
	app.Render
	Fragments fragments `json:"fragments"`
	Error     string    `json:"error,omitempty"`
}

type playerResponse struct {
	Player        playback.Panel        `json:"player"`
	Session       *playback.Metadata    `json:"session,omitempty"`
	Actions       []playback.Action     `json:"actions"`
	Notifications []notify.Notification `json:"notifications"`
}

// New creates the server and subscribes its websocket hub to a.
func New(a App, opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = lgr.Default()
	}

	absRoot := func(kind, root string) string {
		if root == "" {
			return ""
		}
		cleanRoot := filepath.Clean(root)
		abs, err := filepath.Abs(cleanRoot)
		if err != nil {
			opts.Logger.Logf("[WARN] unable to resolve absolute %s root %q: %v", kind, root, err)
			return cleanRoot
		}
		return abs
	}

	if opts.Feed.Title == "" {
		opts.Feed.Title = "Podcast Timeline"
	}
	if opts.Feed.Description == "" {
		opts.Feed.Description = opts.Feed.Title
	}

	s := &Server{
		app:       a,
		audioRoot: absRoot("audio", opts.AudioRoot),
		assetRoot: absRoot("asset", opts.AssetRoot),
		feed:      opts.Feed,
		locale:    opts.Locale,
		logger:    opts.Logger,
	}
	s.hub = newHub(opts.Logger)
	a.Subscribe(s.publish)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.handleIndex)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("POST /events", s.handleEvents)
	mux.HandleFunc("GET /episodes", s.handleEpisodes)
	mux.HandleFunc("GET /player", s.handlePlayer)
	mux.HandleFunc("POST /player/action/{name}", s.handlePlayerAction)
	mux.HandleFunc("GET /ws", s.handleSocket)
	mux.HandleFunc("GET /feed", s.handleFeed)
	mux.HandleFunc("GET /feed.xml", s.handleFeed)
	mux.HandleFunc("GET /rss", s.handleFeed)
	mux.HandleFunc("GET /audio/", s.handleAudio)
	mux.HandleFunc("GET /assets/", s.handleAssets)

	s.Handler = logRequests(mux, opts.Logger)
	return s
}

// Close disconnects all websocket clients.
func (s *Server) Close() {
	s.hub.close()
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"}, s.logger)
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	var ev app.Event
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxEventBytes)).Decode(&ev); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid event: " + err.Error()}, s.logger)
		return
	}

	render, err := s.dispatch(r.Context(), ev)
	resp := eventResponse{Render: render}
	if err != nil {
		resp.Error = err.Error()
	}
	resp.Fragments = s.renderFragments(render)
	writeJSON(w, statusFor(err), resp, s.logger)
}

func (s *Server) handleEpisodes(w http.ResponseWriter, r *http.Request) {
	var filter *timeline.FilterState
	query := r.URL.Query()
	if query.Has("date") || query.Has("q") {
		filter = &timeline.FilterState{DateKey: query.Get("date"), SearchText: query.Get("q")}
	}
	writeJSON(w, http.StatusOK, s.app.Visible(filter), s.logger)
}

func (s *Server) handlePlayer(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, playerView(s.app.Snapshot()), s.logger)
}

func (s *Server) handlePlayerAction(w http.ResponseWriter, r *http.Request) {
	render, err := s.app.Dispatch(r.Context(), app.Event{Type: app.EventMediaAction, Action: r.PathValue("name")})
	if errors.Is(err, playback.ErrUnsupportedAction) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()}, s.logger)
		return
	}
	writeJSON(w, statusFor(err), playerView(render), s.logger)
}

func (s *Server) handleAudio(w http.ResponseWriter, r *http.Request) {
	s.serveWithin(w, r, s.audioRoot, "/audio/")
}

func (s *Server) handleAssets(w http.ResponseWriter, r *http.Request) {
	s.serveWithin(w, r, s.assetRoot, "/assets/")
}

// serveWithin serves the file the path below prefix names inside root.
func (s *Server) serveWithin(w http.ResponseWriter, r *http.Request, root, prefix string) {
	if root == "" {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	rel := strings.TrimPrefix(r.URL.Path, prefix)
	rel = pathpkg.Clean(rel)
	rel = strings.TrimPrefix(rel, "/")
	if rel == "" || rel == "." {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	target := filepath.Join(root, filepath.FromSlash(rel))
	resolved, err := filepath.Abs(target)
	if err != nil {
		s.logger.Logf("[ERROR] failed to resolve path %s: %v", target, err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	if !pathWithinRoot(root, resolved) {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	info, err := os.Stat(resolved)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		s.logger.Logf("[ERROR] failed to stat file %s: %v", resolved, err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	if info.IsDir() {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	http.ServeFile(w, r, resolved)
}

// dispatch accepts only client event types.
func (s *Server) dispatch(ctx context.Context, ev app.Event) (app.Render, error) {
	if ev.Type == app.EventEngine || ev.Type == app.EventCatalog {
		return s.app.Snapshot(), fmt.Errorf("%w: %q is internal", app.ErrUnknownEvent, ev.Type)
	}
	return s.app.Dispatch(ctx, ev)
}

func playerView(r app.Render) playerResponse {
	return playerResponse{
		Player:        r.Player,
		Session:       r.Session,
		Actions:       r.Actions,
		Notifications: r.Notifications,
	}
}

func statusFor(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, app.ErrUnknownEvent):
		return http.StatusBadRequest
	case errors.Is(err, app.ErrUnknownEpisode), errors.Is(err, playback.ErrUnsupportedAction):
		return http.StatusNotFound
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	default:
		return http.StatusBadGateway
	}
}

func writeJSON(w http.ResponseWriter, status int, v any, logger lgr.L) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Logf("[WARN] failed to encode response: %v", err)
	}
}

func requestBaseURL(r *http.Request) *url.URL {
	scheme := "http"
	if forwarded := strings.TrimSpace(r.Header.Get("X-Forwarded-Proto")); forwarded != "" {
		parts := strings.Split(forwarded, ",")
		if candidate := strings.TrimSpace(parts[0]); candidate != "" {
			scheme = candidate
		}
	} else if r.TLS != nil {
		scheme = "https"
	}

	host := strings.TrimSpace(r.Host)
	if host == "" {
		return nil
	}

	return &url.URL{Scheme: scheme, Host: host}
}

type statusWriter struct {
	http.ResponseWriter
	status int
	size   int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	n, err := w.ResponseWriter.Write(b)
	w.size += n
	return n, err
}

// Hijack exposes the underlying connection for the websocket upgrade.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	return h.Hijack()
}

func logRequests(next http.Handler, logger lgr.L) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(sw, r)
		duration := time.Since(start)
		logger.Logf("[DEBUG] %s %s -> %d (%dB) in %s", r.Method, r.URL.Path, sw.status, sw.size, duration)
	})
}

func pathWithinRoot(root, target string) bool {
	rel, err := filepath.Rel(root, target)
	if err != nil {
		return false
	}
	rel = filepath.ToSlash(rel)
	return rel != ".." && !strings.HasPrefix(rel, "../")
}
