package server

import (
	"bytes"
	"embed"
	"html/template"
	"net/http"
	"strings"

	"podcast-timeline/internal/app"
	"podcast-timeline/internal/locale"
)

//go:embed templates/*.html
var templateFS embed.FS

var pageTemplates = template.Must(template.New("").Funcs(template.FuncMap{
	"cover": coverURL,
}).ParseFS(templateFS, "templates/*.html"))

type pageData struct {
	Lang        string
	Title       string
	SearchLabel string
	Render      app.Render
}

// coverURL lets the inline placeholder through the URL sanitizer; other
// references are escaped as usual.
func coverURL(ref string) any {
	if strings.HasPrefix(ref, "data:image/svg+xml") {
		return template.URL(ref)
	}
	return ref
}

func (s *Server) handleIndex(w http.ResponseWriter, _ *http.Request) {
	data := pageData{
		Lang:        s.locale.Tag().String(),
		Title:       s.feed.Title,
		SearchLabel: s.locale.T(locale.MsgSearch),
		Render:      s.app.Snapshot(),
	}

	var buf bytes.Buffer
	if err := pageTemplates.ExecuteTemplate(&buf, "page", data); err != nil {
		s.logger.Logf("[ERROR] failed to render page: %v", err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if _, err := w.Write(buf.Bytes()); err != nil {
		s.logger.Logf("[WARN] failed to write page: %v", err)
	}
}

func (s *Server) renderFragments(r app.Render) fragments {
	return fragments{
		Timeline: s.fragment("timeline", r.Timeline),
		Panel:    s.fragment("panel", r.Player),
		Toasts:   s.fragment("toasts", r.Notifications),
	}
}

func (s *Server) fragment(name string, data any) *string {
	var buf bytes.Buffer
	if err := pageTemplates.ExecuteTemplate(&buf, name, data); err != nil {
		s.logger.Logf("[ERROR] failed to render %s fragment: %v", name, err)
		return nil
	}
	html := buf.String()
	return &html
}
