package server

import (
	"encoding/xml"
	"fmt"
	"mime"
	"net/http"
	"net/url"
	"os"
	pathpkg "path"
	"path/filepath"
	"strings"
	"time"

	"podcast-timeline/internal/metadata"
	"podcast-timeline/internal/models"
)

func (s *Server) handleFeed(w http.ResponseWriter, r *http.Request) {
	base := requestBaseURL(r)
	if base == nil {
		s.logger.Logf("[ERROR] unable to determine request base URL")
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	data, err := s.buildRSSFeed(base, r.URL.Path, r.URL.RawQuery, s.app.Catalog())
	if err != nil {
		s.logger.Logf("[ERROR] failed to build RSS feed: %v", err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/rss+xml; charset=utf-8")
	if _, err := w.Write(data); err != nil {
		s.logger.Logf("[WARN] failed to write RSS feed: %v", err)
	}
}

func (s *Server) buildRSSFeed(base *url.URL, requestPath, rawQuery string, catalog models.Catalog) ([]byte, error) {
	feedURL := *base
	feedURL.Path = requestPath
	feedURL.RawQuery = rawQuery

	channelLink := *base
	channelLink.Path = ""
	channelLink.RawQuery = ""

	lastBuild := catalog.LoadedAt.UTC()
	if len(catalog.Episodes) > 0 {
		lastBuild = catalog.Episodes[0].PublishedAt.UTC()
	}
	if lastBuild.IsZero() {
		lastBuild = time.Now().UTC()
	}

	rss := rssFeed{
		Version:  "2.0",
		AtomNS:   "http://www.w3.org/2005/Atom",
		ITunesNS: "http://www.itunes.com/dtds/podcast-1.0.dtd",
		Channel: rssChannel{
			Title:         s.feed.Title,
			Link:          channelLink.String(),
			Description:   s.feed.Description,
			Language:      s.feed.Language,
			LastBuildDate: lastBuild.Format(time.RFC1123Z),
			Generator:     "podcast-timeline",
			AtomLink: rssAtomLink{
				Href: feedURL.String(),
				Rel:  "self",
				Type: "application/rss+xml",
			},
			ITunesAuthor: s.feed.Author,
		},
	}

	// catalog episodes are already newest first
	for _, ep := range catalog.Episodes {
		enclosure, ok := s.enclosure(base, ep)
		if !ok {
			s.logger.Logf("[DEBUG] feed: skipping %s, audio %s is not servable", ep.ID, ep.AudioURL)
			continue
		}

		item := rssItem{
			Title:       ep.Title,
			Link:        enclosure.URL,
			GUID:        rssGUID{IsPermaLink: "false", Value: ep.ID},
			PubDate:     ep.PublishedAt.UTC().Format(time.RFC1123Z),
			Description: episodeDescription(ep),
			Enclosure:   enclosure.rssEnclosure,
		}
		if enclosure.duration > 0 {
			item.ITunesDuration = formatDuration(enclosure.duration.Seconds())
		}
		if href := absoluteImage(base, ep.Image); href != "" {
			item.ITunesImage = &rssImage{Href: href}
		}

		if ep.Host != "" {
			item.ITunesAuthor = ep.Host
		} else if s.feed.Author != "" {
			item.ITunesAuthor = s.feed.Author
		}

		rss.Channel.Items = append(rss.Channel.Items, item)
	}

	output, err := xml.MarshalIndent(rss, "", "  ")
	if err != nil {
		return nil, err
	}

	return append([]byte(xml.Header), output...), nil
}

type feedEnclosure struct {
	rssEnclosure
	duration time.Duration
}

// enclosure maps the episode audio to a URL a podcast client can fetch.
// Remote audio is linked as is; local files must live under the audio root.
func (s *Server) enclosure(base *url.URL, ep models.Episode) (feedEnclosure, bool) {
	if u, err := url.Parse(ep.AudioURL); err == nil && (u.Scheme == "http" || u.Scheme == "https") {
		return feedEnclosure{rssEnclosure: rssEnclosure{
			URL:  u.String(),
			Type: mimeTypeForFilename(u.Path),
		}}, true
	}

	if s.audioRoot == "" || !filepath.IsAbs(ep.AudioURL) || !pathWithinRoot(s.audioRoot, ep.AudioURL) {
		return feedEnclosure{}, false
	}
	rel, err := filepath.Rel(s.audioRoot, ep.AudioURL)
	if err != nil {
		return feedEnclosure{}, false
	}
	info, err := os.Stat(ep.AudioURL)
	if err != nil || info.IsDir() {
		return feedEnclosure{}, false
	}

	enclosureURL := *base
	enclosureURL.Path = "/" + strings.TrimLeft(pathpkg.Join("audio", filepath.ToSlash(rel)), "/")
	enclosureURL.RawQuery = ""

	res := feedEnclosure{rssEnclosure: rssEnclosure{
		URL:    enclosureURL.String(),
		Length: info.Size(),
		Type:   mimeTypeForFilename(ep.AudioURL),
	}}
	if probed, err := metadata.Probe(ep.AudioURL); err == nil {
		res.duration = probed.Duration
	}
	return res, true
}

// absoluteImage resolves covers served by this server against base and drops
// references a podcast client cannot fetch.
func absoluteImage(base *url.URL, ref string) string {
	u, err := url.Parse(ref)
	if err != nil || ref == "" {
		return ""
	}
	switch {
	case u.Scheme == "http" || u.Scheme == "https":
		return u.String()
	case u.Scheme == "" && u.Host == "" && strings.HasPrefix(u.Path, "/"):
		if strings.HasPrefix(u.Path, "/assets/") || strings.HasPrefix(u.Path, "/audio/") {
			return base.ResolveReference(&url.URL{Path: u.Path}).String()
		}
	}
	return ""
}

func episodeDescription(ep models.Episode) string {
	if ep.Description != "" {
		return ep.Description
	}
	parts := make([]string, 0, 2)
	if ep.Host != "" {
		parts = append(parts, ep.Host)
	}
	parts = append(parts, ep.Title)
	return strings.Join(parts, " – ")
}

func mimeTypeForFilename(name string) string {
	ext := strings.ToLower(filepath.Ext(name))
	if ext != "" {
		if fallback, ok := fallbackMIMETypes[ext]; ok {
			return fallback
		}
		if value := mime.TypeByExtension(ext); value != "" {
			return value
		}
	}
	return "application/octet-stream"
}

var fallbackMIMETypes = map[string]string{
	".mp3":  "audio/mpeg",
	".m4a":  "audio/mp4",
	".aac":  "audio/aac",
	".flac": "audio/flac",
	".ogg":  "audio/ogg",
}

func formatDuration(seconds float64) string {
	if seconds <= 0 {
		return ""
	}
	total := int64(seconds + 0.5)
	hours := total / 3600
	minutes := (total % 3600) / 60
	secs := total % 60
	return fmt.Sprintf("%02d:%02d:%02d", hours, minutes, secs)
}

type rssFeed struct {
	XMLName  xml.Name   `xml:"rss"`
	Version  string     `xml:"version,attr"`
	AtomNS   string     `xml:"xmlns:atom,attr"`
	ITunesNS string     `xml:"xmlns:itunes,attr"`
	Channel  rssChannel `xml:"channel"`
}

type rssChannel struct {
	Title         string      `xml:"title"`
	Link          string      `xml:"link"`
	Description   string      `xml:"description"`
	Language      string      `xml:"language,omitempty"`
	LastBuildDate string      `xml:"lastBuildDate"`
	Generator     string      `xml:"generator"`
	AtomLink      rssAtomLink `xml:"atom:link"`
	ITunesAuthor  string      `xml:"itunes:author,omitempty"`
	Items         []rssItem   `xml:"item"`
}

type rssAtomLink struct {
	Href string `xml:"href,attr"`
	Rel  string `xml:"rel,attr"`
	Type string `xml:"type,attr"`
}

type rssItem struct {
	Title          string       `xml:"title"`
	Link           string       `xml:"link"`
	GUID           rssGUID      `xml:"guid"`
	PubDate        string       `xml:"pubDate,omitempty"`
	Description    string       `xml:"description"`
	Enclosure      rssEnclosure `xml:"enclosure"`
	ITunesDuration string       `xml:"itunes:duration,omitempty"`
	ITunesAuthor   string       `xml:"itunes:author,omitempty"`
	ITunesImage    *rssImage    `xml:"itunes:image,omitempty"`
}

type rssGUID struct {
	IsPermaLink string `xml:"isPermaLink,attr"`
	Value       string `xml:",chardata"`
}

type rssEnclosure struct {
	URL    string `xml:"url,attr"`
	Length int64  `xml:"length,attr"`
	Type   string `xml:"type,attr"`
}

type rssImage struct {
	Href string `xml:"href,attr"`
}
