package catalog

import (
	"bytes"
	"cmp"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/araddon/dateparse"
	"github.com/go-pkgz/lgr"

	"podcast-timeline/internal/config"
	"podcast-timeline/internal/metadata"
	"podcast-timeline/internal/models"
)

const maxPayloadBytes = 32 << 20

// URL prefixes under which the server exposes local files.
const (
	AudioPrefix  = "/audio/"
	AssetsPrefix = "/assets/"
)

// LoadError reports that the catalog source was unreachable or its payload
// was not a sequence of episode records.
type LoadError struct {
	Source string
	Err    error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("load catalog %s: %v", e.Source, e.Err)
}

func (e *LoadError) Unwrap() error {
	return e.Err
}

// Options tune how records are normalized.
type Options struct {
	// Location is the viewer's time zone used for date keys.
	Location *time.Location
	// AudioRoot enables enrichment of episodes whose audio is a local file below it.
	AudioRoot string
	Client    *http.Client
	Logger    lgr.L
	Now       func() time.Time
}

// Loader reads and normalizes the episode catalog from one source.
type Loader struct {
	source config.CatalogSource
	opts   Options
}

// NewLoader creates a Loader for source.
func NewLoader(source config.CatalogSource, opts Options) *Loader {
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.Client == nil {
		opts.Client = &http.Client{Timeout: 30 * time.Second}
	}
	if opts.Logger == nil {
		opts.Logger = lgr.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Loader{source: source, opts: opts}
}

// Source returns the source the loader reads from.
func (l *Loader) Source() config.CatalogSource {
	return l.source
}

// Load fetches the source once and returns the normalized catalog sorted
// newest first. Records without a parseable publishedAt or without audio
// are excluded and logged. LoadedAt is the instant the load started and is
// set on failures too, so consumers can order concurrent results.
func (l *Loader) Load(ctx context.Context) (models.Catalog, error) {
	started := l.opts.Now()
	failed := func(err error) (models.Catalog, error) {
		return models.Catalog{Source: l.source.Location, LoadedAt: started}, &LoadError{Source: l.source.Location, Err: err}
	}

	data, err := l.read(ctx)
	if err != nil {
		return failed(err)
	}

	records, err := decode(data)
	if err != nil {
		return failed(err)
	}

	episodes := make([]models.Episode, 0, len(records))
	seen := make(map[string]struct{}, len(records))
	for i, rec := range records {
		ep, err := l.normalize(rec)
		if err != nil {
			l.opts.Logger.Logf("[WARN] skip record %d (%q): %v", i, rec.Title, err)
			continue
		}
		if _, dup := seen[ep.ID]; dup {
			l.opts.Logger.Logf("[WARN] skip record %d: duplicate id %s", i, ep.ID)
			continue
		}
		seen[ep.ID] = struct{}{}
		episodes = append(episodes, ep)
	}

	sort.SliceStable(episodes, func(i, j int) bool {
		if episodes[i].PublishedAt.Equal(episodes[j].PublishedAt) {
			return episodes[i].ID < episodes[j].ID
		}
		return episodes[i].PublishedAt.After(episodes[j].PublishedAt)
	})

	l.opts.Logger.Logf("[INFO] catalog loaded from %s with %d episodes (%d skipped)",
		l.source.Location, len(episodes), len(records)-len(episodes))

	return models.Catalog{
		Source:   l.source.Location,
		LoadedAt: started,
		Episodes: episodes,
	}, nil
}

func (l *Loader) read(ctx context.Context) ([]byte, error) {
	if !l.source.Remote {
		return os.ReadFile(l.source.Location)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, l.source.Location, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json, application/rss+xml, application/atom+xml;q=0.9, */*;q=0.5")

	resp, err := l.opts.Client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("unexpected http status %d", resp.StatusCode)
	}

	return io.ReadAll(io.LimitReader(resp.Body, maxPayloadBytes))
}

// record is the raw shape of one catalog entry before normalization.
type record struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Host        string `json:"host"`
	Description string `json:"description"`
	Image       string `json:"image"`
	AudioURL    string `json:"audioUrl"`
	Duration    string `json:"duration"`
	PublishedAt string `json:"publishedAt"`
}

func decode(data []byte) ([]record, error) {
	trimmed := bytes.TrimLeft(data, " \t\r\n\ufeff")
	if len(trimmed) == 0 {
		return nil, errors.New("empty payload")
	}

	switch trimmed[0] {
	case '[':
		return decodeJSON(trimmed)
	case '<':
		return decodeFeed(trimmed)
	default:
		return nil, errors.New("payload is not a sequence of episode records")
	}
}

func decodeJSON(data []byte) ([]record, error) {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse episodes: %w", err)
	}

	records := make([]record, 0, len(raw))
	for i, item := range raw {
		item = bytes.TrimSpace(item)
		if len(item) == 0 || item[0] != '{' {
			return nil, fmt.Errorf("episode %d is not an object", i)
		}
		var rec record
		if err := json.Unmarshal(item, &rec); err != nil {
			return nil, fmt.Errorf("episode %d: %w", i, err)
		}
		records = append(records, rec)
	}
	return records, nil
}

func (l *Loader) normalize(rec record) (models.Episode, error) {
	published, err := parseTimestamp(rec.PublishedAt, l.opts.Location)
	if err != nil {
		return models.Episode{}, err
	}

	audio := strings.TrimSpace(rec.AudioURL)
	if audio == "" {
		return models.Episode{}, errors.New("missing audioUrl")
	}
	audio, err = l.resolve(audio)
	if err != nil {
		return models.Episode{}, fmt.Errorf("resolve audioUrl: %w", err)
	}

	ep := models.Episode{
		ID:          strings.TrimSpace(rec.ID),
		Title:       strings.TrimSpace(rec.Title),
		Host:        strings.TrimSpace(rec.Host),
		Description: strings.TrimSpace(rec.Description),
		Image:       strings.TrimSpace(rec.Image),
		AudioURL:    audio,
		Duration:    strings.TrimSpace(rec.Duration),
		PublishedAt: published,
		DateKey:     models.DateKeyOf(published, l.opts.Location),
	}
	if ep.Image != "" {
		if image, err := l.resolve(ep.Image); err == nil {
			ep.Image = l.publicImage(image)
		}
	}
	ep.ID = cmp.Or(ep.ID, episodeID(ep))

	l.enrich(&ep)
	return ep, nil
}

// resolve turns ref into an absolute URL or file path relative to the source.
func (l *Loader) resolve(ref string) (string, error) {
	u, err := url.Parse(ref)
	if err != nil {
		return "", err
	}

	if l.source.Remote {
		base, err := url.Parse(l.source.Location)
		if err != nil {
			return "", err
		}
		return base.ResolveReference(u).String(), nil
	}

	// Single-letter schemes are drive letters.
	if u.Scheme != "" && len(u.Scheme) > 1 {
		return u.String(), nil
	}
	if filepath.IsAbs(ref) {
		return filepath.Clean(ref), nil
	}
	return filepath.Join(filepath.Dir(l.source.Location), filepath.FromSlash(ref)), nil
}

// publicImage maps a local cover file to the path the server exposes it on:
// files below the audio root under AudioPrefix, files next to the catalog
// under AssetsPrefix. Other references are returned unchanged.
func (l *Loader) publicImage(ref string) string {
	if l.source.Remote || !filepath.IsAbs(ref) {
		return ref
	}
	roots := []struct{ dir, prefix string }{
		{l.opts.AudioRoot, AudioPrefix},
		{filepath.Dir(l.source.Location), AssetsPrefix},
	}
	for _, root := range roots {
		if root.dir == "" || !pathWithinRoot(root.dir, ref) {
			continue
		}
		rel, err := filepath.Rel(root.dir, ref)
		if err != nil || rel == "." {
			continue
		}
		return (&url.URL{Path: root.prefix + filepath.ToSlash(rel)}).String()
	}
	return ref
}

func (l *Loader) enrich(ep *models.Episode) {
	root := l.opts.AudioRoot
	if root == "" || !filepath.IsAbs(ep.AudioURL) || !pathWithinRoot(root, ep.AudioURL) {
		return
	}
	if ep.Duration != "" && ep.Host != "" && ep.Title != "" {
		return
	}

	info, err := metadata.Probe(ep.AudioURL)
	if err != nil {
		l.opts.Logger.Logf("[WARN] probe %s: %v", ep.AudioURL, err)
		return
	}
	ep.Title = cmp.Or(ep.Title, info.Title)
	ep.Host = cmp.Or(ep.Host, info.Artist)
	ep.Duration = cmp.Or(ep.Duration, metadata.FormatDuration(info.Duration))
}

func parseTimestamp(value string, loc *time.Location) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, errors.New("missing publishedAt")
	}
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t, nil
	}
	t, err := dateparse.ParseIn(value, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("unparseable publishedAt %q: %w", value, err)
	}
	return t, nil
}

func episodeID(ep models.Episode) string {
	sum := sha256.Sum256([]byte(ep.AudioURL + "|" + ep.PublishedAt.UTC().Format(time.RFC3339)))
	return hex.EncodeToString(sum[:8])
}

func pathWithinRoot(root, target string) bool {
	rel, err := filepath.Rel(root, target)
	if err != nil {
		return false
	}
	rel = filepath.ToSlash(rel)
	return rel != ".." && !strings.HasPrefix(rel, "../")
}
