package catalog

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-pkgz/lgr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"podcast-timeline/internal/config"
)

const sampleCatalog = `[
  {"title": "Middag", "host": "Foobar Radio", "description": "d2", "image": "https://img.example/2.jpg",
   "audioUrl": "https://cdn.example/2.mp3", "duration": "30 min", "publishedAt": "2024-01-02T14:00:00Z"},
  {"id": "first", "title": "Ochtend", "host": "BNR", "description": "d1", "image": "https://img.example/1.jpg",
   "audioUrl": "https://cdn.example/1.mp3", "duration": "25 min", "publishedAt": "2024-01-02T09:00:00Z"},
  {"title": "Gisteren", "host": "BNR", "audioUrl": "https://cdn.example/0.mp3", "publishedAt": "2024-01-01T10:00:00Z"}
]`

func writeCatalog(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, "episodes.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func fileLoader(path string, opts Options) *Loader {
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.Logger == nil {
		opts.Logger = lgr.NoOp
	}
	return NewLoader(config.CatalogSource{Location: path}, opts)
}

func TestLoadSortsNewestFirstAndDerivesKeys(t *testing.T) {
	path := writeCatalog(t, t.TempDir(), sampleCatalog)
	now := time.Date(2024, 1, 3, 8, 0, 0, 0, time.UTC)

	catalog, err := fileLoader(path, Options{Now: func() time.Time { return now }}).Load(context.Background())
	require.NoError(t, err)
	require.Len(t, catalog.Episodes, 3)

	assert.Equal(t, path, catalog.Source)
	assert.Equal(t, now, catalog.LoadedAt)

	titles := []string{catalog.Episodes[0].Title, catalog.Episodes[1].Title, catalog.Episodes[2].Title}
	assert.Equal(t, []string{"Middag", "Ochtend", "Gisteren"}, titles)

	assert.Equal(t, "2024-01-02", catalog.Episodes[0].DateKey)
	assert.Equal(t, "2024-01-01", catalog.Episodes[2].DateKey)
	assert.Equal(t, "first", catalog.Episodes[1].ID, "explicit ids are kept")
	assert.NotEmpty(t, catalog.Episodes[0].ID, "missing ids are derived")
	assert.NotEqual(t, catalog.Episodes[0].ID, catalog.Episodes[2].ID)
}

func TestLoadDateKeyUsesViewerLocation(t *testing.T) {
	path := writeCatalog(t, t.TempDir(), `[
	  {"title": "late", "audioUrl": "https://cdn.example/a.mp3", "publishedAt": "2024-01-01T23:30:00Z"},
	  {"title": "offset", "audioUrl": "https://cdn.example/b.mp3", "publishedAt": "2024-01-02T00:30:00+02:00"}
	]`)
	amsterdam := time.FixedZone("CET", 3600)

	catalog, err := fileLoader(path, Options{Location: amsterdam}).Load(context.Background())
	require.NoError(t, err)
	require.Len(t, catalog.Episodes, 2)

	byTitle := map[string]string{}
	for _, ep := range catalog.Episodes {
		byTitle[ep.Title] = ep.DateKey
	}
	assert.Equal(t, "2024-01-02", byTitle["late"])
	assert.Equal(t, "2024-01-01", byTitle["offset"])
}

func TestLoadExcludesRecordsWithoutTimestampOrAudio(t *testing.T) {
	path := writeCatalog(t, t.TempDir(), `[
	  {"title": "ok", "audioUrl": "https://cdn.example/ok.mp3", "publishedAt": "2024-01-02 09:00:00"},
	  {"title": "no date", "audioUrl": "https://cdn.example/x.mp3"},
	  {"title": "bad date", "audioUrl": "https://cdn.example/y.mp3", "publishedAt": "not a date"},
	  {"title": "no audio", "publishedAt": "2024-01-02T09:00:00Z"}
	]`)

	catalog, err := fileLoader(path, Options{}).Load(context.Background())
	require.NoError(t, err)
	require.Len(t, catalog.Episodes, 1)
	assert.Equal(t, "ok", catalog.Episodes[0].Title)
	assert.Equal(t, time.Date(2024, 1, 2, 9, 0, 0, 0, time.UTC), catalog.Episodes[0].PublishedAt.UTC())
}

func TestLoadSkipsDuplicateIDs(t *testing.T) {
	path := writeCatalog(t, t.TempDir(), `[
	  {"id": "same", "title": "a", "audioUrl": "https://cdn.example/a.mp3", "publishedAt": "2024-01-02T09:00:00Z"},
	  {"id": "same", "title": "b", "audioUrl": "https://cdn.example/b.mp3", "publishedAt": "2024-01-02T10:00:00Z"}
	]`)

	catalog, err := fileLoader(path, Options{}).Load(context.Background())
	require.NoError(t, err)
	require.Len(t, catalog.Episodes, 1)
	assert.Equal(t, "a", catalog.Episodes[0].Title)
}

func TestLoadRejectsMalformedPayloads(t *testing.T) {
	cases := map[string]string{
		"empty":       "   ",
		"object":      `{"episodes": []}`,
		"not objects": `["a", "b"]`,
		"bad json":    `[{"title": "x",]`,
		"wrong type":  `[{"title": 12}]`,
		"plain text":  "hello",
	}

	for name, content := range cases {
		t.Run(name, func(t *testing.T) {
			path := writeCatalog(t, t.TempDir(), content)
			_, err := fileLoader(path, Options{}).Load(context.Background())
			require.Error(t, err)

			var loadErr *LoadError
			require.True(t, errors.As(err, &loadErr))
			assert.Equal(t, path, loadErr.Source)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing.json")
	now := time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)
	catalog, err := fileLoader(path, Options{Now: func() time.Time { return now }}).Load(context.Background())

	var loadErr *LoadError
	require.True(t, errors.As(err, &loadErr))
	assert.True(t, errors.Is(err, os.ErrNotExist))
	assert.Empty(t, catalog.Episodes)
	assert.Equal(t, now, catalog.LoadedAt, "failed loads are stamped too")
}

func TestLoadResolvesRelativeReferencesAgainstFile(t *testing.T) {
	dir := t.TempDir()
	path := writeCatalog(t, dir, `[
	  {"title": "local", "image": "covers/a.jpg", "audioUrl": "audio/a.mp3", "publishedAt": "2024-01-02T09:00:00Z"},
	  {"title": "remote", "audioUrl": "https://cdn.example/b.mp3", "publishedAt": "2024-01-02T08:00:00Z"}
	]`)

	catalog, err := fileLoader(path, Options{}).Load(context.Background())
	require.NoError(t, err)
	require.Len(t, catalog.Episodes, 2)

	assert.Equal(t, filepath.Join(dir, "audio", "a.mp3"), catalog.Episodes[0].AudioURL)
	assert.Equal(t, "/assets/covers/a.jpg", catalog.Episodes[0].Image, "local covers are served next to the catalog")
	assert.Equal(t, "https://cdn.example/b.mp3", catalog.Episodes[1].AudioURL)
}

func TestLoadMapsLocalCoversToServedPaths(t *testing.T) {
	dir := t.TempDir()
	audioRoot := filepath.Join(dir, "audio")
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "data"), 0o755))
	path := writeCatalog(t, filepath.Join(dir, "data"), `[
	  {"title": "a", "image": "../audio/show/cover art.jpg", "audioUrl": "https://cdn.example/a.mp3", "publishedAt": "2024-01-02T09:00:00Z"},
	  {"title": "b", "image": "/elsewhere/b.jpg", "audioUrl": "https://cdn.example/b.mp3", "publishedAt": "2024-01-02T08:00:00Z"},
	  {"title": "c", "image": "https://img.example/c.jpg", "audioUrl": "https://cdn.example/c.mp3", "publishedAt": "2024-01-02T07:00:00Z"},
	  {"title": "d", "image": "img/d.png", "audioUrl": "https://cdn.example/d.mp3", "publishedAt": "2024-01-02T06:00:00Z"}
	]`)

	catalog, err := fileLoader(path, Options{AudioRoot: audioRoot}).Load(context.Background())
	require.NoError(t, err)
	require.Len(t, catalog.Episodes, 4)

	assert.Equal(t, "/audio/show/cover%20art.jpg", catalog.Episodes[0].Image)
	assert.Equal(t, "/elsewhere/b.jpg", catalog.Episodes[1].Image, "unservable files are left to the placeholder")
	assert.Equal(t, "https://img.example/c.jpg", catalog.Episodes[2].Image)
	assert.Equal(t, "/assets/img/d.png", catalog.Episodes[3].Image)
}

func TestLoadEnrichesLocalAudio(t *testing.T) {
	dir := t.TempDir()
	audioRoot := filepath.Join(dir, "audio")
	require.NoError(t, os.MkdirAll(audioRoot, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(audioRoot, "Episode One.wav"), []byte("audio"), 0o644))

	path := writeCatalog(t, dir, `[
	  {"host": "BNR", "audioUrl": "audio/Episode One.wav", "publishedAt": "2024-01-02T09:00:00Z"}
	]`)

	catalog, err := fileLoader(path, Options{AudioRoot: audioRoot}).Load(context.Background())
	require.NoError(t, err)
	require.Len(t, catalog.Episodes, 1)
	assert.Equal(t, "Episode One", catalog.Episodes[0].Title)
	assert.Equal(t, "BNR", catalog.Episodes[0].Host)
}

func TestLoadRemoteJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/data/episodes.json":
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`[{"title": "a", "audioUrl": "../audio/a.mp3", "publishedAt": "2024-01-02T09:00:00Z"}]`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(srv.Close)

	loader := NewLoader(config.CatalogSource{Location: srv.URL + "/data/episodes.json", Remote: true},
		Options{Location: time.UTC, Logger: lgr.NoOp, Client: srv.Client()})

	catalog, err := loader.Load(context.Background())
	require.NoError(t, err)
	require.Len(t, catalog.Episodes, 1)
	assert.Equal(t, srv.URL+"/audio/a.mp3", catalog.Episodes[0].AudioURL)

	missing := NewLoader(config.CatalogSource{Location: srv.URL + "/nope.json", Remote: true},
		Options{Location: time.UTC, Logger: lgr.NoOp, Client: srv.Client()})
	_, err = missing.Load(context.Background())
	var loadErr *LoadError
	assert.True(t, errors.As(err, &loadErr))
}

const sampleFeed = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0" xmlns:itunes="http://www.itunes.com/dtds/podcast-1.0.dtd">
  <channel>
    <title>BNR</title>
    <itunes:author>BNR Nieuwsradio</itunes:author>
    <itunes:image href="https://img.example/feed.jpg"/>
    <item>
      <guid>ep-1</guid>
      <title>Ochtendshow</title>
      <description>Het nieuws</description>
      <pubDate>Tue, 02 Jan 2024 09:00:00 +0000</pubDate>
      <itunes:duration>00:42:10</itunes:duration>
      <enclosure url="https://cdn.example/1.mp3" length="100" type="audio/mpeg"/>
    </item>
    <item>
      <guid>ep-2</guid>
      <title>Zonder datum</title>
      <enclosure url="https://cdn.example/2.mp3" length="100" type="audio/mpeg"/>
    </item>
  </channel>
</rss>`

func TestLoadRSSFeed(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "feed.xml")
	require.NoError(t, os.WriteFile(path, []byte(sampleFeed), 0o644))

	catalog, err := fileLoader(path, Options{}).Load(context.Background())
	require.NoError(t, err)
	require.Len(t, catalog.Episodes, 1, "items without a date are excluded")

	ep := catalog.Episodes[0]
	assert.Equal(t, "ep-1", ep.ID)
	assert.Equal(t, "Ochtendshow", ep.Title)
	assert.Equal(t, "BNR Nieuwsradio", ep.Host)
	assert.Equal(t, "https://img.example/feed.jpg", ep.Image)
	assert.Equal(t, "https://cdn.example/1.mp3", ep.AudioURL)
	assert.Equal(t, "42 min", ep.Duration)
	assert.Equal(t, "2024-01-02", ep.DateKey)
}

func TestFeedDuration(t *testing.T) {
	assert.Equal(t, "", feedDuration(""))
	assert.Equal(t, "60 min", feedDuration("3600"))
	assert.Equal(t, "59 min", feedDuration("59:10"))
	assert.Equal(t, "62 min", feedDuration("1:02:03"))
	assert.Equal(t, "about an hour", feedDuration("about an hour"))
	assert.Equal(t, "0", feedDuration("0"))
}
