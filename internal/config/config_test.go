package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveCatalogSource(t *testing.T) {
	src, err := ResolveCatalogSource("https://example.com/data/episodes.json")
	require.NoError(t, err)
	assert.True(t, src.Remote)
	assert.Equal(t, "https://example.com/data/episodes.json", src.Location)

	temp := t.TempDir()
	t.Setenv("HOME", temp)

	src, err = ResolveCatalogSource("~/episodes.json")
	require.NoError(t, err)
	assert.False(t, src.Remote)
	assert.Equal(t, filepath.Join(temp, "episodes.json"), src.Location)

	_, err = ResolveCatalogSource("   ")
	assert.Error(t, err)

	_, err = ResolveCatalogSource("http://")
	assert.Error(t, err)
}

func TestResolveAudioRoot(t *testing.T) {
	path, err := ResolveAudioRoot("")
	require.NoError(t, err)
	assert.Empty(t, path, "empty value disables local audio")

	temp := t.TempDir()
	t.Setenv("HOME", temp)

	path, err = ResolveAudioRoot("~/episodes")
	require.NoError(t, err)
	assertSamePath(t, path, filepath.Join(temp, "episodes"))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestValidateListenAddr(t *testing.T) {
	for _, addr := range []string{"127.0.0.1:8080", "localhost:9000", "[::1]:7000"} {
		assert.NoError(t, ValidateListenAddr(addr), addr)
	}

	for _, addr := range []string{"0.0.0.0:80", "192.168.1.1:1234", ":8080"} {
		assert.Error(t, ValidateListenAddr(addr), addr)
	}
}

func TestResolveLocation(t *testing.T) {
	loc, err := ResolveLocation("")
	require.NoError(t, err)
	assert.Equal(t, time.Local, loc)

	loc, err = ResolveLocation("Local")
	require.NoError(t, err)
	assert.Equal(t, time.Local, loc)

	loc, err = ResolveLocation("UTC")
	require.NoError(t, err)
	assert.Equal(t, "UTC", loc.String())

	_, err = ResolveLocation("Nowhere/Special")
	assert.Error(t, err)
}

func TestResolvePlayerMetadataDefaultsAndEnv(t *testing.T) {
	clearMetadataEnv(t)

	meta, err := ResolvePlayerMetadata("")
	require.NoError(t, err)
	assert.Equal(t, PlayerMetadata{
		Title:       defaultTitle,
		Description: defaultDescription,
		Album:       defaultAlbum,
		Language:    defaultLanguage,
	}, meta)

	t.Setenv("PODCAST_TITLE", "My Cast")
	t.Setenv("PODCAST_ALBUM", "Radio")
	t.Setenv("PODCAST_LANGUAGE", "en-GB")

	meta, err = ResolvePlayerMetadata("")
	require.NoError(t, err)
	assert.Equal(t, "My Cast", meta.Title)
	assert.Equal(t, "Radio", meta.Album)
	assert.Equal(t, "en-GB", meta.Language)
	assert.Equal(t, defaultDescription, meta.Description)
}

func TestResolvePlayerMetadataFromFile(t *testing.T) {
	clearMetadataEnv(t)

	configPath := filepath.Join(t.TempDir(), "player.yaml")
	content := "" +
		"title: File Title\n" +
		"description: File Description\n" +
		"album: File Album\n" +
		"author: File Author\n" +
		"language: en\n"
	require.NoError(t, os.WriteFile(configPath, []byte(content), 0o644))

	meta, err := ResolvePlayerMetadata(configPath)
	require.NoError(t, err)
	assert.Equal(t, PlayerMetadata{
		Title:       "File Title",
		Description: "File Description",
		Album:       "File Album",
		Author:      "File Author",
		Language:    "en",
	}, meta)

	t.Setenv("PODCAST_TITLE", "Env Title")
	meta, err = ResolvePlayerMetadata(configPath)
	require.NoError(t, err)
	assert.Equal(t, "Env Title", meta.Title, "env override wins over file")
}

func TestResolvePlayerMetadataErrors(t *testing.T) {
	clearMetadataEnv(t)

	_, err := ResolvePlayerMetadata(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	broken := filepath.Join(t.TempDir(), "broken.yaml")
	require.NoError(t, os.WriteFile(broken, []byte("title: [unterminated"), 0o644))
	_, err = ResolvePlayerMetadata(broken)
	assert.Error(t, err)
}

func clearMetadataEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{"PODCAST_TITLE", "PODCAST_DESCRIPTION", "PODCAST_ALBUM", "PODCAST_AUTHOR", "PODCAST_LANGUAGE"} {
		t.Setenv(key, "")
	}
}

func assertSamePath(t *testing.T, got, want string) {
	t.Helper()
	resolvedGot, err := filepath.EvalSymlinks(got)
	require.NoError(t, err)
	resolvedWant, err := filepath.EvalSymlinks(want)
	require.NoError(t, err)
	assert.Equal(t, resolvedWant, resolvedGot)
}
