package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	defaultTitle       = "Podcast Timeline"
	defaultDescription = "Podcast episodes grouped by publish date."
	defaultAlbum       = "Podcasts"
	defaultLanguage    = "nl-NL"
)

// CatalogSource identifies where the episode catalog is read from.
type CatalogSource struct {
	// Location is an absolute file path or an http(s) URL.
	Location string
	Remote   bool
}

// ResolveCatalogSource turns the configured catalog reference into a source.
// URLs with an http or https scheme are fetched remotely, anything else is
// treated as a local file path.
func ResolveCatalogSource(raw string) (CatalogSource, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return CatalogSource{}, errors.New("catalog source is empty")
	}

	if u, err := url.Parse(raw); err == nil && (u.Scheme == "http" || u.Scheme == "https") {
		if u.Host == "" {
			return CatalogSource{}, fmt.Errorf("catalog url %q has no host", raw)
		}
		return CatalogSource{Location: u.String(), Remote: true}, nil
	}

	abs, err := ExpandPath(raw)
	if err != nil {
		return CatalogSource{}, err
	}
	return CatalogSource{Location: abs}, nil
}

// ResolveAudioRoot returns the absolute directory holding local audio files.
// An empty value disables local audio; the directory is created when missing.
func ResolveAudioRoot(dir string) (string, error) {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return "", nil
	}

	abs, err := ExpandPath(dir)
	if err != nil {
		return "", err
	}

	if err := os.MkdirAll(abs, 0o755); err != nil {
		return "", err
	}

	return abs, nil
}

// ValidateListenAddr ensures the configured listen address is restricted to localhost.
func ValidateListenAddr(addr string) error {
	addr = strings.TrimSpace(strings.ToLower(addr))
	if strings.HasPrefix(addr, "127.0.0.1:") || strings.HasPrefix(addr, "localhost:") || strings.HasPrefix(addr, "[::1]:") {
		return nil
	}
	return errors.New("listen address must bind to localhost for security")
}

// ResolveLocation returns the time zone used to compute date keys and labels.
func ResolveLocation(name string) (*time.Location, error) {
	name = strings.TrimSpace(name)
	if name == "" || strings.EqualFold(name, "local") {
		return time.Local, nil
	}
	return time.LoadLocation(name)
}

// PlayerMetadata is the static text shown by the player and the RSS feed.
type PlayerMetadata struct {
	Title       string
	Description string
	Album       string
	Author      string
	Language    string
}

type playerMetadataYAML struct {
	Title       string `yaml:"title"`
	Description string `yaml:"description"`
	Album       string `yaml:"album"`
	Author      string `yaml:"author"`
	Language    string `yaml:"language"`
}

// ResolvePlayerMetadata returns the player metadata after applying defaults,
// the YAML file at configPath (when set), and environment variable overrides.
func ResolvePlayerMetadata(configPath string) (PlayerMetadata, error) {
	meta := PlayerMetadata{
		Title:       defaultTitle,
		Description: defaultDescription,
		Album:       defaultAlbum,
		Language:    defaultLanguage,
	}

	configPath = strings.TrimSpace(configPath)
	if configPath != "" {
		resolved, err := ExpandPath(configPath)
		if err != nil {
			return PlayerMetadata{}, err
		}
		data, err := os.ReadFile(resolved)
		if err != nil {
			return PlayerMetadata{}, err
		}
		var fromFile playerMetadataYAML
		if err := yaml.Unmarshal(data, &fromFile); err != nil {
			return PlayerMetadata{}, fmt.Errorf("parse %s: %w", resolved, err)
		}
		override(&meta.Title, fromFile.Title)
		override(&meta.Description, fromFile.Description)
		override(&meta.Album, fromFile.Album)
		override(&meta.Author, fromFile.Author)
		override(&meta.Language, fromFile.Language)
	}

	override(&meta.Title, os.Getenv("PODCAST_TITLE"))
	override(&meta.Description, os.Getenv("PODCAST_DESCRIPTION"))
	override(&meta.Album, os.Getenv("PODCAST_ALBUM"))
	override(&meta.Author, os.Getenv("PODCAST_AUTHOR"))
	override(&meta.Language, os.Getenv("PODCAST_LANGUAGE"))

	return meta, nil
}

// ExpandPath expands a leading ~ to the home directory and makes path absolute.
func ExpandPath(path string) (string, error) {
	if strings.HasPrefix(path, "~") {
		home, err := os.UserHomeDir()
		if err == nil {
			path = filepath.Join(home, path[1:])
		}
	}

	return filepath.Abs(path)
}

func override(dst *string, value string) {
	if value = strings.TrimSpace(value); value != "" {
		*dst = value
	}
}
