package metadata

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dhowden/tag"
	"github.com/tcolgate/mp3"
)

// Info is what could be read from a local audio file.
type Info struct {
	Title  string
	Artist string
	// Duration is zero when it could not be determined.
	Duration time.Duration
}

// Probe reads tags and, for mp3 files, the playing time of the audio file at path.
func Probe(path string) (Info, error) {
	stat, err := os.Stat(path)
	if err != nil {
		return Info{}, err
	}
	if stat.IsDir() {
		return Info{}, fmt.Errorf("%s is a directory", path)
	}

	info := Info{}
	info.Title, info.Artist = readTags(path)
	if info.Title == "" {
		info.Title = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}

	if strings.EqualFold(filepath.Ext(path), ".mp3") {
		seconds, err := computeMP3Duration(path)
		if err == nil && seconds > 0 {
			info.Duration = time.Duration(seconds * float64(time.Second))
		}
	}

	return info, nil
}

// FormatDuration renders d as the short label shown next to an episode.
func FormatDuration(d time.Duration) string {
	if d <= 0 {
		return ""
	}
	minutes := int64((d + 30*time.Second) / time.Minute)
	if minutes < 1 {
		return "< 1 min"
	}
	return fmt.Sprintf("%d min", minutes)
}

func readTags(path string) (string, string) {
	f, err := os.Open(path)
	if err != nil {
		return "", ""
	}
	defer f.Close()

	meta, err := tag.ReadFrom(f)
	if err != nil {
		return "", ""
	}

	return strings.TrimSpace(meta.Title()), strings.TrimSpace(meta.Artist())
}

func computeMP3Duration(path string) (float64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	decoder := mp3.NewDecoder(f)
	var frame mp3.Frame
	var skipped int
	var total float64

	for {
		err := decoder.Decode(&frame, &skipped)
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return 0, err
		}
		total += frame.Duration().Seconds()
	}

	return total, nil
}
