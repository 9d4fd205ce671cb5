// Package thumbnail reduces the thumbnail set of a resolved item to a single
// JPEG bounded to 1024px on both axes.
package thumbnail

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/mvolf/vgrab/internal/backend"
	"github.com/mvolf/vgrab/internal/media/ffmpeg"
)

// Backends order thumbnails worst to best; the last one with a materialized
// file is the one worth keeping.
const boundedScaleFilter = "scale='min(1024,iw)':'min(1024,ih)':force_original_aspect_ratio=decrease"

// Normalizer is the thumbnail post-processor. A failed conversion leaves the
// item without thumbnails; it never fails the download.
type Normalizer struct {
	FFmpeg ffmpeg.Runner
	Logf   func(format string, args ...any)

	// OnThumbnail receives the absolute path of the normalized JPEG.
	OnThumbnail func(path string)
}

func NewNormalizer(runner ffmpeg.Runner, logf func(format string, args ...any)) *Normalizer {
	if logf == nil {
		logf = func(string, ...any) {}
	}
	return &Normalizer{FFmpeg: runner, Logf: logf}
}

func (n *Normalizer) Run(ctx context.Context, info *backend.VideoInfo) ([]string, error) {
	best := -1
	for i, thumb := range info.Thumbnails {
		if thumb.Filepath != "" {
			best = i
		}
	}
	if best < 0 {
		info.Thumbnails = nil
		return nil, nil
	}

	var obsolete []string
	for i, thumb := range info.Thumbnails {
		if i != best && thumb.Filepath != "" {
			obsolete = append(obsolete, thumb.Filepath)
		}
	}

	source := info.Thumbnails[best].Filepath
	jpegPath, err := n.convert(ctx, source)
	if err != nil {
		n.Logf("dropping thumbnail: %v", err)
		info.Thumbnails = nil
		obsolete = append(obsolete, source)
		return obsolete, nil
	}
	obsolete = append(obsolete, source)

	absPath, err := filepath.Abs(jpegPath)
	if err != nil {
		absPath = jpegPath
	}
	info.Thumbnails = []backend.Thumbnail{{ID: info.Thumbnails[best].ID, Filepath: absPath}}
	if n.OnThumbnail != nil {
		n.OnThumbnail(absPath)
	}
	return obsolete, nil
}

func (n *Normalizer) convert(ctx context.Context, source string) (string, error) {
	jpegPath := source + ".conv.jpg"
	err := n.FFmpeg.Convert(ctx,
		// image2 would otherwise expand pattern characters in the path.
		ffmpeg.Input{Path: source, Args: []string{"-f", "image2", "-pattern_type", "none"}},
		ffmpeg.Output{Path: escapePattern(jpegPath), Args: []string{"-vf", boundedScaleFilter}})
	if err != nil {
		return "", fmt.Errorf("convert thumbnail %q: %w", source, err)
	}
	return jpegPath, nil
}

func escapePattern(path string) string {
	return strings.ReplaceAll(path, "%", "%%")
}
