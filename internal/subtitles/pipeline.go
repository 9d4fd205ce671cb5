// Package subtitles normalizes the subtitle tracks of one resolved item to
// WebVTT, repairing known transcoder defects on the way.
package subtitles

import (
	"context"
	"fmt"
	"os"
	"sort"

	"github.com/mvolf/vgrab/internal/backend"
	"github.com/mvolf/vgrab/internal/media/ffmpeg"
)

// Converter is the subtitle post-processor. Individual tracks that cannot be
// converted are dropped; the pipeline itself never fails.
type Converter struct {
	FFmpeg ffmpeg.Runner
	Logf   func(format string, args ...any)
}

func NewConverter(runner ffmpeg.Runner, logf func(format string, args ...any)) *Converter {
	if logf == nil {
		logf = func(string, ...any) {}
	}
	return &Converter{FFmpeg: runner, Logf: logf}
}

func (c *Converter) Run(ctx context.Context, info *backend.VideoInfo) ([]string, error) {
	var obsolete []string
	surviving := map[string]*backend.SubtitleTrack{}

	for _, lang := range sortedLangs(info.RequestedSubtitles) {
		track := info.RequestedSubtitles[lang]
		if track == nil || track.Filepath == "" {
			continue
		}
		c.Logf("converting subtitle (%s, %s)", lang, track.Ext)

		path := track.Filepath
		if isXMLTimedText(track.Ext) {
			converted, err := c.convertTimedText(path)
			if err != nil {
				c.Logf("dropping subtitle %s: %v", lang, err)
				obsolete = append(obsolete, path)
				continue
			}
			obsolete = append(obsolete, path)
			path = converted
		}

		vttPath := path + ".conv.vtt"
		obsolete = append(obsolete, path)
		err := c.FFmpeg.Convert(ctx,
			ffmpeg.Input{Path: path},
			ffmpeg.Output{Path: vttPath, Args: []string{"-f", "webvtt"}})
		if err != nil {
			c.Logf("dropping subtitle %s: %v", lang, err)
			obsolete = append(obsolete, vttPath)
			continue
		}
		path = vttPath

		repaired, err := c.repairFile(path)
		if err != nil {
			c.Logf("dropping subtitle %s: %v", lang, err)
			obsolete = append(obsolete, path)
			continue
		}
		if repaired != path {
			obsolete = append(obsolete, path)
			path = repaired
		}

		surviving[lang] = &backend.SubtitleTrack{Ext: "vtt", Filepath: path, Name: track.Name}
	}

	info.RequestedSubtitles = surviving
	return obsolete, nil
}

// convertTimedText writes the SRT rendition of an XML timed-text file next
// to the original.
func (c *Converter) convertTimedText(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read timed text %q: %w", path, err)
	}
	srt, err := ConvertTTMLToSRT(data)
	if err != nil {
		return "", err
	}
	srtPath := path + ".conv.srt"
	if err := os.WriteFile(srtPath, []byte(srt), 0o644); err != nil {
		return "", fmt.Errorf("write converted subtitle %q: %w", srtPath, err)
	}
	return srtPath, nil
}

// repairFile applies RepairWebVTT. Changed content goes to a new path so the
// replacement is durably written before the broken file becomes obsolete.
func (c *Converter) repairFile(path string) (string, error) {
	payload, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read converted subtitle %q: %w", path, err)
	}
	repaired := RepairWebVTT(string(payload))
	if repaired == string(payload) {
		return path, nil
	}
	fixPath := path + ".fix.vtt"
	if err := os.WriteFile(fixPath, []byte(repaired), 0o644); err != nil {
		return "", fmt.Errorf("write repaired subtitle %q: %w", fixPath, err)
	}
	return fixPath, nil
}

func sortedLangs(tracks map[string]*backend.SubtitleTrack) []string {
	langs := make([]string, 0, len(tracks))
	for lang := range tracks {
		langs = append(langs, lang)
	}
	sort.Strings(langs)
	return langs
}
