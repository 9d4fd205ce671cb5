package backend

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

// ErrAborted reports that an invocation was stopped by the error classifier.
// The caller decides whether the abort means retry or failure.
var ErrAborted = errors.New("backend invocation aborted")

type YtDlp struct {
	Bin string
}

func NewYtDlp() *YtDlp {
	bin := "yt-dlp"
	if override := strings.TrimSpace(os.Getenv("VGRAB_YTDLP_BIN")); override != "" {
		bin = override
	}
	return &YtDlp{Bin: bin}
}

func (y *YtDlp) Download(ctx context.Context, url string, opts Options) error {
	if strings.TrimSpace(url) == "" {
		return fmt.Errorf("url is required")
	}
	args := buildArgs(opts)
	args = append(args, "--", url)
	return y.run(ctx, args, opts)
}

func (y *YtDlp) DownloadWithInfoFile(ctx context.Context, infoPath string, opts Options) error {
	if strings.TrimSpace(infoPath) == "" {
		return fmt.Errorf("info file path is required")
	}
	args := buildArgs(opts)
	args = append(args, "--load-info-json", infoPath)
	if err := y.run(ctx, args, opts); err != nil {
		return err
	}
	return finalizeItem(ctx, infoPath, opts)
}

func buildArgs(opts Options) []string {
	args := []string{"--newline", "--no-colors", "--ignore-errors"}

	if opts.OutputTemplate != "" {
		args = append(args, "-o", opts.OutputTemplate)
	}
	if opts.WriteInfoJSON {
		args = append(args, "--write-info-json", "--no-write-playlist-metafiles")
	}
	if opts.SkipDownload {
		args = append(args, "--skip-download")
	}
	if opts.PlaylistEnd > 0 {
		args = append(args, "--playlist-end", strconv.Itoa(opts.PlaylistEnd))
	}
	if opts.NoPlaylist {
		args = append(args, "--no-playlist")
	}
	if opts.Retries > 0 {
		args = append(args, "--retries", strconv.Itoa(opts.Retries))
	}
	if opts.FragmentRetries > 0 {
		args = append(args, "--fragment-retries", strconv.Itoa(opts.FragmentRetries))
	}
	if opts.CookieFile != "" {
		args = append(args, "--cookies", opts.CookieFile)
	}
	if opts.WriteSubtitles {
		args = append(args, "--write-subs")
	}
	if opts.WriteAutomaticSub {
		args = append(args, "--write-auto-subs")
	}
	if len(opts.SubtitleLangs) > 0 {
		args = append(args, "--sub-langs", strings.Join(opts.SubtitleLangs, ","))
	}
	if opts.SubtitleFormat != "" {
		args = append(args, "--sub-format", opts.SubtitleFormat)
	}
	if opts.WriteThumbnail {
		args = append(args, "--write-thumbnail")
	}
	if opts.Format != "" {
		args = append(args, "-f", opts.Format)
	}
	if len(opts.FormatSort) > 0 {
		args = append(args, "--format-sort", strings.Join(opts.FormatSort, ","))
	}
	if opts.ExtractAudio != "" {
		args = append(args, "--extract-audio", "--audio-format", opts.ExtractAudio, "--keep-video")
		if opts.AudioQuality != "" {
			args = append(args, "--audio-quality", opts.AudioQuality)
		}
	}
	if opts.EmbedThumbnail {
		args = append(args, "--embed-thumbnail")
	}
	if opts.EmbedMetadata {
		args = append(args, "--embed-metadata")
	}
	if opts.EmbedSubtitles {
		args = append(args, "--embed-subs")
	}
	if opts.XAttrs {
		args = append(args, "--xattrs")
	}
	if opts.Username != "" {
		args = append(args, "--username", opts.Username)
	}
	if opts.Password != "" {
		args = append(args, "--password", opts.Password)
	}
	if opts.VideoPassword != "" {
		args = append(args, "--video-password", opts.VideoPassword)
	}
	return args
}

func (y *YtDlp) run(ctx context.Context, args []string, opts Options) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	cmd := exec.CommandContext(runCtx, y.Bin, args...)
	cmd.Dir = opts.WorkDir

	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("setup stdout pipe: %w", err)
	}
	stderrPipe, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("setup stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start %s: %w", y.Bin, err)
	}

	aborted := false
	currentFile := ""

	handleStdout := func(line string) {
		if name, ok := strings.CutPrefix(line, "[download] Destination: "); ok {
			currentFile = strings.TrimSpace(name)
			return
		}
		if opts.OnProgress == nil {
			return
		}
		if p, ok := parseProgressLine(line); ok {
			p.Filename = currentFile
			opts.OnProgress(p)
		}
	}
	handleStderr := func(line string) {
		if !strings.HasPrefix(line, "ERROR:") && !strings.HasPrefix(line, "WARNING:") {
			return
		}
		if opts.OnErrorLine == nil {
			return
		}
		if opts.OnErrorLine(line) == ActionAbort {
			aborted = true
			cancel()
		}
	}

	done := make(chan struct{})
	go func() {
		scanLines(stdoutPipe, handleStdout)
		close(done)
	}()
	scanLines(stderrPipe, handleStderr)
	<-done

	waitErr := cmd.Wait()
	if aborted {
		return ErrAborted
	}
	if waitErr != nil {
		if runCtx.Err() != nil {
			return fmt.Errorf("%s interrupted: %w", y.Bin, runCtx.Err())
		}
		return fmt.Errorf("%s failed: %w", y.Bin, waitErr)
	}
	return nil
}

func scanLines(r io.Reader, handle func(line string)) {
	scanner := bufio.NewScanner(r)
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 1024*1024)
	scanner.Split(splitByNewlineOrCR)
	for scanner.Scan() {
		if line := strings.TrimSpace(scanner.Text()); line != "" {
			handle(line)
		}
	}
}

// Progress lines rewrite themselves with carriage returns unless --newline is
// set; split on either terminator to be safe.
func splitByNewlineOrCR(data []byte, atEOF bool) (advance int, token []byte, err error) {
	for i := 0; i < len(data); i++ {
		if data[i] == '\n' || data[i] == '\r' {
			if i == 0 {
				return 1, nil, nil
			}
			return i + 1, data[:i], nil
		}
	}
	if atEOF && len(data) > 0 {
		return len(data), data, nil
	}
	return 0, nil, nil
}

// finalizeItem maps the materialized files of one fetched item back onto its
// metadata and runs the registered post-processors. Files a post-processor
// declares obsolete are deleted only after it returned, so replacements are
// durably on disk first.
func finalizeItem(ctx context.Context, infoPath string, opts Options) error {
	info, err := LoadInfoFile(infoPath)
	if err != nil {
		return err
	}

	if err := collectArtifacts(opts.WorkDir, info, opts.ExtractAudio); err != nil {
		return err
	}
	if info.Filepath == "" {
		return fmt.Errorf("no media file produced for item %q", info.ID)
	}

	for _, pp := range opts.PostProcessors {
		obsolete, err := pp.Run(ctx, info)
		if err != nil {
			return fmt.Errorf("post-processor: %w", err)
		}
		for _, path := range obsolete {
			if removeErr := os.Remove(path); removeErr != nil && !errors.Is(removeErr, os.ErrNotExist) {
				return fmt.Errorf("delete obsolete file %q: %w", path, removeErr)
			}
		}
	}
	return nil
}

var subtitleExts = map[string]struct{}{
	"vtt": {}, "srt": {}, "ass": {}, "lrc": {},
	"ttml": {}, "dfxp": {}, "tt": {},
	"srv1": {}, "srv2": {}, "srv3": {}, "json3": {},
}

var imageExts = map[string]struct{}{
	"jpg": {}, "jpeg": {}, "png": {}, "webp": {}, "gif": {},
}

// collectArtifacts classifies the files the backend left in the working
// directory: subtitle tracks (named <base>.<lang>.<ext>), thumbnails, and
// the media file itself. When audio was extracted the file carrying the
// audio codec's extension wins, otherwise the largest candidate does.
func collectArtifacts(workDir string, info *VideoInfo, audioExt string) error {
	entries, err := os.ReadDir(workDir)
	if err != nil {
		return fmt.Errorf("read working directory %q: %w", workDir, err)
	}

	prefix := info.ID + "."
	type mediaCandidate struct {
		path string
		size int64
	}
	var media []mediaCandidate

	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, prefix) {
			continue
		}
		if strings.HasSuffix(name, ".info.json") || strings.HasSuffix(name, ".part") {
			continue
		}
		path := filepath.Join(workDir, name)
		ext := strings.TrimPrefix(filepath.Ext(name), ".")

		if _, ok := subtitleExts[strings.ToLower(ext)]; ok {
			segments := strings.Split(name, ".")
			if len(segments) >= 3 {
				lang := segments[len(segments)-2]
				if info.RequestedSubtitles == nil {
					info.RequestedSubtitles = map[string]*SubtitleTrack{}
				}
				info.RequestedSubtitles[lang] = &SubtitleTrack{Ext: strings.ToLower(ext), Filepath: path}
			}
			continue
		}
		if _, ok := imageExts[strings.ToLower(ext)]; ok {
			info.Thumbnails = append(info.Thumbnails, Thumbnail{Filepath: path})
			continue
		}

		stat, statErr := entry.Info()
		if statErr != nil {
			continue
		}
		media = append(media, mediaCandidate{path: path, size: stat.Size()})
	}

	// Deterministic order; the pipeline only processes the final entry.
	sort.SliceStable(info.Thumbnails, func(i, j int) bool {
		return info.Thumbnails[i].Filepath < info.Thumbnails[j].Filepath
	})

	chosen := ""
	if audioExt != "" {
		for _, candidate := range media {
			if strings.EqualFold(strings.TrimPrefix(filepath.Ext(candidate.path), "."), audioExt) {
				chosen = candidate.path
				break
			}
		}
	}
	if chosen == "" && len(media) > 0 {
		sort.Slice(media, func(i, j int) bool { return media[i].size > media[j].size })
		chosen = media[0].path
	}
	if chosen != "" {
		abs, absErr := filepath.Abs(chosen)
		if absErr != nil {
			return fmt.Errorf("resolve media path: %w", absErr)
		}
		info.Filepath = abs
	}
	return nil
}
