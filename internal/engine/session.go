package engine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"

	"github.com/mvolf/vgrab/internal/backend"
	"github.com/mvolf/vgrab/internal/config"
	"github.com/mvolf/vgrab/internal/media/ffmpeg"
	"github.com/mvolf/vgrab/internal/subtitles"
	"github.com/mvolf/vgrab/internal/thumbnail"
)

// Output templates. Enumeration numbers its info files sequentially; full
// fetches key every artifact by item id and format so a resumed invocation
// continues the right file.
const (
	enumTemplate  = "%(autonumber)s.%(ext)s"
	fetchTemplate = "%(id)s.%(format_id)s.%(ext)s"
)

var infoFilePattern = regexp.MustCompile(`^[0-9]+\.info\.json$`)

// Session performs backend invocations for one job. Every invocation routes
// its error lines through the auth gate and loops on the gate's retry
// verdict, so a credential prompt transparently re-runs the same call with
// the same working directory.
type Session struct {
	Client   backend.Client
	Frontend Frontend
	Job      *Job
	FFmpeg   ffmpeg.Runner
	Logf     func(format string, args ...any)

	// TempRoot holds per-invocation working directories and the run's
	// private cookie jar.
	TempRoot string

	gate *authGate
}

func NewSession(client backend.Client, frontend Frontend, job *Job, runner ffmpeg.Runner, tempRoot string) *Session {
	return &Session{
		Client:   client,
		Frontend: frontend,
		Job:      job,
		FFmpeg:   runner,
		Logf:     func(string, ...any) {},
		TempRoot: tempRoot,
		gate:     newAuthGate(job, frontend),
	}
}

// LoadPlaylist enumerates url without downloading media. playlistEnd bounds
// the enumeration (0 for unbounded); noPlaylist forces single-item
// semantics. Returns the resolved items in enumeration order plus the number
// of items skipped due to declined authentication during this call.
func (s *Session) LoadPlaylist(ctx context.Context, url string, playlistEnd int, noPlaylist bool) ([]*backend.VideoInfo, int, error) {
	workDir, err := os.MkdirTemp(s.TempRoot, "enum-")
	if err != nil {
		return nil, 0, fmt.Errorf("create enumeration directory: %w", err)
	}
	defer os.RemoveAll(workDir)

	opts := s.baseOptions()
	opts.WorkDir = workDir
	opts.OutputTemplate = enumTemplate
	opts.WriteInfoJSON = true
	opts.SkipDownload = true
	opts.PlaylistEnd = playlistEnd
	opts.NoPlaylist = noPlaylist

	skippedBefore := s.gate.Skipped()
	invoke := func() error { return s.Client.Download(ctx, url, s.withCredentials(opts)) }
	if err := s.retryLoop(ctx, invoke); err != nil {
		return nil, 0, err
	}

	items, err := parseEnumeratedInfoFiles(workDir)
	if err != nil {
		return nil, 0, err
	}
	return items, s.gate.Skipped() - skippedBefore, nil
}

// LoadVideo fetches one item, resuming from a previously persisted info
// file. Post-processing normalizes subtitles and the thumbnail; the final
// media path is captured from the item's metadata after all hooks ran.
func (s *Session) LoadVideo(ctx context.Context, workDir string, infoPath string, subtitleLangs []string, automaticSubs bool) (string, error) {
	capture := &pathCapture{}

	opts := s.baseOptions()
	opts.WorkDir = workDir
	opts.OutputTemplate = fetchTemplate
	opts.WriteSubtitles = true
	opts.WriteAutomaticSub = automaticSubs
	opts.WriteThumbnail = true
	opts.SubtitleLangs = subtitleLangs
	opts.SubtitleFormat = "vtt/best"
	opts.XAttrs = true
	opts.OnProgress = s.forwardProgress
	opts.PostProcessors = []backend.PostProcessor{
		subtitles.NewConverter(s.FFmpeg, s.Logf),
		&thumbnail.Normalizer{
			FFmpeg:      s.FFmpeg,
			Logf:        s.Logf,
			OnThumbnail: s.Frontend.OnDownloadThumbnail,
		},
		capture,
	}

	invoke := func() error { return s.Client.DownloadWithInfoFile(ctx, infoPath, s.withCredentials(opts)) }
	if err := s.retryLoop(ctx, invoke); err != nil {
		return "", err
	}
	if capture.path == "" {
		return "", fmt.Errorf("backend reported no output file for %s", infoPath)
	}
	return capture.path, nil
}

// retryLoop is the explicit re-invocation loop around one backend call. An
// abort with a retry verdict runs the call again with the job's updated
// credentials; a fatal verdict reports through the frontend and fails.
func (s *Session) retryLoop(ctx context.Context, invoke func() error) error {
	for {
		err := invoke()
		if err == nil {
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if !errors.Is(err, backend.ErrAborted) {
			return err
		}

		outcome, fatalMsg := s.gate.takeOutcome()
		switch outcome {
		case verdictRetry:
			continue
		case verdictFatal:
			s.Frontend.OnError(fatalMsg)
			return fmt.Errorf("%w: %s", ErrFatal, fatalMsg)
		default:
			// Aborted without a gate verdict: the backend failed on its own.
			return err
		}
	}
}

// baseOptions derives the invocation-independent backend options from the
// job: bounded retries, the run's cookie jar, and the mode's format
// selection (audio extracts mp3 with an embedded cover; video sorts formats
// by the requested resolution, optionally preferring MPEG codecs).
func (s *Session) baseOptions() backend.Options {
	opts := backend.Options{
		Retries:         s.Job.Retries,
		FragmentRetries: s.Job.FragmentRetries,
		CookieFile:      filepath.Join(s.TempRoot, "cookies.txt"),
		OnErrorLine:     s.gate.OnErrorLine,
	}

	if s.Job.Mode == config.ModeAudio {
		opts.Format = "bestaudio/best"
		opts.ExtractAudio = "mp3"
		opts.AudioQuality = "192"
		opts.EmbedThumbnail = true
		opts.EmbedMetadata = true
		return opts
	}

	opts.FormatSort = []string{fmt.Sprintf("res~%d", s.Job.Resolution)}
	if s.Job.PreferMPEG {
		opts.FormatSort = append(opts.FormatSort, "+codec:avc:m4a")
	}
	return opts
}

// withCredentials stamps the job's current credentials onto a prepared
// options value. Read per attempt so a retry sees what the gate stored.
func (s *Session) withCredentials(opts backend.Options) backend.Options {
	opts.Username = s.Job.Username
	opts.Password = s.Job.Password
	opts.VideoPassword = s.Job.VideoPassword
	return opts
}

func (s *Session) forwardProgress(p backend.Progress) {
	if p.Finished {
		s.Frontend.OnProgress(p.Filename, -1, p.Bytes, p.BytesTotal, -1, -1)
		return
	}
	s.Frontend.OnProgress(p.Filename, p.Fraction, p.Bytes, p.BytesTotal, p.ETASeconds, p.SpeedBytesPerSec)
}

// parseEnumeratedInfoFiles loads the numbered info files an enumeration left
// behind, in name order.
func parseEnumeratedInfoFiles(workDir string) ([]*backend.VideoInfo, error) {
	entries, err := os.ReadDir(workDir)
	if err != nil {
		return nil, fmt.Errorf("read enumeration directory %q: %w", workDir, err)
	}

	names := []string{}
	for _, entry := range entries {
		if entry.Type().IsRegular() && infoFilePattern.MatchString(entry.Name()) {
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)

	items := make([]*backend.VideoInfo, 0, len(names))
	for _, name := range names {
		info, err := backend.LoadInfoFile(filepath.Join(workDir, name))
		if err != nil {
			return nil, fmt.Errorf("parse enumerated item %q: %w", name, err)
		}
		items = append(items, info)
	}
	return items, nil
}

// pathCapture is the last post-processing hook of a full fetch; it records
// the absolute path of the media file the earlier hooks settled on.
type pathCapture struct {
	path string
}

func (c *pathCapture) Run(_ context.Context, info *backend.VideoInfo) ([]string, error) {
	if info.Filepath == "" {
		return nil, fmt.Errorf("item %q has no media file", info.ID)
	}
	abs, err := filepath.Abs(info.Filepath)
	if err != nil {
		return nil, fmt.Errorf("resolve media path %q: %w", info.Filepath, err)
	}
	c.path = abs
	return nil, nil
}
