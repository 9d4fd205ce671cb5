package engine

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/mvolf/vgrab/internal/backend"
	"github.com/mvolf/vgrab/internal/config"
	"github.com/mvolf/vgrab/internal/media/ffmpeg"
)

type fakeFrontend struct {
	loginUser string
	loginPass string
	videoPass string
	playlist  bool

	loginPrompts    int
	passwordPrompts int
	playlistPrompts int

	lockDenials int
	lockPolls   int

	started    []string
	finished   []string
	thumbnails []string
	errors     []string

	progress     int
	lastFraction float64
	lastBytes    int64
	lastTotal    int64
}

func (f *fakeFrontend) OnProgress(_ string, fraction float64, bytes, bytesTotal, _, _ int64) {
	f.progress++
	f.lastFraction = fraction
	f.lastBytes = bytes
	f.lastTotal = bytesTotal
}

func (f *fakeFrontend) OnDownloadStart(index, total int, title string) {
	f.started = append(f.started, fmt.Sprintf("%d/%d %s", index, total, title))
}

func (f *fakeFrontend) OnDownloadFinished(filename string) {
	f.finished = append(f.finished, filename)
}

func (f *fakeFrontend) OnDownloadThumbnail(absPath string) {
	f.thumbnails = append(f.thumbnails, absPath)
}

func (f *fakeFrontend) OnError(message string) { f.errors = append(f.errors, message) }

func (f *fakeFrontend) OnLoginRequest() (string, string) {
	f.loginPrompts++
	return f.loginUser, f.loginPass
}

func (f *fakeFrontend) OnPasswordRequest() string {
	f.passwordPrompts++
	return f.videoPass
}

func (f *fakeFrontend) OnPlaylistRequest() bool {
	f.playlistPrompts++
	return f.playlist
}

func (f *fakeFrontend) OnDownloadLock(string) bool {
	f.lockPolls++
	if f.lockDenials > 0 {
		f.lockDenials--
		return false
	}
	return true
}

// fakeClient scripts the backend: enumeration writes the configured items
// as numbered info files, fetches materialize a media file and run the
// registered post-processors the way the real client does.
type fakeClient struct {
	bounded []*backend.VideoInfo // playlist probe result
	single  []*backend.VideoInfo // no-playlist probe result
	full    []*backend.VideoInfo

	// errLines are pushed through the error hook once, on the next call.
	errLines []string

	enumCalls  []string
	enumOpts   []backend.Options
	fetched    []string
	fetchErr   error
	fetchLines []string
}

func (f *fakeClient) emitPending(lines *[]string, opts backend.Options) error {
	pending := *lines
	*lines = nil
	for _, line := range pending {
		if opts.OnErrorLine == nil {
			continue
		}
		if opts.OnErrorLine(line) == backend.ActionAbort {
			return backend.ErrAborted
		}
	}
	return nil
}

func (f *fakeClient) Download(_ context.Context, url string, opts backend.Options) error {
	var items []*backend.VideoInfo
	switch {
	case opts.NoPlaylist:
		f.enumCalls = append(f.enumCalls, "single")
		items = f.single
	case opts.PlaylistEnd > 0:
		f.enumCalls = append(f.enumCalls, "probe")
		items = f.bounded
		if len(items) > opts.PlaylistEnd {
			items = items[:opts.PlaylistEnd]
		}
	default:
		f.enumCalls = append(f.enumCalls, "full")
		items = f.full
	}
	f.enumOpts = append(f.enumOpts, opts)

	if err := f.emitPending(&f.errLines, opts); err != nil {
		return err
	}

	for i, info := range items {
		path := filepath.Join(opts.WorkDir, fmt.Sprintf("%05d.info.json", i+1))
		if err := info.SaveInfoFile(path); err != nil {
			return err
		}
	}
	return nil
}

func (f *fakeClient) DownloadWithInfoFile(ctx context.Context, infoPath string, opts backend.Options) error {
	f.fetched = append(f.fetched, infoPath)
	if err := f.emitPending(&f.fetchLines, opts); err != nil {
		return err
	}
	if f.fetchErr != nil {
		return f.fetchErr
	}

	info, err := backend.LoadInfoFile(infoPath)
	if err != nil {
		return err
	}
	ext := info.Ext
	if ext == "" {
		ext = "mp4"
	}
	media := filepath.Join(opts.WorkDir, info.ID+".137."+ext)
	if err := os.WriteFile(media, []byte("media"), 0o644); err != nil {
		return err
	}
	info.Filepath = media

	for _, pp := range opts.PostProcessors {
		doomed, err := pp.Run(ctx, info)
		if err != nil {
			return err
		}
		for _, path := range doomed {
			os.Remove(path)
		}
	}
	return nil
}

type noopRunner struct{}

func (noopRunner) Convert(_ context.Context, _ ffmpeg.Input, out ffmpeg.Output) error {
	return os.WriteFile(out.Path, []byte("converted"), 0o644)
}

func item(id, title string) *backend.VideoInfo {
	return &backend.VideoInfo{ID: id, Title: title, Ext: "mp4"}
}

func newTestSession(t *testing.T, client backend.Client, frontend Frontend, job *Job) *Session {
	t.Helper()
	return NewSession(client, frontend, job, noopRunner{}, t.TempDir())
}

func TestLoadPlaylistParsesItemsInOrder(t *testing.T) {
	client := &fakeClient{bounded: []*backend.VideoInfo{item("a", "First"), item("b", "Second")}}
	session := newTestSession(t, client, &fakeFrontend{}, &Job{})

	items, skipped, err := session.LoadPlaylist(context.Background(), "https://example.org/list", 2, false)
	if err != nil {
		t.Fatalf("load playlist: %v", err)
	}
	if skipped != 0 {
		t.Fatalf("skipped = %d, want 0", skipped)
	}
	if len(items) != 2 || items[0].ID != "a" || items[1].ID != "b" {
		t.Fatalf("unexpected items: %+v", items)
	}
	if opts := client.enumOpts[0]; !opts.WriteInfoJSON || !opts.SkipDownload {
		t.Fatalf("enumeration must not download media: %+v", opts)
	}
}

func TestLoadPlaylistRetriesWithCredentials(t *testing.T) {
	client := &fakeClient{
		bounded:  []*backend.VideoInfo{item("a", "Gated")},
		errLines: []string{"ERROR: Sign in to confirm"},
	}
	frontend := &fakeFrontend{loginUser: "user", loginPass: "secret"}
	job := &Job{}
	session := newTestSession(t, client, frontend, job)

	items, _, err := session.LoadPlaylist(context.Background(), "https://example.org/gated", 2, false)
	if err != nil {
		t.Fatalf("load playlist: %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("expected one item after retry, got %+v", items)
	}
	if len(client.enumCalls) != 2 {
		t.Fatalf("expected exactly one retried invocation, got %d calls", len(client.enumCalls))
	}
	if first := client.enumOpts[0]; first.Username != "" {
		t.Fatalf("first attempt must run without credentials: %+v", first)
	}
	if second := client.enumOpts[1]; second.Username != "user" || second.Password != "secret" {
		t.Fatalf("retry must carry the prompted credentials: %+v", second)
	}
	if frontend.loginPrompts != 1 {
		t.Fatalf("expected one prompt, got %d", frontend.loginPrompts)
	}
}

func TestLoadPlaylistDeclinedLoginCountsSkip(t *testing.T) {
	client := &fakeClient{
		bounded:  []*backend.VideoInfo{item("a", "Open")},
		errLines: []string{"ERROR: Sign in to confirm"},
	}
	frontend := &fakeFrontend{} // empty login response declines
	session := newTestSession(t, client, frontend, &Job{})

	items, skipped, err := session.LoadPlaylist(context.Background(), "https://example.org/mixed", 2, false)
	if err != nil {
		t.Fatalf("load playlist: %v", err)
	}
	if skipped != 1 {
		t.Fatalf("skipped = %d, want 1", skipped)
	}
	if len(items) != 1 {
		t.Fatalf("run must continue past the declined item, got %+v", items)
	}
	if len(client.enumCalls) != 1 {
		t.Fatalf("declining must not retry, got %d calls", len(client.enumCalls))
	}
}

func TestLoadPlaylistFatalLine(t *testing.T) {
	client := &fakeClient{errLines: []string{"ERROR: Video unavailable"}}
	frontend := &fakeFrontend{}
	session := newTestSession(t, client, frontend, &Job{})

	_, _, err := session.LoadPlaylist(context.Background(), "https://example.org/gone", 2, false)
	if err == nil || !strings.Contains(err.Error(), "Video unavailable") {
		t.Fatalf("expected fatal error, got %v", err)
	}
	if len(frontend.errors) != 1 || frontend.errors[0] != "ERROR: Video unavailable" {
		t.Fatalf("fatal line must reach the frontend: %v", frontend.errors)
	}
}

func TestLoadVideoCapturesMediaPath(t *testing.T) {
	client := &fakeClient{}
	session := newTestSession(t, client, &fakeFrontend{}, &Job{})

	workDir := t.TempDir()
	infoPath := filepath.Join(workDir, "a.info.json")
	if err := item("a", "First").SaveInfoFile(infoPath); err != nil {
		t.Fatalf("save info: %v", err)
	}

	mediaPath, err := session.LoadVideo(context.Background(), workDir, infoPath, []string{"all"}, false)
	if err != nil {
		t.Fatalf("load video: %v", err)
	}
	if !filepath.IsAbs(mediaPath) {
		t.Fatalf("media path must be absolute: %q", mediaPath)
	}
	if _, err := os.Stat(mediaPath); err != nil {
		t.Fatalf("media file missing: %v", err)
	}
}

func TestForwardProgressFinishedKeepsByteCounts(t *testing.T) {
	frontend := &fakeFrontend{}
	session := newTestSession(t, &fakeClient{}, frontend, &Job{})

	session.forwardProgress(backend.Progress{Finished: true, Bytes: 2048, BytesTotal: 2048})
	if frontend.progress != 1 {
		t.Fatalf("progress calls = %d, want 1", frontend.progress)
	}
	if frontend.lastFraction != -1 {
		t.Fatalf("finished tick has no fraction, got %v", frontend.lastFraction)
	}
	if frontend.lastBytes != 2048 || frontend.lastTotal != 2048 {
		t.Fatalf("byte counts dropped: %d/%d", frontend.lastBytes, frontend.lastTotal)
	}
}

func TestBaseOptionsAudioMode(t *testing.T) {
	job := &Job{Mode: config.ModeAudio, Retries: 10, FragmentRetries: 10}
	session := newTestSession(t, &fakeClient{}, &fakeFrontend{}, job)

	opts := session.baseOptions()
	if opts.ExtractAudio != "mp3" || opts.AudioQuality != "192" {
		t.Fatalf("audio extraction misconfigured: %+v", opts)
	}
	if !opts.EmbedThumbnail {
		t.Fatalf("audio mode embeds the cover: %+v", opts)
	}
	if opts.Retries != 10 || opts.FragmentRetries != 10 {
		t.Fatalf("bounded retries not forwarded: %+v", opts)
	}
}

func TestBaseOptionsVideoMode(t *testing.T) {
	job := &Job{Mode: config.ModeVideo, Resolution: 720, PreferMPEG: true}
	session := newTestSession(t, &fakeClient{}, &fakeFrontend{}, job)

	opts := session.baseOptions()
	if len(opts.FormatSort) != 2 || opts.FormatSort[0] != "res~720" || opts.FormatSort[1] != "+codec:avc:m4a" {
		t.Fatalf("format sort misconfigured: %+v", opts.FormatSort)
	}
	if opts.ExtractAudio != "" {
		t.Fatalf("video mode must keep the container: %+v", opts)
	}
}
