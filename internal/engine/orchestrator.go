package engine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/text/language"

	"github.com/mvolf/vgrab/internal/backend"
	"github.com/mvolf/vgrab/internal/config"
	"github.com/mvolf/vgrab/internal/fileops"
	"github.com/mvolf/vgrab/internal/media/ffmpeg"
	"github.com/mvolf/vgrab/internal/sanitize"
)

// Orchestrator drives one job from URL to placed files: playlist
// disambiguation, per-item fetch, post-processing, and atomic placement. One
// instance handles one URL to completion.
type Orchestrator struct {
	Client   backend.Client
	FFmpeg   ffmpeg.Runner
	Frontend Frontend
	Job      *Job
	Logf     func(format string, args ...any)

	// Sleep paces the name-lock poll; injectable for tests.
	Sleep func(d time.Duration)

	// TempRoot overrides the run's private temp directory.
	TempRoot string

	skipped int
}

// SkippedItems reports how many items the finished run skipped because the
// user declined a credential prompt.
func (o *Orchestrator) SkippedItems() int { return o.skipped }

func NewOrchestrator(client backend.Client, runner ffmpeg.Runner, frontend Frontend, job *Job) *Orchestrator {
	return &Orchestrator{
		Client:   client,
		FFmpeg:   runner,
		Frontend: frontend,
		Job:      job,
		Logf:     func(string, ...any) {},
		Sleep:    time.Sleep,
	}
}

func (o *Orchestrator) Run(ctx context.Context) error {
	tempRoot := o.TempRoot
	if tempRoot == "" {
		tempRoot = filepath.Join(os.TempDir(), "vgrab-"+uuid.NewString())
	}
	if err := os.MkdirAll(tempRoot, 0o700); err != nil {
		return fmt.Errorf("create session directory %q: %w", tempRoot, err)
	}
	defer os.RemoveAll(tempRoot)

	session := NewSession(o.Client, o.Frontend, o.Job, o.FFmpeg, tempRoot)
	session.Logf = o.Logf

	items, err := o.resolveItems(ctx, session)
	if err != nil {
		return err
	}

	// Items are settled; from here on a credential gate is fatal.
	session.gate.DisablePrompting()

	total := len(items)
	for i, info := range items {
		if err := o.downloadItem(ctx, session, i+1, total, info); err != nil {
			return err
		}
	}
	o.skipped = session.gate.Skipped()
	return nil
}

// resolveItems decides whether the URL denotes one video or a playlist using
// two bounded probes, asking the user only when the probes disagree.
//
// The comparison is deliberately asymmetric: a bounded playlist probe that
// exceeds the no-playlist probe means a real playlist worth confirming, but
// a probe that already exceeds one item without exceeding the no-playlist
// result means the backend treats the URL as a playlist regardless of the
// flag, and enumeration proceeds without asking.
func (o *Orchestrator) resolveItems(ctx context.Context, session *Session) ([]*backend.VideoInfo, error) {
	probeItems, probeSkipped, err := session.LoadPlaylist(ctx, o.Job.URL, 2, false)
	if err != nil {
		return nil, err
	}
	probeTotal := len(probeItems) + probeSkipped

	singleItems, singleSkipped := probeItems, probeSkipped
	if probeTotal > 1 {
		singleItems, singleSkipped, err = session.LoadPlaylist(ctx, o.Job.URL, 2, true)
		if err != nil {
			return nil, err
		}
	}
	singleTotal := len(singleItems) + singleSkipped

	switch {
	case probeTotal > singleTotal:
		if !o.Frontend.OnPlaylistRequest() {
			return singleItems, nil
		}
	case probeTotal > 1:
		// Backend enumerates a playlist even in no-playlist mode.
	default:
		return probeItems, nil
	}

	session.gate.DisablePrompting()
	items, _, err := session.LoadPlaylist(ctx, o.Job.URL, 0, false)
	return items, err
}

func (o *Orchestrator) downloadItem(ctx context.Context, session *Session, index, total int, info *backend.VideoInfo) error {
	rawTitle := info.Title
	if rawTitle == "" {
		rawTitle = info.ID
	}
	if rawTitle == "" {
		rawTitle = "video"
	}
	title, err := sanitize.Shorten(rawTitle, o.Job.MaxTitleBytes)
	if err != nil {
		return o.fatal(fmt.Sprintf("cannot derive a file name for %q: %v", rawTitle, err))
	}

	o.Frontend.OnDownloadStart(index, total, rawTitle)

	for !o.Frontend.OnDownloadLock(title) {
		if err := ctx.Err(); err != nil {
			return err
		}
		o.Sleep(time.Second)
	}

	audioMode := o.Job.Mode == config.ModeAudio
	existing, err := fileops.FindExistingDownload(o.Job.DownloadDir, title, audioMode)
	if err != nil {
		return o.fatal(err.Error())
	}
	if existing != "" {
		o.Logf("already downloaded: %s", existing)
		o.Frontend.OnDownloadFinished(existing)
		return nil
	}

	staging := filepath.Join(o.Job.DownloadDir, title+".part")
	if err := fileops.EnsureDownloadDirs(o.Job.DownloadDir, staging); err != nil {
		return o.fatal(err.Error())
	}

	// Persist the resolved metadata as the item's resume token.
	infoPath := filepath.Join(staging, sanitize.Filename(info.ID)+".info.json")
	if err := info.SaveInfoFile(infoPath); err != nil {
		return o.fatal(fmt.Sprintf("persist item metadata: %v", err))
	}

	autoLangs := reconcileAutomaticCaptions(info, o.Job.AutomaticSubtitles)
	langs := subtitleSelection(info, autoLangs)

	mediaPath, err := session.LoadVideo(ctx, staging, infoPath, langs, len(autoLangs) > 0)
	if err != nil {
		if errors.Is(err, ErrFatal) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		return o.fatal(err.Error())
	}

	finalName := title + filepath.Ext(mediaPath)
	if err := fileops.PlaceFinishedDownload(mediaPath, filepath.Join(o.Job.DownloadDir, finalName)); err != nil {
		return o.fatal(err.Error())
	}
	if err := fileops.CleanupStagingDir(staging); err != nil {
		o.Logf("staging cleanup: %v", err)
	}

	o.Frontend.OnDownloadFinished(finalName)
	return nil
}

func (o *Orchestrator) fatal(message string) error {
	o.Frontend.OnError(message)
	return fmt.Errorf("%w: %s", ErrFatal, message)
}

// reconcileAutomaticCaptions resolves the requested automatic-subtitle tags
// against the caption tracks the backend reported. A requested tag of "all"
// keeps every automatic track. Otherwise an explicit subtitle track for a
// tag always wins over its automatic caption, and a translated variant
// "xx-YY" satisfies a request for "xx" only when "xx" itself has no
// automatic track and the request was not already satisfied.
func reconcileAutomaticCaptions(info *backend.VideoInfo, requested []string) []string {
	if len(requested) == 0 || len(info.AutomaticCaptions) == 0 {
		return nil
	}

	available := make([]string, 0, len(info.AutomaticCaptions))
	for lang := range info.AutomaticCaptions {
		available = append(available, lang)
	}
	sort.Strings(available)

	langs := []string{}
	for _, want := range requested {
		if want == "all" {
			return available
		}
		if _, ok := info.Subtitles[want]; ok {
			continue
		}
		if _, ok := info.AutomaticCaptions[want]; ok {
			langs = append(langs, want)
			continue
		}
		if variant := matchTranslatedVariant(want, available); variant != "" {
			langs = append(langs, variant)
		}
	}
	return langs
}

// matchTranslatedVariant finds the first available tag sharing the base
// language of want. Tags the language parser rejects fall back to a plain
// prefix comparison.
func matchTranslatedVariant(want string, available []string) string {
	wantTag, wantErr := language.Parse(want)
	for _, have := range available {
		if have == want {
			continue
		}
		if wantErr != nil {
			if strings.HasPrefix(have, want+"-") {
				return have
			}
			continue
		}
		haveTag, err := language.Parse(have)
		if err != nil {
			if strings.HasPrefix(have, want+"-") {
				return have
			}
			continue
		}
		wantBase, _ := wantTag.Base()
		haveBase, _ := haveTag.Base()
		if haveBase == wantBase {
			return have
		}
	}
	return ""
}

// subtitleSelection builds the subtitle language list for one fetch: every
// explicit track the item offers plus the reconciled automatic captions.
// With nothing known upfront, "all" lets the backend decide.
func subtitleSelection(info *backend.VideoInfo, autoLangs []string) []string {
	langs := make([]string, 0, len(info.Subtitles)+len(autoLangs))
	for lang := range info.Subtitles {
		langs = append(langs, lang)
	}
	sort.Strings(langs)
	langs = append(langs, autoLangs...)
	if len(langs) == 0 {
		return []string{"all"}
	}
	return langs
}
