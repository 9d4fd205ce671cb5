package engine

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/mvolf/vgrab/internal/backend"
	"github.com/mvolf/vgrab/internal/config"
)

func newTestOrchestrator(t *testing.T, client backend.Client, frontend Frontend, job *Job) *Orchestrator {
	t.Helper()
	if job.DownloadDir == "" {
		job.DownloadDir = t.TempDir()
	}
	if job.MaxTitleBytes == 0 {
		job.MaxTitleBytes = 200
	}
	o := NewOrchestrator(client, noopRunner{}, frontend, job)
	o.TempRoot = filepath.Join(t.TempDir(), "session")
	o.Sleep = func(time.Duration) {}
	return o
}

func TestRunPlaylistLargerThanSingleAsksUser(t *testing.T) {
	client := &fakeClient{
		bounded: []*backend.VideoInfo{item("a", "One"), item("b", "Two")},
		single:  []*backend.VideoInfo{item("a", "One")},
		full:    []*backend.VideoInfo{item("a", "One"), item("b", "Two"), item("c", "Three")},
	}
	frontend := &fakeFrontend{playlist: true}
	o := newTestOrchestrator(t, client, frontend, &Job{URL: "https://example.org/list"})

	if err := o.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if frontend.playlistPrompts != 1 {
		t.Fatalf("playlist prompts = %d, want 1", frontend.playlistPrompts)
	}
	wantCalls := []string{"probe", "single", "full"}
	if len(client.enumCalls) != 3 {
		t.Fatalf("enum calls = %v, want %v", client.enumCalls, wantCalls)
	}
	for i, want := range wantCalls {
		if client.enumCalls[i] != want {
			t.Fatalf("enum calls = %v, want %v", client.enumCalls, wantCalls)
		}
	}
	if len(frontend.finished) != 3 {
		t.Fatalf("finished = %v, want all playlist items", frontend.finished)
	}
}

func TestRunPlaylistDeclinedFallsBackToSingle(t *testing.T) {
	client := &fakeClient{
		bounded: []*backend.VideoInfo{item("a", "One"), item("b", "Two")},
		single:  []*backend.VideoInfo{item("a", "One")},
	}
	frontend := &fakeFrontend{playlist: false}
	o := newTestOrchestrator(t, client, frontend, &Job{URL: "https://example.org/list"})

	if err := o.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if frontend.playlistPrompts != 1 {
		t.Fatalf("playlist prompts = %d, want 1", frontend.playlistPrompts)
	}
	if len(frontend.finished) != 1 || frontend.finished[0] != "One.mp4" {
		t.Fatalf("declining must download the single item only, got %v", frontend.finished)
	}
}

func TestRunSingleItemDoesNotPrompt(t *testing.T) {
	client := &fakeClient{bounded: []*backend.VideoInfo{item("a", "Solo")}}
	frontend := &fakeFrontend{}
	o := newTestOrchestrator(t, client, frontend, &Job{URL: "https://example.org/v"})

	if err := o.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if frontend.playlistPrompts != 0 {
		t.Fatalf("single item must not prompt, got %d prompts", frontend.playlistPrompts)
	}
	if len(client.enumCalls) != 1 || client.enumCalls[0] != "probe" {
		t.Fatalf("single item must reuse the probe result, got %v", client.enumCalls)
	}
	if len(frontend.finished) != 1 || frontend.finished[0] != "Solo.mp4" {
		t.Fatalf("finished = %v", frontend.finished)
	}
}

func TestRunAmbientPlaylistEnumeratesSilently(t *testing.T) {
	// The backend enumerates a playlist even with playlist extraction forced
	// off; no point asking the user in that case.
	client := &fakeClient{
		bounded: []*backend.VideoInfo{item("a", "One"), item("b", "Two")},
		single:  []*backend.VideoInfo{item("a", "One"), item("b", "Two")},
		full:    []*backend.VideoInfo{item("a", "One"), item("b", "Two")},
	}
	frontend := &fakeFrontend{}
	o := newTestOrchestrator(t, client, frontend, &Job{URL: "https://example.org/list"})

	if err := o.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if frontend.playlistPrompts != 0 {
		t.Fatalf("must not prompt, got %d prompts", frontend.playlistPrompts)
	}
	if got := client.enumCalls[len(client.enumCalls)-1]; got != "full" {
		t.Fatalf("expected a silent full enumeration, calls = %v", client.enumCalls)
	}
}

func TestRunExistingDownloadShortCircuits(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "My Video.mp4"), []byte("x"), 0o644); err != nil {
		t.Fatalf("seed existing download: %v", err)
	}

	client := &fakeClient{bounded: []*backend.VideoInfo{item("a", "My Video")}}
	frontend := &fakeFrontend{}
	job := &Job{URL: "https://example.org/v", DownloadDir: dir, Mode: config.ModeVideo}
	o := newTestOrchestrator(t, client, frontend, job)

	if err := o.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(client.fetched) != 0 {
		t.Fatalf("existing download must not be fetched again: %v", client.fetched)
	}
	if len(frontend.finished) != 1 || frontend.finished[0] != "My Video.mp4" {
		t.Fatalf("finished = %v", frontend.finished)
	}
}

func TestRunExistingAudioDoesNotMatchVideoMode(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "My Video.mp3"), []byte("x"), 0o644); err != nil {
		t.Fatalf("seed: %v", err)
	}

	client := &fakeClient{bounded: []*backend.VideoInfo{item("a", "My Video")}}
	frontend := &fakeFrontend{}
	job := &Job{URL: "https://example.org/v", DownloadDir: dir, Mode: config.ModeVideo}
	o := newTestOrchestrator(t, client, frontend, job)

	if err := o.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(client.fetched) != 1 {
		t.Fatalf("an mp3 must not satisfy video mode, fetched = %v", client.fetched)
	}
}

func TestRunTwoItemsFetchesOnlyMissingOne(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "One.mp4"), []byte("x"), 0o644); err != nil {
		t.Fatalf("seed: %v", err)
	}

	client := &fakeClient{
		bounded: []*backend.VideoInfo{item("a", "One"), item("b", "Two")},
		single:  []*backend.VideoInfo{item("a", "One"), item("b", "Two")},
		full:    []*backend.VideoInfo{item("a", "One"), item("b", "Two")},
	}
	frontend := &fakeFrontend{}
	job := &Job{URL: "https://example.org/list", DownloadDir: dir}
	o := newTestOrchestrator(t, client, frontend, job)

	if err := o.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}

	if len(client.fetched) != 1 {
		t.Fatalf("exactly one fetch expected, got %v", client.fetched)
	}
	want := []string{"One.mp4", "Two.mp4"}
	if len(frontend.finished) != 2 || frontend.finished[0] != want[0] || frontend.finished[1] != want[1] {
		t.Fatalf("finished = %v, want %v in index order", frontend.finished, want)
	}
	if _, err := os.Stat(filepath.Join(dir, "Two.mp4")); err != nil {
		t.Fatalf("second item not placed: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "Two.part")); !os.IsNotExist(err) {
		t.Fatalf("staging directory should be cleaned up, stat err: %v", err)
	}
}

func TestRunPollsNameLockUntilGranted(t *testing.T) {
	client := &fakeClient{bounded: []*backend.VideoInfo{item("a", "Solo")}}
	frontend := &fakeFrontend{lockDenials: 3}
	o := newTestOrchestrator(t, client, frontend, &Job{URL: "https://example.org/v"})

	slept := 0
	o.Sleep = func(d time.Duration) {
		if d != time.Second {
			t.Fatalf("poll interval = %v, want 1s", d)
		}
		slept++
	}

	if err := o.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if frontend.lockPolls != 4 || slept != 3 {
		t.Fatalf("polls = %d, sleeps = %d; want 4 and 3", frontend.lockPolls, slept)
	}
}

func TestRunReportsDeclinedItemsAsSkipped(t *testing.T) {
	client := &fakeClient{errLines: []string{"ERROR: Sign in to confirm"}}
	frontend := &fakeFrontend{} // empty login response declines
	o := newTestOrchestrator(t, client, frontend, &Job{URL: "https://example.org/gated"})

	if err := o.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if got := o.SkippedItems(); got != 1 {
		t.Fatalf("skipped = %d, want 1", got)
	}
	if len(frontend.finished) != 0 {
		t.Fatalf("nothing should finish, got %v", frontend.finished)
	}
}

func TestRunTitleFallsBackToIDThenPlaceholder(t *testing.T) {
	client := &fakeClient{bounded: []*backend.VideoInfo{{ID: "abc123", Ext: "mp4"}}}
	frontend := &fakeFrontend{}
	o := newTestOrchestrator(t, client, frontend, &Job{URL: "https://example.org/v"})

	if err := o.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(frontend.finished) != 1 || frontend.finished[0] != "abc123.mp4" {
		t.Fatalf("untitled item should use its id, got %v", frontend.finished)
	}
}

func TestReconcileAutomaticCaptions(t *testing.T) {
	info := &backend.VideoInfo{
		Subtitles: map[string]json.RawMessage{
			"fr": nil,
		},
		AutomaticCaptions: map[string]json.RawMessage{
			"en":    nil,
			"de-DE": nil,
			"fr":    nil,
		},
	}

	got := reconcileAutomaticCaptions(info, []string{"en", "de", "fr", "ja"})
	want := []string{"en", "de-DE"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}

func TestReconcileAutomaticCaptionsAll(t *testing.T) {
	info := &backend.VideoInfo{
		Subtitles: map[string]json.RawMessage{
			"fr": nil,
		},
		AutomaticCaptions: map[string]json.RawMessage{
			"en": nil,
			"de": nil,
		},
	}

	got := reconcileAutomaticCaptions(info, []string{"all"})
	want := []string{"de", "en"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want every automatic caption %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}

func TestReconcileAutomaticCaptionsNothingRequested(t *testing.T) {
	info := &backend.VideoInfo{AutomaticCaptions: map[string]json.RawMessage{"en": nil}}
	if got := reconcileAutomaticCaptions(info, nil); len(got) != 0 {
		t.Fatalf("got %v, want none", got)
	}
}
