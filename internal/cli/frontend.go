package cli

import (
	"bufio"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/schollz/progressbar/v3"

	"github.com/mvolf/vgrab/internal/namelock"
	"github.com/mvolf/vgrab/internal/output"
)

// consoleFrontend answers the engine's callbacks for one job: it renders
// progress, forwards events into the emitter, serves interactive prompts
// from the app's input, and backs the name-lock poll with lock files.
type consoleFrontend struct {
	app     *AppContext
	emitter output.EventEmitter
	locks   *namelock.Manager
	reader  *bufio.Reader
	jobID   string

	interactive bool
	allowPrompt bool

	bar       *progressbar.ProgressBar
	barFile   string
	heldTitle string
}

func newConsoleFrontend(app *AppContext, emitter output.EventEmitter, locks *namelock.Manager, jobID string, allowPrompt bool) *consoleFrontend {
	return &consoleFrontend{
		app:         app,
		emitter:     emitter,
		locks:       locks,
		reader:      bufio.NewReader(app.IO.In),
		jobID:       jobID,
		interactive: !app.Opts.JSON && !app.Opts.Quiet,
		allowPrompt: allowPrompt,
	}
}

func (f *consoleFrontend) emit(level output.Level, name output.EventName, item, message string, details map[string]any) {
	_ = f.emitter.Emit(output.Event{
		Timestamp: time.Now(),
		Level:     level,
		Event:     name,
		JobID:     f.jobID,
		Item:      item,
		Message:   message,
		Details:   details,
	})
}

func (f *consoleFrontend) OnProgress(filename string, fraction float64, bytes, bytesTotal, etaSeconds, speedBytesPerSec int64) {
	base := filepath.Base(filename)

	// Downloading ticks always carry a fraction; a finished tick does not.
	if fraction < 0 {
		f.finishBar()
		f.emit(output.LevelInfo, output.EventItemProgress, base, fmt.Sprintf("%s done", base), nil)
		return
	}

	if f.interactive {
		f.renderBar(base, bytes, bytesTotal)
		return
	}

	message := fmt.Sprintf("%s %.1f%%", base, fraction*100)
	if bytes >= 0 {
		message = fmt.Sprintf("%s %s", base, humanize.Bytes(uint64(bytes)))
		if bytesTotal > 0 {
			message = fmt.Sprintf("%s %s/%s", base, humanize.Bytes(uint64(bytes)), humanize.Bytes(uint64(bytesTotal)))
		}
	}
	if speedBytesPerSec > 0 {
		message += fmt.Sprintf(" at %s/s", humanize.Bytes(uint64(speedBytesPerSec)))
	}
	f.emit(output.LevelInfo, output.EventItemProgress, base, message, map[string]any{
		"fraction":    fraction,
		"bytes":       bytes,
		"bytes_total": bytesTotal,
		"eta_seconds": etaSeconds,
		"speed_bps":   speedBytesPerSec,
	})
}

func (f *consoleFrontend) renderBar(base string, bytes, bytesTotal int64) {
	if f.bar == nil || f.barFile != base {
		f.finishBar()
		total := bytesTotal
		if total <= 0 {
			total = -1 // spinner
		}
		f.bar = progressbar.DefaultBytes(total, base)
		f.barFile = base
	}
	if bytes < 0 {
		bytes = 0
	}
	_ = f.bar.Set64(bytes)
}

func (f *consoleFrontend) finishBar() {
	if f.bar == nil {
		return
	}
	_ = f.bar.Finish()
	fmt.Fprintln(f.app.IO.Out)
	f.bar = nil
	f.barFile = ""
}

func (f *consoleFrontend) OnDownloadStart(index, total int, title string) {
	f.emit(output.LevelInfo, output.EventItemStarted, title,
		fmt.Sprintf("(%d/%d) %s", index, total, title), map[string]any{
			"index": index,
			"total": total,
		})
}

func (f *consoleFrontend) OnDownloadFinished(filename string) {
	f.finishBar()
	f.releaseLock()
	f.emit(output.LevelInfo, output.EventItemFinished, filename, fmt.Sprintf("finished %s", filename), nil)
}

func (f *consoleFrontend) OnDownloadThumbnail(absPath string) {
	f.emit(output.LevelInfo, output.EventThumbnailReady, filepath.Base(absPath), fmt.Sprintf("thumbnail %s", absPath), nil)
}

func (f *consoleFrontend) OnError(message string) {
	f.finishBar()
	f.releaseLock()
	f.emit(output.LevelError, output.EventJobFailed, "", message, nil)
}

func (f *consoleFrontend) OnLoginRequest() (string, string) {
	if !f.allowPrompt {
		return "", ""
	}
	username := promptLine(f.app, f.reader, "Username (empty to skip)")
	if username == "" {
		return "", ""
	}
	password := promptLine(f.app, f.reader, "Password")
	return username, password
}

func (f *consoleFrontend) OnPasswordRequest() string {
	if !f.allowPrompt {
		return ""
	}
	return promptLine(f.app, f.reader, "Video password (empty to skip)")
}

func (f *consoleFrontend) OnPlaylistRequest() bool {
	if !f.allowPrompt {
		return false
	}
	return promptYesNo(f.app, f.reader, "This URL is a playlist. Download all items?")
}

func (f *consoleFrontend) OnDownloadLock(title string) bool {
	ok, err := f.locks.TryAcquire(title)
	if err != nil {
		f.emit(output.LevelWarn, output.EventItemStarted, title, fmt.Sprintf("name lock: %v", err), nil)
		return false
	}
	if ok {
		f.heldTitle = title
	}
	return ok
}

func (f *consoleFrontend) releaseLock() {
	if f.heldTitle == "" {
		return
	}
	if err := f.locks.Release(f.heldTitle); err != nil {
		f.emit(output.LevelWarn, output.EventItemFinished, f.heldTitle, fmt.Sprintf("name lock: %v", err), nil)
	}
	f.heldTitle = ""
}

// verboseLogf adapts the emitter to the engine's free-form log hook.
func (f *consoleFrontend) verboseLogf(format string, args ...any) {
	if !f.app.Opts.Verbose {
		return
	}
	message := strings.TrimSpace(fmt.Sprintf(format, args...))
	f.emit(output.LevelInfo, output.EventItemProgress, "", message, nil)
}
