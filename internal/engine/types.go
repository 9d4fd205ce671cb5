package engine

import (
	"errors"

	"github.com/mvolf/vgrab/internal/config"
)

// ErrFatal marks failures that were already reported through the frontend's
// error channel. Callers map it to a non-zero exit without printing again.
var ErrFatal = errors.New("download failed")

// Job is one user-requested URL plus its derived configuration. A Job is
// immutable for its lifetime except for the credential fields, which the auth
// gate fills in after an interactive prompt.
type Job struct {
	URL                string
	DownloadDir        string
	Mode               config.Mode
	Resolution         int
	PreferMPEG         bool
	AutomaticSubtitles []string

	MaxTitleBytes   int
	Retries         int
	FragmentRetries int

	Username      string
	Password      string
	VideoPassword string
}

// Frontend is the interactive collaborator driving one job: a CLI, a GUI, or
// a test fake. Prompt methods block; empty responses mean "decline".
type Frontend interface {
	// OnProgress receives every backend progress tick. Unknown values are -1.
	OnProgress(filename string, fraction float64, bytes, bytesTotal, etaSeconds, speedBytesPerSec int64)

	OnDownloadStart(index, total int, title string)
	OnDownloadFinished(filename string)
	OnDownloadThumbnail(absPath string)

	// OnError receives the terminal error message of a fatal failure.
	OnError(message string)

	OnLoginRequest() (username, password string)
	OnPasswordRequest() (password string)
	OnPlaylistRequest() bool

	// OnDownloadLock is a non-blocking poll for exclusive naming rights over
	// a sanitized title. The orchestrator retries at one-second intervals
	// until it is granted.
	OnDownloadLock(title string) bool
}

// RetryState tracks the authentication progress of one run. It is owned by
// the session's auth gate and mutated only by line classification.
type RetryState struct {
	AllowAuthRequest bool
	AuthDeclined     bool
	SkippedCount     int
}

// verdict is the typed outcome of classifying one backend error line.
type verdict int

const (
	verdictContinue verdict = iota // swallowed, backend keeps going
	verdictRetry                   // credentials updated, re-invoke
	verdictFatal                   // unclassified, terminal
)
