// Package backend wraps the external media-extraction backend. The engine
// treats it as an opaque dependency behind the Client interface; the real
// implementation drives a yt-dlp subprocess.
package backend

import "context"

// Action tells the backend what to do after a classified error line.
type Action int

const (
	ActionContinue Action = iota
	ActionAbort
)

// Progress is one progress tick. Unknown values are -1.
type Progress struct {
	Filename         string
	Fraction         float64
	Bytes            int64
	BytesTotal       int64
	ETASeconds       int64
	SpeedBytesPerSec int64
	Finished         bool
}

// PostProcessor receives one item's metadata after its assets are
// materialized and returns the paths it made obsolete. The caller deletes
// them only after the post-processor has returned, so replacement artifacts
// are durably written first.
type PostProcessor interface {
	Run(ctx context.Context, info *VideoInfo) (filesToDelete []string, err error)
}

type Options struct {
	// WorkDir is the private working directory of one invocation.
	WorkDir        string
	OutputTemplate string

	WriteInfoJSON bool
	SkipDownload  bool

	// PlaylistEnd bounds enumeration; 0 means unbounded.
	PlaylistEnd int
	NoPlaylist  bool

	WriteSubtitles    bool
	WriteAutomaticSub bool
	WriteThumbnail    bool
	SubtitleLangs     []string
	SubtitleFormat    string

	Retries         int
	FragmentRetries int
	CookieFile      string

	Username      string
	Password      string
	VideoPassword string

	Format     string
	FormatSort []string

	ExtractAudio   string // target audio codec, empty to keep the container
	AudioQuality   string
	EmbedThumbnail bool
	EmbedMetadata  bool
	EmbedSubtitles bool
	XAttrs         bool

	// OnErrorLine classifies backend error/warning lines. Returning
	// ActionAbort stops the invocation immediately.
	OnErrorLine func(line string) Action
	OnProgress  func(p Progress)

	PostProcessors []PostProcessor
}

type Client interface {
	// Download enumerates url and, unless SkipDownload is set, fetches its
	// items into WorkDir.
	Download(ctx context.Context, url string, opts Options) error

	// DownloadWithInfoFile fetches a single item resuming from a previously
	// persisted info file, runs the registered post-processors, and leaves
	// the final media path in the item's metadata.
	DownloadWithInfoFile(ctx context.Context, infoPath string, opts Options) error
}
