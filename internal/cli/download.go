package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/mvolf/vgrab/internal/backend"
	"github.com/mvolf/vgrab/internal/config"
	"github.com/mvolf/vgrab/internal/engine"
	"github.com/mvolf/vgrab/internal/exitcode"
	"github.com/mvolf/vgrab/internal/media/ffmpeg"
	"github.com/mvolf/vgrab/internal/namelock"
	"github.com/mvolf/vgrab/internal/output"
)

func newDownloadCommand(app *AppContext) *cobra.Command {
	var dir string
	var mode string
	var resolution int
	var preferMPEG bool
	var autoSubs []string

	cmd := &cobra.Command{
		Use:   "download URL...",
		Short: "Download one or more URLs, resolving playlists interactively",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(app)
			if err != nil {
				return withExitCode(exitcode.InvalidConfig, err)
			}
			applyDownloadFlags(&cfg, cmd, dir, mode, resolution, preferMPEG, autoSubs)
			if err := config.Validate(cfg); err != nil {
				return withExitCode(exitcode.InvalidConfig, err)
			}

			downloadDir, err := config.ExpandPath(cfg.Defaults.DownloadDir)
			if err != nil {
				return withExitCode(exitcode.InvalidConfig, fmt.Errorf("resolve download_dir: %w", err))
			}
			lockDir, err := config.ExpandPath(cfg.Defaults.LockDir)
			if err != nil {
				return withExitCode(exitcode.InvalidConfig, fmt.Errorf("resolve lock_dir: %w", err))
			}

			var emitter output.EventEmitter
			if app.Opts.JSON {
				emitter = output.NewJSONEmitter(app.IO.Out)
			} else {
				emitter = output.NewHumanEmitter(app.IO.Out, app.IO.ErrOut, app.Opts.Quiet, app.Opts.Verbose)
			}

			client := backend.NewYtDlp()
			transcoder := ffmpeg.NewTranscoder()
			locks := namelock.NewManager(lockDir)
			defer locks.ReleaseAll()

			allowPrompt := !app.Opts.NoInput && !app.Opts.JSON && isTTY(os.Stdin)

			ctx, stop := signal.NotifyContext(context.Background(), interruptSignals()...)
			defer stop()

			skippedTotal := 0
			for _, url := range args {
				skipped, err := runJob(ctx, app, emitter, client, transcoder, locks, cfg, downloadDir, url, allowPrompt)
				if err != nil {
					return err
				}
				skippedTotal += skipped
			}
			if skippedTotal > 0 {
				return withExitCode(exitcode.PartialSuccess, fmt.Errorf("%d item(s) skipped", skippedTotal))
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&dir, "dir", "d", "", "Destination directory (defaults to config download_dir)")
	cmd.Flags().StringVarP(&mode, "mode", "m", "", "Download mode: video or audio")
	cmd.Flags().IntVarP(&resolution, "resolution", "r", 0, "Preferred video resolution (e.g. 1080)")
	cmd.Flags().BoolVar(&preferMPEG, "prefer-mpeg", false, "Prefer MPEG codecs (H.264/AAC) over the backend default")
	cmd.Flags().StringArrayVar(&autoSubs, "auto-subs", nil, "Automatic-subtitle language tag (repeatable)")
	return cmd
}

func applyDownloadFlags(cfg *config.Config, cmd *cobra.Command, dir, mode string, resolution int, preferMPEG bool, autoSubs []string) {
	if strings.TrimSpace(dir) != "" {
		cfg.Defaults.DownloadDir = dir
	}
	if strings.TrimSpace(mode) != "" {
		cfg.Defaults.Mode = config.Mode(strings.ToLower(strings.TrimSpace(mode)))
	}
	if resolution > 0 {
		cfg.Defaults.Resolution = resolution
	}
	if cmd.Flags().Changed("prefer-mpeg") {
		cfg.Defaults.PreferMPEG = preferMPEG
	}
	if len(autoSubs) > 0 {
		cfg.Defaults.AutomaticSubtitles = autoSubs
	}
}

func runJob(
	ctx context.Context,
	app *AppContext,
	emitter output.EventEmitter,
	client backend.Client,
	transcoder ffmpeg.Runner,
	locks *namelock.Manager,
	cfg config.Config,
	downloadDir string,
	url string,
	allowPrompt bool,
) (int, error) {
	jobID := uuid.NewString()
	frontend := newConsoleFrontend(app, emitter, locks, jobID, allowPrompt)

	job := &engine.Job{
		URL:                url,
		DownloadDir:        downloadDir,
		Mode:               cfg.Defaults.Mode,
		Resolution:         cfg.Defaults.Resolution,
		PreferMPEG:         cfg.Defaults.PreferMPEG,
		AutomaticSubtitles: cfg.Defaults.AutomaticSubtitles,
		MaxTitleBytes:      cfg.Defaults.MaxTitleBytes,
		Retries:            cfg.Defaults.Retries,
		FragmentRetries:    cfg.Defaults.FragmentRetries,
	}

	frontend.emit(output.LevelInfo, output.EventJobStarted, "", fmt.Sprintf("downloading %s", url), map[string]any{
		"url":  url,
		"mode": string(job.Mode),
	})

	orchestrator := engine.NewOrchestrator(client, transcoder, frontend, job)
	orchestrator.Logf = frontend.verboseLogf

	start := time.Now()
	runErr := orchestrator.Run(ctx)
	if runErr != nil {
		switch {
		case errors.Is(runErr, context.Canceled):
			return 0, withExitCode(exitcode.Interrupted, fmt.Errorf("download interrupted"))
		case errors.Is(runErr, engine.ErrFatal):
			// Already reported through the frontend's error channel.
			return 0, withExitCode(exitcode.RuntimeFailure, runErr)
		default:
			frontend.OnError(runErr.Error())
			return 0, withExitCode(exitcode.RuntimeFailure, runErr)
		}
	}

	frontend.emit(output.LevelInfo, output.EventJobFinished, "", fmt.Sprintf("done %s", url), map[string]any{
		"url":         url,
		"duration_ms": time.Since(start).Milliseconds(),
		"skipped":     orchestrator.SkippedItems(),
	})
	return orchestrator.SkippedItems(), nil
}
