package config

import (
	"fmt"
	"path/filepath"
	"strings"
)

// Shorter budgets cannot hold the ellipsis plus a usable prefix.
const minTitleBytes = 8

type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	if len(e.Problems) == 0 {
		return "invalid config"
	}
	return fmt.Sprintf("invalid config: %s", strings.Join(e.Problems, "; "))
}

func Validate(cfg Config) error {
	problems := []string{}

	if cfg.Version != 1 {
		problems = append(problems, "version must be 1")
	}

	downloadDir, err := ExpandPath(cfg.Defaults.DownloadDir)
	if err != nil || strings.TrimSpace(downloadDir) == "" {
		problems = append(problems, "defaults.download_dir must be a valid path")
	} else if !filepath.IsAbs(downloadDir) {
		problems = append(problems, "defaults.download_dir must resolve to an absolute path")
	}

	lockDir, err := ExpandPath(cfg.Defaults.LockDir)
	if err != nil || strings.TrimSpace(lockDir) == "" {
		problems = append(problems, "defaults.lock_dir must be a valid path")
	}

	switch cfg.Defaults.Mode {
	case ModeVideo, ModeAudio:
	default:
		problems = append(problems, fmt.Sprintf("defaults.mode must be %q or %q", ModeVideo, ModeAudio))
	}

	if cfg.Defaults.Resolution <= 0 {
		problems = append(problems, "defaults.resolution must be > 0")
	}
	if cfg.Defaults.Retries <= 0 {
		problems = append(problems, "defaults.retries must be > 0")
	}
	if cfg.Defaults.FragmentRetries <= 0 {
		problems = append(problems, "defaults.fragment_retries must be > 0")
	}
	if cfg.Defaults.MaxTitleBytes < minTitleBytes {
		problems = append(problems, fmt.Sprintf("defaults.max_title_bytes must be >= %d", minTitleBytes))
	}

	for _, lang := range cfg.Defaults.AutomaticSubtitles {
		if strings.TrimSpace(lang) == "" {
			problems = append(problems, "defaults.automatic_subtitles must not contain empty language tags")
		}
	}

	if len(problems) > 0 {
		return &ValidationError{Problems: problems}
	}
	return nil
}
