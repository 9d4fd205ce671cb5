package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type LoadOptions struct {
	ExplicitPath string
	WorkingDir   string
	Env          map[string]string
}

type fileConfig struct {
	Version  *int         `yaml:"version"`
	Defaults fileDefaults `yaml:"defaults"`
}

type fileDefaults struct {
	DownloadDir        *string   `yaml:"download_dir"`
	Mode               *string   `yaml:"mode"`
	Resolution         *int      `yaml:"resolution"`
	PreferMPEG         *bool     `yaml:"prefer_mpeg"`
	AutomaticSubtitles *[]string `yaml:"automatic_subtitles"`
	LockDir            *string   `yaml:"lock_dir"`
	Retries            *int      `yaml:"retries"`
	FragmentRetries    *int      `yaml:"fragment_retries"`
	MaxTitleBytes      *int      `yaml:"max_title_bytes"`
}

func Load(opts LoadOptions) (Config, error) {
	cfg := DefaultConfig()

	cwd := opts.WorkingDir
	if strings.TrimSpace(cwd) == "" {
		wd, err := os.Getwd()
		if err != nil {
			return Config{}, fmt.Errorf("resolve working directory: %w", err)
		}
		cwd = wd
	}

	env := opts.Env
	if env == nil {
		env = osEnvMap()
	}

	if explicit := strings.TrimSpace(opts.ExplicitPath); explicit != "" {
		if err := mergeFile(&cfg, explicit, true); err != nil {
			return Config{}, err
		}
	} else {
		userPath, err := UserConfigPath()
		if err != nil {
			return Config{}, err
		}
		if err := mergeFile(&cfg, userPath, false); err != nil {
			return Config{}, err
		}

		if err := mergeFile(&cfg, ProjectConfigPath(cwd), false); err != nil {
			return Config{}, err
		}
	}

	if err := applyEnvOverrides(&cfg, env); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func mergeFile(cfg *Config, path string, required bool) error {
	payload, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) && !required {
			return nil
		}
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("config file does not exist: %s", path)
		}
		return fmt.Errorf("read config file %s: %w", path, err)
	}

	var fc fileConfig
	if err := yaml.Unmarshal(payload, &fc); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}

	if fc.Version != nil {
		cfg.Version = *fc.Version
	}
	if fc.Defaults.DownloadDir != nil {
		cfg.Defaults.DownloadDir = strings.TrimSpace(*fc.Defaults.DownloadDir)
	}
	if fc.Defaults.Mode != nil {
		cfg.Defaults.Mode = Mode(strings.TrimSpace(strings.ToLower(*fc.Defaults.Mode)))
	}
	if fc.Defaults.Resolution != nil {
		cfg.Defaults.Resolution = *fc.Defaults.Resolution
	}
	if fc.Defaults.PreferMPEG != nil {
		cfg.Defaults.PreferMPEG = *fc.Defaults.PreferMPEG
	}
	if fc.Defaults.AutomaticSubtitles != nil {
		cfg.Defaults.AutomaticSubtitles = trimmedList(*fc.Defaults.AutomaticSubtitles)
	}
	if fc.Defaults.LockDir != nil {
		cfg.Defaults.LockDir = strings.TrimSpace(*fc.Defaults.LockDir)
	}
	if fc.Defaults.Retries != nil {
		cfg.Defaults.Retries = *fc.Defaults.Retries
	}
	if fc.Defaults.FragmentRetries != nil {
		cfg.Defaults.FragmentRetries = *fc.Defaults.FragmentRetries
	}
	if fc.Defaults.MaxTitleBytes != nil {
		cfg.Defaults.MaxTitleBytes = *fc.Defaults.MaxTitleBytes
	}

	return nil
}

func applyEnvOverrides(cfg *Config, env map[string]string) error {
	if value := strings.TrimSpace(env["VGRAB_DOWNLOAD_DIR"]); value != "" {
		cfg.Defaults.DownloadDir = value
	}
	if value := strings.TrimSpace(env["VGRAB_MODE"]); value != "" {
		cfg.Defaults.Mode = Mode(strings.ToLower(value))
	}
	if value := strings.TrimSpace(env["VGRAB_RESOLUTION"]); value != "" {
		parsed, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid VGRAB_RESOLUTION value %q: %w", value, err)
		}
		cfg.Defaults.Resolution = parsed
	}
	if value := strings.TrimSpace(env["VGRAB_PREFER_MPEG"]); value != "" {
		parsed, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid VGRAB_PREFER_MPEG value %q: %w", value, err)
		}
		cfg.Defaults.PreferMPEG = parsed
	}
	if value := strings.TrimSpace(env["VGRAB_AUTOMATIC_SUBTITLES"]); value != "" {
		cfg.Defaults.AutomaticSubtitles = trimmedList(strings.Split(value, ","))
	}
	if value := strings.TrimSpace(env["VGRAB_LOCK_DIR"]); value != "" {
		cfg.Defaults.LockDir = value
	}
	return nil
}

func trimmedList(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if trimmed := strings.TrimSpace(v); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func osEnvMap() map[string]string {
	result := map[string]string{}
	for _, pair := range os.Environ() {
		pieces := strings.SplitN(pair, "=", 2)
		if len(pieces) == 2 {
			result[pieces[0]] = pieces[1]
		}
	}
	return result
}
