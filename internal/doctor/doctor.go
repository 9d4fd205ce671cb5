// Package doctor inspects the host for everything a download run needs: the
// external binaries, their versions, and writable directories.
package doctor

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"strconv"
	"strings"

	"github.com/mvolf/vgrab/internal/config"
)

type Severity string

const (
	SeverityInfo  Severity = "info"
	SeverityWarn  Severity = "warn"
	SeverityError Severity = "error"
)

type Check struct {
	Severity Severity `json:"severity"`
	Name     string   `json:"name"`
	Message  string   `json:"message"`
}

type Report struct {
	Checks []Check `json:"checks"`
}

func (r Report) HasErrors() bool {
	for _, check := range r.Checks {
		if check.Severity == SeverityError {
			return true
		}
	}
	return false
}

func (r Report) ErrorCount() int {
	count := 0
	for _, check := range r.Checks {
		if check.Severity == SeverityError {
			count++
		}
	}
	return count
}

type Checker struct {
	LookPath      func(string) (string, error)
	ReadVersion   func(context.Context, string) (string, error)
	Getenv        func(string) string
	CheckWritable func(string) error
}

func NewChecker() *Checker {
	return &Checker{
		LookPath:      exec.LookPath,
		ReadVersion:   defaultReadVersion,
		Getenv:        os.Getenv,
		CheckWritable: checkDirWritable,
	}
}

type dependency struct {
	Binary     string
	EnvVar     string
	MinVersion string
}

// yt-dlp versions are date-based; the minimum below is the first release
// with the format-sort syntax the engine emits.
func requiredBinaries() []dependency {
	return []dependency{
		{Binary: "yt-dlp", EnvVar: "VGRAB_YTDLP_BIN", MinVersion: "2023.1.0"},
		{Binary: "ffmpeg", EnvVar: "VGRAB_FFMPEG_BIN", MinVersion: "4.0.0"},
	}
}

func (c *Checker) Check(ctx context.Context, cfg config.Config) Report {
	report := Report{Checks: []Check{}}

	for _, dep := range requiredBinaries() {
		binary := dep.Binary
		if override := strings.TrimSpace(c.Getenv(dep.EnvVar)); override != "" {
			binary = override
		}

		location, err := c.LookPath(binary)
		if err != nil {
			report.Checks = append(report.Checks, Check{
				Severity: SeverityError,
				Name:     "dependency",
				Message:  fmt.Sprintf("%s not found in PATH", binary),
			})
			continue
		}
		report.Checks = append(report.Checks, Check{
			Severity: SeverityInfo,
			Name:     "dependency",
			Message:  fmt.Sprintf("%s found at %s", dep.Binary, location),
		})

		output, versionErr := c.ReadVersion(ctx, binary)
		if versionErr != nil {
			report.Checks = append(report.Checks, Check{
				Severity: SeverityWarn,
				Name:     "dependency",
				Message:  fmt.Sprintf("%s version could not be read: %v", dep.Binary, versionErr),
			})
			continue
		}

		version, parseErr := extractVersion(output)
		if parseErr != nil {
			report.Checks = append(report.Checks, Check{
				Severity: SeverityWarn,
				Name:     "dependency",
				Message:  fmt.Sprintf("%s version output is unrecognized: %q", dep.Binary, strings.TrimSpace(output)),
			})
			continue
		}

		if compareVersions(version, dep.MinVersion) < 0 {
			report.Checks = append(report.Checks, Check{
				Severity: SeverityError,
				Name:     "dependency",
				Message:  fmt.Sprintf("%s version %s is below minimum %s", dep.Binary, version, dep.MinVersion),
			})
			continue
		}

		report.Checks = append(report.Checks, Check{
			Severity: SeverityInfo,
			Name:     "dependency",
			Message:  fmt.Sprintf("%s version %s is compatible", dep.Binary, version),
		})
	}

	downloadDir, err := config.ExpandPath(cfg.Defaults.DownloadDir)
	if err != nil {
		report.Checks = append(report.Checks, Check{
			Severity: SeverityError,
			Name:     "filesystem",
			Message:  fmt.Sprintf("download_dir is invalid: %v", err),
		})
	} else if err := c.CheckWritable(downloadDir); err != nil {
		report.Checks = append(report.Checks, Check{
			Severity: SeverityError,
			Name:     "filesystem",
			Message:  fmt.Sprintf("download_dir is not writable: %v", err),
		})
	} else {
		report.Checks = append(report.Checks, Check{
			Severity: SeverityInfo,
			Name:     "filesystem",
			Message:  fmt.Sprintf("download_dir %s is writable", downloadDir),
		})
	}

	lockDir, err := config.ExpandPath(cfg.Defaults.LockDir)
	if err != nil {
		report.Checks = append(report.Checks, Check{
			Severity: SeverityError,
			Name:     "filesystem",
			Message:  fmt.Sprintf("lock_dir is invalid: %v", err),
		})
	} else if err := os.MkdirAll(lockDir, 0o755); err != nil {
		report.Checks = append(report.Checks, Check{
			Severity: SeverityError,
			Name:     "filesystem",
			Message:  fmt.Sprintf("lock_dir cannot be created: %v", err),
		})
	} else if err := c.CheckWritable(lockDir); err != nil {
		report.Checks = append(report.Checks, Check{
			Severity: SeverityError,
			Name:     "filesystem",
			Message:  fmt.Sprintf("lock_dir is not writable: %v", err),
		})
	} else {
		report.Checks = append(report.Checks, Check{
			Severity: SeverityInfo,
			Name:     "filesystem",
			Message:  fmt.Sprintf("lock_dir %s is writable", lockDir),
		})
	}

	if err := config.Validate(cfg); err != nil {
		report.Checks = append(report.Checks, Check{
			Severity: SeverityError,
			Name:     "config",
			Message:  fmt.Sprintf("configuration is invalid: %v", err),
		})
	} else {
		report.Checks = append(report.Checks, Check{
			Severity: SeverityInfo,
			Name:     "config",
			Message:  "configuration is valid",
		})
	}

	return report
}

func defaultReadVersion(ctx context.Context, binary string) (string, error) {
	cmd := exec.CommandContext(ctx, binary, "--version")
	output, err := cmd.CombinedOutput()
	if err != nil {
		return "", err
	}
	return string(output), nil
}

func checkDirWritable(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", path)
	}

	file, err := os.CreateTemp(path, ".vgrab-write-check-*")
	if err != nil {
		return err
	}
	name := file.Name()
	_ = file.Close()
	_ = os.Remove(name)
	return nil
}

var versionPattern = regexp.MustCompile(`(\d+)\.(\d+)\.(\d+)`)

func extractVersion(raw string) (string, error) {
	matches := versionPattern.FindStringSubmatch(raw)
	if len(matches) != 4 {
		return "", fmt.Errorf("no version number found")
	}
	return fmt.Sprintf("%s.%s.%s", matches[1], matches[2], matches[3]), nil
}

func compareVersions(lhs string, rhs string) int {
	leftParts := strings.Split(lhs, ".")
	rightParts := strings.Split(rhs, ".")
	for i := 0; i < 3; i++ {
		leftValue := 0
		rightValue := 0
		if i < len(leftParts) {
			leftValue, _ = strconv.Atoi(leftParts[i])
		}
		if i < len(rightParts) {
			rightValue, _ = strconv.Atoi(rightParts[i])
		}
		if leftValue > rightValue {
			return 1
		}
		if leftValue < rightValue {
			return -1
		}
	}
	return 0
}
