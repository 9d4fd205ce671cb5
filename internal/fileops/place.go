package fileops

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

var (
	statFile   = os.Stat
	renameFile = os.Rename
	makeDirs   = os.MkdirAll
	removeTree = os.RemoveAll
)

// PlaceFinishedDownload moves a finished download from its staging directory
// into the destination directory under its final name. The rename is atomic
// on POSIX filesystems; an existing file under the final name is replaced.
func PlaceFinishedDownload(stagedPath string, finalPath string) error {
	staged := strings.TrimSpace(stagedPath)
	final := strings.TrimSpace(finalPath)
	if staged == "" {
		return fmt.Errorf("staged path is empty")
	}
	if final == "" {
		return fmt.Errorf("final path is empty")
	}
	if staged == final {
		return fmt.Errorf("staged and final paths must differ")
	}

	info, err := statFile(staged)
	if err != nil {
		return fmt.Errorf("stat staged download %q: %w", staged, err)
	}
	if info.IsDir() {
		return fmt.Errorf("staged download is a directory: %s", staged)
	}

	if err := renameFile(staged, final); err != nil {
		return fmt.Errorf("move finished download into place: %w", err)
	}
	return nil
}

// EnsureDownloadDirs creates the destination directory and the per-item
// staging directory beneath it.
func EnsureDownloadDirs(downloadDir string, stagingDir string) error {
	if err := makeDirs(downloadDir, 0o755); err != nil {
		return fmt.Errorf("create download directory %q: %w", downloadDir, err)
	}
	if err := makeDirs(stagingDir, 0o755); err != nil {
		return fmt.Errorf("create staging directory %q: %w", stagingDir, err)
	}
	return nil
}

// CleanupStagingDir removes a staging directory after its download has been
// placed. Failure is not fatal for the download itself.
func CleanupStagingDir(stagingDir string) error {
	if strings.TrimSpace(stagingDir) == "" {
		return nil
	}
	if err := removeTree(stagingDir); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove staging directory %q: %w", stagingDir, err)
	}
	return nil
}

// FindExistingDownload reports the name of an already finished download for
// the given output title, or "" when none exists. Audio-mode downloads match
// exactly the .mp3 extension; any other extension belongs to video mode.
func FindExistingDownload(downloadDir string, outputTitle string, audioMode bool) (string, error) {
	entries, err := os.ReadDir(downloadDir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", nil
		}
		return "", fmt.Errorf("read download directory %q: %w", downloadDir, err)
	}
	for _, entry := range entries {
		name := entry.Name()
		ext := filepath.Ext(name)
		title := strings.TrimSuffix(name, ext)
		if title != outputTitle || ext == "" {
			continue
		}
		isMP3 := strings.EqualFold(ext, ".mp3")
		if audioMode != isMP3 {
			continue
		}
		info, err := entry.Info()
		if err != nil || !info.Mode().IsRegular() {
			continue
		}
		return name, nil
	}
	return "", nil
}
