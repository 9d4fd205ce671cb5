// Package ffmpeg drives the external media transcoder for the subtitle and
// thumbnail pipelines.
package ffmpeg

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
)

type Input struct {
	Path string
	Args []string
}

type Output struct {
	Path string
	Args []string
}

// Runner is implemented by the real transcoder and by test fakes.
type Runner interface {
	Convert(ctx context.Context, in Input, out Output) error
}

type Transcoder struct {
	Bin string
}

func NewTranscoder() *Transcoder {
	bin := "ffmpeg"
	if override := strings.TrimSpace(os.Getenv("VGRAB_FFMPEG_BIN")); override != "" {
		bin = override
	}
	return &Transcoder{Bin: bin}
}

type tailBuffer struct {
	buf []byte
	max int
}

func newTailBuffer(max int) *tailBuffer {
	return &tailBuffer{buf: make([]byte, 0, max), max: max}
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	if len(p) >= t.max {
		t.buf = append(t.buf[:0], p[len(p)-t.max:]...)
		return len(p), nil
	}
	overflow := len(t.buf) + len(p) - t.max
	if overflow > 0 {
		t.buf = append(t.buf[:0], t.buf[overflow:]...)
	}
	t.buf = append(t.buf, p...)
	return len(p), nil
}

func (t *tailBuffer) String() string {
	return string(t.buf)
}

func (t *Transcoder) Convert(ctx context.Context, in Input, out Output) error {
	if strings.TrimSpace(in.Path) == "" {
		return fmt.Errorf("ffmpeg input path is empty")
	}
	if strings.TrimSpace(out.Path) == "" {
		return fmt.Errorf("ffmpeg output path is empty")
	}

	args := []string{"-y", "-hide_banner", "-loglevel", "error"}
	args = append(args, in.Args...)
	args = append(args, "-i", in.Path)
	args = append(args, out.Args...)
	args = append(args, out.Path)

	cmd := exec.CommandContext(ctx, t.Bin, args...)
	stderrTail := newTailBuffer(8 * 1024)
	cmd.Stderr = stderrTail

	if err := cmd.Run(); err != nil {
		detail := strings.TrimSpace(stderrTail.String())
		if detail != "" {
			return fmt.Errorf("%s %s: %w: %s", t.Bin, strings.Join(args, " "), err, detail)
		}
		return fmt.Errorf("%s %s: %w", t.Bin, strings.Join(args, " "), err)
	}
	return nil
}
