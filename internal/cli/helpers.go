package cli

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/mvolf/vgrab/internal/config"
)

func loadConfig(app *AppContext) (config.Config, error) {
	wd, err := os.Getwd()
	if err != nil {
		return config.Config{}, fmt.Errorf("resolve working directory: %w", err)
	}

	cfg, err := config.Load(config.LoadOptions{
		ExplicitPath: strings.TrimSpace(app.Opts.ConfigPath),
		WorkingDir:   wd,
	})
	if err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

func isTTY(file *os.File) bool {
	stat, err := file.Stat()
	if err != nil {
		return false
	}
	return (stat.Mode() & os.ModeCharDevice) != 0
}

// promptLine writes prompt and reads one trimmed line from the app's input.
// An empty line means the user declined.
func promptLine(app *AppContext, reader *bufio.Reader, prompt string) string {
	fmt.Fprintf(app.IO.ErrOut, "%s: ", prompt)
	line, _ := reader.ReadString('\n')
	return strings.TrimSpace(line)
}

func promptYesNo(app *AppContext, reader *bufio.Reader, prompt string) bool {
	answer := promptLine(app, reader, prompt+" [y/N]")
	switch strings.ToLower(answer) {
	case "y", "yes":
		return true
	default:
		return false
	}
}
