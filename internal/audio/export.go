package audio

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// ExportFile writes a WAV buffer to path. Paths ending in .wav are written
// as is; any other extension is transcoded by FFmpeg.
func ExportFile(ctx context.Context, wav []byte, path string) error {
	if strings.EqualFold(filepath.Ext(path), ".wav") {
		if err := os.WriteFile(path, wav, 0o644); err != nil {
			return fmt.Errorf("write %s: %w", path, err)
		}
		return nil
	}

	cmd := exec.CommandContext(ctx, "ffmpeg",
		"-y",
		"-f", "wav",
		"-i", "pipe:0",
		"-loglevel", "error",
		path,
	)
	cmd.Stdin = bytes.NewReader(wav)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("ffmpeg export %s: %w: %s", path, err, strings.TrimSpace(stderr.String()))
	}
	return nil
}
