package media

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/MimeLyc/lingotube/internal/apperr"
	"github.com/MimeLyc/lingotube/pkg/file"
	"github.com/MimeLyc/lingotube/pkg/log"
)

// RecognizerFormats are the container extensions the speech recognizer accepts as-is.
var RecognizerFormats = map[string]bool{
	".mp3":  true,
	".m4a":  true,
	".wav":  true,
	".mp4":  true,
	".mpeg": true,
	".mpga": true,
	".flac": true,
}

// NeedsTranscode reports whether path must be converted before recognition.
func NeedsTranscode(path string) bool {
	return !RecognizerFormats[strings.ToLower(filepath.Ext(path))]
}

type ffmpeg struct {
	ffmpegCmd string
}

func NewFfmpeg(cmd string) ffmpeg {
	if cmd == "" {
		cmd = "ffmpeg"
	}
	return ffmpeg{ffmpegCmd: cmd}
}

// Transcode converts src to mp3 next to it. The source file is left in place
// for the caller to clean up.
func (ff ffmpeg) Transcode(ctx context.Context, src string) (string, error) {
	output := file.ReplaceExt(src, ".mp3")
	if output == src {
		return src, nil
	}

	cmdPath, err := exec.LookPath(ff.ffmpegCmd)
	if err != nil {
		return "", apperr.Wrap(err, apperr.KindConfig, "ffmpeg not found")
	}

	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, cmdPath, ff.transcodeArgs(src, output)...)
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		_ = file.RemoveQuietly(output)
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		log.Error("Failed to run ffmpeg on %s: %v", src, err)
		return "", apperr.Wrap(fmt.Errorf("%w: %s", err, lastLine(stderr.String())), apperr.KindInternal, "transcode audio")
	}

	return output, nil
}

func (ffmpeg) transcodeArgs(src, output string) []string {
	return []string{
		"-y",
		"-loglevel", "error",
		"-i", src,
		"-vn",
		"-ac", "1",
		"-codec:a", "libmp3lame",
		"-q:a", "4",
		output,
	}
}

func lastLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return s[i+1:]
	}
	return s
}
