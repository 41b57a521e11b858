package media

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/MimeLyc/lingotube/internal/apperr"
	"github.com/MimeLyc/lingotube/pkg/file"
	"github.com/MimeLyc/lingotube/pkg/log"
)

const userAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36"

type ytDlp struct {
	cmd string
}

// NewYtDlp returns a downloader and metadata reader backed by the yt-dlp binary.
func NewYtDlp(cmd string) ytDlp {
	if cmd == "" {
		cmd = "yt-dlp"
	}
	return ytDlp{cmd: cmd}
}

func (y ytDlp) DownloadAudio(ctx context.Context, videoURL, dir, baseName string) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", apperr.Wrap(err, apperr.KindInternal, "create temp dir")
	}

	output := filepath.Join(dir, baseName+".%(ext)s")
	if _, err := y.run(ctx, y.downloadArgs(videoURL, output)...); err != nil {
		y.removePartial(dir, baseName)
		return "", err
	}

	matches, err := file.FindByPrefix(dir, baseName)
	if err != nil {
		return "", apperr.Wrap(err, apperr.KindInternal, "list temp dir")
	}
	for _, m := range matches {
		if !strings.HasSuffix(m, ".part") {
			log.Debug("Downloaded audio %s", m)
			return m, nil
		}
	}
	y.removePartial(dir, baseName)
	return "", apperr.Wrap(ErrNoAudio, apperr.KindTransient, "download audio").WithContext("base", baseName)
}

func (y ytDlp) Metadata(ctx context.Context, videoURL string) (*Metadata, error) {
	out, err := y.run(ctx, y.metadataArgs(videoURL)...)
	if err != nil {
		return nil, err
	}

	var info struct {
		ID           string  `json:"id"`
		Title        string  `json:"title"`
		Description  string  `json:"description"`
		Duration     float64 `json:"duration"`
		Thumbnail    string  `json:"thumbnail"`
		Availability string  `json:"availability"`
		IsLive       bool    `json:"is_live"`
	}
	if err := json.Unmarshal(out, &info); err != nil {
		return nil, apperr.Wrap(err, apperr.KindInternal, "parse yt-dlp metadata")
	}

	return &Metadata{
		VideoID:     info.ID,
		Title:       info.Title,
		Description: info.Description,
		Duration:    time.Duration(info.Duration * float64(time.Second)),
		Thumbnail:   info.Thumbnail,
		IsPrivate:   info.Availability == "private",
		IsLive:      info.IsLive,
	}, nil
}

func (y ytDlp) run(ctx context.Context, args ...string) ([]byte, error) {
	cmdPath, err := exec.LookPath(y.cmd)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.KindConfig, "yt-dlp not found")
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, cmdPath, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, classifyYtDlpError(stderr.String(), err)
	}
	return stdout.Bytes(), nil
}

// classifyYtDlpError maps yt-dlp's stderr to business errors where the video
// itself is the problem. Everything else is assumed to be transient.
func classifyYtDlpError(stderr string, runErr error) error {
	msg := strings.ToLower(stderr)
	switch {
	case strings.Contains(msg, "private video"):
		return apperr.Wrap(ErrVideoPrivate, apperr.KindBusiness, "视频为私有视频，无法处理")
	case strings.Contains(msg, "video unavailable"),
		strings.Contains(msg, "is not available"),
		strings.Contains(msg, "has been removed"):
		return apperr.Wrap(ErrVideoUnavailable, apperr.KindBusiness, "视频不可用")
	case strings.Contains(msg, "unsupported url"), strings.Contains(msg, "is not a valid url"):
		return apperr.Wrap(ErrInvalidURL, apperr.KindBusiness, "无效的 YouTube 视频链接")
	}
	return apperr.Wrap(fmt.Errorf("%w: %s", runErr, strings.TrimSpace(stderr)), apperr.KindTransient, "yt-dlp failed")
}

func (y ytDlp) removePartial(dir, baseName string) {
	matches, _ := file.FindByPrefix(dir, baseName)
	for _, m := range matches {
		if err := file.RemoveQuietly(m); err != nil {
			log.Warn("Failed to remove partial download %s: %v", m, err)
		}
	}
}

func (ytDlp) downloadArgs(videoURL, output string) []string {
	return []string{
		"--extract-audio",
		"--audio-format", "mp3",
		"--output", output,
		"--no-check-certificates",
		"--no-warnings",
		"--prefer-free-formats",
		"--no-playlist",
		"--add-header", "referer:youtube.com",
		"--add-header", "user-agent:" + userAgent,
		videoURL,
	}
}

func (ytDlp) metadataArgs(videoURL string) []string {
	return []string{
		"--dump-json",
		"--skip-download",
		"--no-warnings",
		"--no-playlist",
		videoURL,
	}
}
