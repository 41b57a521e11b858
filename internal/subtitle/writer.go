// Package subtitle renders processed subtitles as SRT.
package subtitle

import (
	"bufio"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/MimeLyc/lingotube/internal/video"
)

// Mode selects which text goes into each cue.
type Mode string

const (
	ModeOriginal   Mode = "original"
	ModeTranslated Mode = "translated"
	// ModeBilingual puts the original on the first line and the translation below it.
	ModeBilingual Mode = "bilingual"
)

func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case "":
		return ModeBilingual, nil
	case ModeOriginal, ModeTranslated, ModeBilingual:
		return m, nil
	}
	return "", fmt.Errorf("unknown subtitle mode %q", s)
}

// WriteSRT writes subs as numbered SRT cues. In translated mode an entry that
// has no translation yet falls back to its original text.
func WriteSRT(w io.Writer, subs []video.Subtitle, mode Mode) error {
	bw := bufio.NewWriter(w)
	for i, sub := range subs {
		fmt.Fprintf(bw, "%d\n", i+1)
		fmt.Fprintf(bw, "%s --> %s\n", formatTimestamp(sub.Start), formatTimestamp(sub.End))
		fmt.Fprintf(bw, "%s\n\n", cueText(sub, mode))
	}
	return bw.Flush()
}

func cueText(sub video.Subtitle, mode Mode) string {
	switch mode {
	case ModeOriginal:
		return sub.OriginText
	case ModeTranslated:
		if sub.TranslatedText == "" {
			return sub.OriginText
		}
		return sub.TranslatedText
	default:
		if sub.TranslatedText == "" {
			return sub.OriginText
		}
		return sub.OriginText + "\n" + sub.TranslatedText
	}
}

// formatTimestamp formats seconds as HH:MM:SS,mmm.
func formatTimestamp(secs float64) string {
	if secs < 0 {
		secs = 0
	}
	d := time.Duration(secs*1000+0.5) * time.Millisecond
	hours := int(d.Hours())
	minutes := int(d.Minutes()) % 60
	seconds := int(d.Seconds()) % 60
	milliseconds := int(d.Milliseconds()) % 1000

	return fmt.Sprintf("%02d:%02d:%02d,%03d", hours, minutes, seconds, milliseconds)
}
