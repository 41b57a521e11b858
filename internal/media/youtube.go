package media

import (
	"net/url"
	"regexp"
	"strings"
)

var videoIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{11}$`)

// ParseVideoID extracts the 11 character video id from the common YouTube URL
// shapes: watch?v=, youtu.be/, /shorts/, /embed/, /live/ and /v/.
func ParseVideoID(raw string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Host == "" {
		return "", ErrInvalidURL
	}

	host := strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
	host = strings.TrimPrefix(host, "m.")
	host = strings.TrimPrefix(host, "music.")

	var id string
	switch host {
	case "youtu.be":
		id = firstSegment(u.Path)
	case "youtube.com", "youtube-nocookie.com":
		segments := strings.Split(strings.Trim(u.Path, "/"), "/")
		switch {
		case segments[0] == "watch":
			id = u.Query().Get("v")
		case len(segments) >= 2 && (segments[0] == "shorts" || segments[0] == "embed" || segments[0] == "live" || segments[0] == "v"):
			id = segments[1]
		}
	default:
		return "", ErrInvalidURL
	}

	if !videoIDPattern.MatchString(id) {
		return "", ErrInvalidURL
	}
	return id, nil
}

// IsYouTubeURL reports whether raw parses to a video id.
func IsYouTubeURL(raw string) bool {
	_, err := ParseVideoID(raw)
	return err == nil
}

func firstSegment(path string) string {
	path = strings.Trim(path, "/")
	if i := strings.IndexByte(path, '/'); i >= 0 {
		return path[:i]
	}
	return path
}
