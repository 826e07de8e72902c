package youtube

import (
	"errors"
	"regexp"
	"strings"
)

var (
	ErrInvalidURL = errors.New("invalid YouTube URL")

	urlPattern = regexp.MustCompile(`^(https?://)?(www\.)?(youtube\.com/watch\?v=|youtu\.be/)([\w-]{11})`)
)

// ValidateURL trims the raw URL provided and ensures it looks like a link to
// a single YouTube video (either the long watch?v= form, or a youtu.be short
// link). The trimmed URL is returned if valid, otherwise ErrInvalidURL.
func ValidateURL(raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if !urlPattern.MatchString(trimmed) {
		return "", ErrInvalidURL
	}

	return trimmed, nil
}

// VideoID extracts the 11 character video identifier from a YouTube URL. An
// empty string is returned if the URL is not valid.
func VideoID(url string) string {
	groups := urlPattern.FindStringSubmatch(strings.TrimSpace(url))
	if len(groups) < 5 {
		return ""
	}

	return groups[4]
}
