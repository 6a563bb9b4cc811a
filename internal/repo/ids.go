package repo

import (
	"crypto/rand"
	"fmt"
	"strings"
)

const (
	ShortIDLength = 11

	// 64 symbols, so one random byte masked to 6 bits picks uniformly.
	shortIDAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789-_"
)

// NewShortID returns a random id shaped like a video id.
func NewShortID() (string, error) {
	b := make([]byte, ShortIDLength)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to read random bytes: %w", err)
	}
	for i := range b {
		b[i] = shortIDAlphabet[b[i]&63]
	}
	return string(b), nil
}

func IsShortID(s string) bool {
	if len(s) != ShortIDLength {
		return false
	}
	for i := 0; i < len(s); i++ {
		if strings.IndexByte(shortIDAlphabet, s[i]) < 0 {
			return false
		}
	}
	return true
}

// ExtractVideoID takes what follows the first "v=" in a submitted URL,
// up to the next query separator or fragment.
func ExtractVideoID(rawURL string) (string, error) {
	_, rest, found := strings.Cut(rawURL, "v=")
	if !found {
		return "", ErrInvalidVideoURL
	}
	if i := strings.IndexAny(rest, "&#"); i >= 0 {
		rest = rest[:i]
	}
	rest = strings.TrimSpace(rest)
	if rest == "" {
		return "", ErrInvalidVideoURL
	}
	return rest, nil
}
