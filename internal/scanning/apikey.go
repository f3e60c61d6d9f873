package scanning

import (
	"errors"
	"regexp"
)

var (
	ErrAPIKeyRequired = errors.New("api key is required")
	ErrAPIKeyTooShort = errors.New("api key appears to be too short")
	ErrAPIKeyFormat   = errors.New("api key format appears invalid")
)

var geminiKeyPattern = regexp.MustCompile(`^AIza[0-9A-Za-z_-]{31,}$`)

// ValidateAPIKey checks that key looks like a Google API key
func ValidateAPIKey(key string) error {
	switch {
	case key == "":
		return ErrAPIKeyRequired
	case len(key) < 20:
		return ErrAPIKeyTooShort
	case !geminiKeyPattern.MatchString(key):
		return ErrAPIKeyFormat
	}
	return nil
}
