// Package textutil normalises free-text input before it is stored.
package textutil

import (
	"errors"
	"html"
	"strings"
	"unicode"

	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"
)

var (
	// ErrInvalidLanguageTag indicates a locale that is not a BCP 47 tag.
	ErrInvalidLanguageTag = errors.New("textutil: invalid language tag")
	// ErrInvalidCountryCode indicates input that is not an ISO 3166-1 alpha-2 country.
	ErrInvalidCountryCode = errors.New("textutil: invalid country code")
)

var strictPolicy = bluemonday.StrictPolicy()

// CleanText strips markup, folds control characters and whitespace runs to single spaces and
// returns the NFC form, truncated to limit runes when limit > 0.
func CleanText(value string, limit int) string {
	if value == "" {
		return ""
	}
	stripped := html.UnescapeString(strictPolicy.Sanitize(value))
	var b strings.Builder
	b.Grow(len(stripped))
	space := false
	for _, r := range norm.NFC.String(stripped) {
		if unicode.IsSpace(r) || unicode.IsControl(r) {
			space = true
			continue
		}
		if space && b.Len() > 0 {
			b.WriteByte(' ')
		}
		space = false
		b.WriteRune(r)
	}
	out := b.String()
	if limit > 0 {
		if runes := []rune(out); len(runes) > limit {
			out = strings.TrimSpace(string(runes[:limit]))
		}
	}
	return out
}

// NormalizeEmail trims and lower-cases an address.
func NormalizeEmail(value string) string {
	return strings.ToLower(strings.TrimSpace(norm.NFC.String(value)))
}

// CanonicalLanguageTag returns the canonical BCP 47 form of a locale such as "en_us".
func CanonicalLanguageTag(tag string) (string, error) {
	tag = strings.ReplaceAll(strings.TrimSpace(tag), "_", "-")
	if tag == "" {
		return "", nil
	}
	parsed, err := language.Parse(tag)
	if err != nil {
		return "", errors.Join(ErrInvalidLanguageTag, err)
	}
	return parsed.String(), nil
}

// CountryCode validates an ISO 3166-1 alpha-2 code such as "de" and returns it upper-cased.
// Names, alpha-3 and numeric codes are rejected rather than guessed.
func CountryCode(value string) (string, error) {
	value = strings.ToUpper(strings.TrimSpace(value))
	if len(value) != 2 || value[0] < 'A' || value[0] > 'Z' || value[1] < 'A' || value[1] > 'Z' {
		return "", ErrInvalidCountryCode
	}
	region, err := language.ParseRegion(value)
	if err != nil || !region.IsCountry() || region.String() != value {
		return "", ErrInvalidCountryCode
	}
	return value, nil
}

// NormalizeStringMap trims keys and values, removing entries with empty keys.
func NormalizeStringMap(values map[string]string) map[string]string {
	if len(values) == 0 {
		return nil
	}
	result := make(map[string]string, len(values))
	for key, value := range values {
		trimmedKey := strings.TrimSpace(key)
		if trimmedKey == "" {
			continue
		}
		result[trimmedKey] = strings.TrimSpace(value)
	}
	if len(result) == 0 {
		return nil
	}
	return result
}
