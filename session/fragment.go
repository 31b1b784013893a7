package session

import (
	"errors"
	"regexp"
	"strings"
)

var (
	// ErrInvalidURL is returned for URLs without an http(s) origin.
	ErrInvalidURL = errors.New("invalid url")

	// ErrInvalidFragment is returned for fragments that are not app-links.
	ErrInvalidFragment = errors.New("invalid fragment")
)

const appLinkPrefix = "#!/app-link/"

var originRe = regexp.MustCompile(`^https?://[^/?#]+`)

// Origin returns the scheme, host and port of url.
func Origin(url string) (string, error) {
	origin := originRe.FindString(url)
	if origin == "" {
		return "", ErrInvalidURL
	}
	return origin, nil
}

// EncodeFragment turns an https URL into its app-link fragment. An empty
// URL gives an empty fragment.
func EncodeFragment(url string) (string, error) {
	if url == "" {
		return "", nil
	}
	if !strings.HasPrefix(url, "https://") {
		return "", ErrInvalidURL
	}
	return appLinkPrefix + strings.ReplaceAll(strings.TrimPrefix(url, "https://"), "#", "%23"), nil
}

// DecodeFragment reverses EncodeFragment.
func DecodeFragment(fragment string) (string, error) {
	if !strings.HasPrefix(fragment, appLinkPrefix) {
		return "", ErrInvalidFragment
	}
	rest := strings.ReplaceAll(strings.TrimPrefix(fragment, appLinkPrefix), "%23", "#")
	if rest == "" || strings.HasPrefix(rest, "/") {
		return "", ErrInvalidFragment
	}
	return "https://" + rest, nil
}

// ResolveApp accepts either a URL or an app-link fragment.
func ResolveApp(s string) (string, error) {
	if strings.HasPrefix(s, "#") {
		return DecodeFragment(s)
	}
	if _, err := Origin(s); err != nil {
		return "", err
	}
	return s, nil
}
