package smp

import (
	"fmt"
	"net/url"
	"strings"
)

const mapboxAPI = "https://api.mapbox.com"

// NormalizeMapboxURL expands mapbox:// URLs to their api.mapbox.com
// equivalents and appends the access token. Non-mapbox URLs pass through
// unchanged (and untokenized). Only public pk.* tokens are accepted.
func NormalizeMapboxURL(rawURL string, accessToken string) (string, error) {
	if !strings.HasPrefix(rawURL, "mapbox://") {
		return rawURL, nil
	}
	if accessToken == "" {
		return "", fmt.Errorf("%w: %s", ErrMissingAccessToken, rawURL)
	}
	if strings.HasPrefix(accessToken, "sk.") {
		return "", ErrSecretToken
	}

	rest := strings.TrimPrefix(rawURL, "mapbox://")

	var expanded string
	switch {
	case strings.HasPrefix(rest, "styles/"):
		// mapbox://styles/{user}/{id}
		expanded = mapboxAPI + "/styles/v1/" + strings.TrimPrefix(rest, "styles/")
	case strings.HasPrefix(rest, "fonts/"):
		// mapbox://fonts/{user}/{stack}/{range}.pbf
		expanded = mapboxAPI + "/fonts/v1/" + strings.TrimPrefix(rest, "fonts/")
	case strings.HasPrefix(rest, "sprites/"):
		// mapbox://sprites/{user}/{id}[@Nx][.ext]
		expanded = mapboxAPI + "/styles/v1/" + normalizeSpritePath(strings.TrimPrefix(rest, "sprites/"))
	default:
		// bare tileset id; ?secure requests https tile URLs in the TileJSON
		expanded = mapboxAPI + "/v4/" + rest + ".json?secure"
	}

	return appendQuery(expanded, "access_token", accessToken)
}

// mapbox sprite ids may carry an @2x suffix and a .json/.png extension;
// the v1 endpoint wants them after a literal "/sprite".
func normalizeSpritePath(p string) string {
	format := ""
	ext := ""
	if i := strings.LastIndex(p, "."); i >= 0 && !strings.Contains(p[i:], "/") {
		ext = p[i:]
		p = p[:i]
	}
	if i := strings.LastIndex(p, "@"); i >= 0 && !strings.Contains(p[i:], "/") {
		format = p[i:]
		p = p[:i]
	}
	return p + "/sprite" + format + ext
}

func appendQuery(rawURL, key, value string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("normalize %q: %w", rawURL, err)
	}
	q := u.Query()
	q.Set(key, value)
	u.RawQuery = q.Encode()
	return u.String(), nil
}
