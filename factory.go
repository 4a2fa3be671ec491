package streamcache

import (
	"crypto/sha256"
	"encoding/base64"
	"net/url"
	"path"
	"strings"
)

// ResourceID derives a stable cache identity from a remote URL, so that
// repeated opens of the same URL share one cache file. The canonical form of
// the URL is hashed; a string that doesn't parse as an absolute URL keeps its
// trailing path component in front of the hash.
func ResourceID(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Scheme == "" {
		if name := sanitizeName(path.Base(rawURL)); name != "" {
			return name + "-" + hashName(rawURL)[:16]
		}
		return hashName(rawURL)
	}

	u.Fragment = ""
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	return hashName(u.String())
}

func hashName(s string) string {
	hash := sha256.Sum256([]byte(s))
	return base64.RawURLEncoding.EncodeToString(hash[:])
}

// sanitizeName keeps a path component usable as a file name.
func sanitizeName(s string) string {
	if s == "." || s == "/" || s == ".." {
		return ""
	}
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return strings.TrimLeft(b.String(), ".")
}

// Open returns a coordinator caching rawURL under dir, fetching missing data
// over HTTP with opts.Client.
func Open(dir, rawURL string, opts Options) (*Coordinator, error) {
	if _, err := url.ParseRequestURI(rawURL); err != nil {
		return nil, err
	}

	store, err := OpenStore(dir, ResourceID(rawURL))
	if err != nil {
		return nil, err
	}

	fetcher := &HTTPFetcher{
		Client: opts.Client,
		URL:    rawURL,
	}
	return NewCoordinator(store, fetcher, opts), nil
}
