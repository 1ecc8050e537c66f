// Package schedule loads schedule documents from local files or remote URLs.
package schedule

import (
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
)

// Source is one configured schedule location.
type Source struct {
	// Location is the string as configured.
	Location string
	// URL is set for remote (http/https) sources.
	URL *url.URL
	// Path is the absolute file path of a local source.
	Path string
}

// Remote reports whether the source is fetched over HTTP.
func (s Source) Remote() bool { return s.URL != nil }

func (s Source) String() string { return s.Location }

// ParseSource resolves a location. Absolute http(s) URLs are remote;
// file:// URLs and anything that is not an absolute URL are local paths.
func ParseSource(location string) (Source, error) {
	loc := strings.TrimSpace(location)
	if loc == "" {
		return Source{}, fmt.Errorf("schedule: empty source location")
	}

	if u, err := url.Parse(loc); err == nil && u.IsAbs() {
		switch u.Scheme {
		case "http", "https":
			if u.Host == "" {
				return Source{}, fmt.Errorf("schedule: remote source without host: %s", loc)
			}
			return Source{Location: loc, URL: u}, nil
		case "file":
			return localSource(loc, u.Path)
		}
	}
	return localSource(loc, loc)
}

func localSource(location, path string) (Source, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return Source{}, fmt.Errorf("schedule: resolve %s: %w", location, err)
	}
	return Source{Location: location, Path: abs}, nil
}

// ParseSources resolves every location, splitting comma-separated entries.
func ParseSources(locations []string) ([]Source, error) {
	var out []Source
	for _, entry := range locations {
		for _, loc := range strings.Split(entry, ",") {
			if strings.TrimSpace(loc) == "" {
				continue
			}
			src, err := ParseSource(loc)
			if err != nil {
				return nil, err
			}
			out = append(out, src)
		}
	}
	return out, nil
}

// AnyRemote reports whether at least one source is remote.
func AnyRemote(sources []Source) bool {
	for _, s := range sources {
		if s.Remote() {
			return true
		}
	}
	return false
}
