package cache

import (
	"net/http"
	"net/url"
	"path"
	"strings"
)

// Partition names a versioned cache namespace. Eviction and staleness policy
// differ per partition, so they are stored and purged independently.
type Partition string

const (
	PartitionStatic Partition = "static"
	PartitionMedia  Partition = "media"
	PartitionPages  Partition = "pages"
)

// RequestClass determines which caching strategy applies to a request
type RequestClass int

const (
	// ClassPassthrough requests are never intercepted: non-GET, API calls,
	// anything mutating or data-shaped must always hit the origin.
	ClassPassthrough RequestClass = iota
	ClassStatic
	ClassMedia
	ClassPage
)

func (c RequestClass) String() string {
	switch c {
	case ClassStatic:
		return "static"
	case ClassMedia:
		return "media"
	case ClassPage:
		return "page"
	default:
		return "passthrough"
	}
}

// Partition returns the cache partition backing this class; passthrough has none
func (c RequestClass) Partition() Partition {
	switch c {
	case ClassStatic:
		return PartitionStatic
	case ClassMedia:
		return PartitionMedia
	case ClassPage:
		return PartitionPages
	default:
		return ""
	}
}

var staticSuffixes = []string{".css", ".js", ".woff2", ".woff"}

var imageSuffixes = []string{".png", ".jpg", ".jpeg", ".gif", ".svg", ".webp", ".ico"}

// Classifier decides the caching strategy for a request based on its method,
// URL and declared content preferences.
type Classifier struct {
	mediaHosts []string
}

// NewClassifier creates a classifier; mediaHosts are remote image hosts whose
// responses belong to the media partition (substring match on hostname).
func NewClassifier(mediaHosts []string) *Classifier {
	return &Classifier{mediaHosts: mediaHosts}
}

// Classify maps a request to its caching class
func (c *Classifier) Classify(r *http.Request) RequestClass {
	if r.Method != http.MethodGet {
		return ClassPassthrough
	}
	if r.URL.Scheme != "" && r.URL.Scheme != "http" && r.URL.Scheme != "https" {
		return ClassPassthrough
	}

	if c.isStatic(r.URL) {
		return ClassStatic
	}
	if c.isMedia(r.URL) {
		return ClassMedia
	}
	if strings.Contains(r.Header.Get("Accept"), "text/html") {
		return ClassPage
	}
	return ClassPassthrough
}

func (c *Classifier) isStatic(u *url.URL) bool {
	if strings.HasPrefix(u.Path, "/assets/") {
		return true
	}
	ext := strings.ToLower(path.Ext(u.Path))
	for _, s := range staticSuffixes {
		if ext == s {
			return true
		}
	}
	return false
}

func (c *Classifier) isMedia(u *url.URL) bool {
	for _, host := range c.mediaHosts {
		if host != "" && strings.Contains(u.Hostname(), host) {
			return true
		}
	}
	ext := strings.ToLower(path.Ext(u.Path))
	for _, s := range imageSuffixes {
		if ext == s {
			return true
		}
	}
	return false
}
