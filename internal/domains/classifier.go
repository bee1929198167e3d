// Package domains decides whether an activation domain is a development site,
// which does not count against a license's activation limit.
package domains

import (
	"strings"
)

type Kind string

const (
	Production  Kind = "production"
	Development Kind = "development"
)

var (
	devExact    = []string{"localhost", "127.0.0.1"}
	devPrefixes = []string{"192.168.", "10.", "staging.", "dev.", "test.", "local."}
	devSuffixes = []string{".local", ".test", ".localhost", ".dev"}
	devInfixes  = []string{".staging.", ".dev.", ".test."}

	// Hostnames handed out by local and preview hosting tools.
	devMarkers = []string{
		".lndo.site",
		".ddev.site",
		"localwp",
		".ngrok.io",
		".ngrok-free.app",
		".instawp.xyz",
		".flywheelsites.com",
	}
)

// Classify is total: anything not matching a development rule is production.
// The domain is expected to be normalised already; Classify only lower-cases.
func Classify(domain string) Kind {
	d := strings.ToLower(domain)

	for _, s := range devExact {
		if d == s {
			return Development
		}
	}
	for _, p := range devPrefixes {
		if strings.HasPrefix(d, p) {
			return Development
		}
	}
	for _, s := range devSuffixes {
		if strings.HasSuffix(d, s) {
			return Development
		}
	}
	for _, s := range devInfixes {
		if strings.Contains(d, s) {
			return Development
		}
	}
	for _, m := range devMarkers {
		if strings.Contains(d, m) {
			return Development
		}
	}
	return Production
}

func IsDevelopment(domain string) bool {
	return Classify(domain) == Development
}

// Normalize reduces what a plugin sends (often a full site URL) to a bare host:
// lower-case, no scheme, path, port, trailing dot or leading "www.".
func Normalize(raw string) string {
	d := strings.ToLower(strings.TrimSpace(raw))
	if i := strings.Index(d, "://"); i >= 0 {
		d = d[i+3:]
	}
	if i := strings.IndexAny(d, "/?#"); i >= 0 {
		d = d[:i]
	}
	if i := strings.LastIndex(d, "@"); i >= 0 {
		d = d[i+1:]
	}
	if i := strings.LastIndex(d, ":"); i >= 0 && !strings.Contains(d[:i], ":") {
		d = d[:i]
	}
	d = strings.TrimSuffix(d, ".")
	d = strings.TrimPrefix(d, "www.")
	return d
}
