package crawler

import (
	"net/url"
	"strings"
)

// Scope decides which URLs belong to the crawled site. The base host is
// matched exactly (host and port); extra patterns may name exact hosts or
// "*.suffix" wildcards.
type Scope struct {
	baseHost          string
	includeSubdomains bool
	exact             map[string]struct{}
	suffixes          []string
}

// NewScope builds a Scope rooted at baseURL. When includeSubdomains is set,
// any host ending in ".<base hostname>" is also in scope.
func NewScope(baseURL string, includeSubdomains bool, allowedHosts []string) (*Scope, error) {
	normalized, err := NormalizeURL(baseURL)
	if err != nil {
		return nil, err
	}
	u, err := url.Parse(normalized)
	if err != nil {
		return nil, err
	}
	s := &Scope{
		baseHost:          u.Host,
		includeSubdomains: includeSubdomains,
		exact:             make(map[string]struct{}),
	}
	for _, raw := range allowedHosts {
		value := strings.TrimSpace(strings.ToLower(raw))
		switch {
		case value == "":
		case strings.HasPrefix(value, "*."):
			s.addSuffix(strings.TrimPrefix(value, "*."))
		case strings.HasPrefix(value, "."):
			s.addSuffix(strings.TrimPrefix(value, "."))
		default:
			s.exact[value] = struct{}{}
		}
	}
	if includeSubdomains {
		s.addSuffix(u.Hostname())
	}
	return s, nil
}

func (s *Scope) addSuffix(suffix string) {
	if suffix == "" {
		return
	}
	for _, existing := range s.suffixes {
		if existing == suffix {
			return
		}
	}
	s.suffixes = append(s.suffixes, suffix)
}

// BaseHost returns the normalized host (with non-default port) of the base URL.
func (s *Scope) BaseHost() string {
	return s.baseHost
}

// Contains reports whether rawURL is an http(s) URL inside the crawl scope.
func (s *Scope) Contains(rawURL string) bool {
	if s == nil {
		return false
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return false
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return false
	}
	host := strings.ToLower(u.Host)
	if host == s.baseHost {
		return true
	}
	if _, ok := s.exact[host]; ok {
		return true
	}
	name := strings.ToLower(u.Hostname())
	if _, ok := s.exact[name]; ok {
		return true
	}
	for _, suffix := range s.suffixes {
		if name == suffix || strings.HasSuffix(name, "."+suffix) {
			return true
		}
	}
	return false
}
