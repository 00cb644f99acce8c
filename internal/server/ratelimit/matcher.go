package ratelimit

import (
	"strings"
)

// unlimited is returned for routes that are never metered.
var unlimited = &EndpointConfig{Path: "/health", Method: "GET"}

// MatchEndpoint returns the first configuration matching path and method, or nil. Exact
// patterns are tried before prefix patterns so "/sessions/*/run" wins over "/sessions/".
func MatchEndpoint(path string, method string, configs []EndpointConfig) *EndpointConfig {
	if path == "/health" && method == "GET" {
		return unlimited
	}

	for i := range configs {
		config := &configs[i]
		if methodMatches(config.Method, method) && !strings.HasSuffix(config.Path, "/") && segmentsMatch(config.Path, path) {
			return config
		}
	}

	for i := range configs {
		config := &configs[i]
		if methodMatches(config.Method, method) && strings.HasSuffix(config.Path, "/") && prefixMatches(config.Path, path) {
			return config
		}
	}
	return nil
}

func methodMatches(pattern, method string) bool {
	return pattern == "*" || strings.EqualFold(pattern, method)
}

// segmentsMatch compares path to pattern segment by segment; "*" matches any one segment.
func segmentsMatch(pattern, path string) bool {
	ps := strings.Split(strings.Trim(pattern, "/"), "/")
	xs := strings.Split(strings.Trim(path, "/"), "/")
	if len(ps) != len(xs) {
		return false
	}
	for i := range ps {
		if ps[i] != "*" && ps[i] != xs[i] {
			return false
		}
	}
	return true
}

// prefixMatches reports whether path lies strictly below the prefix pattern.
func prefixMatches(pattern, path string) bool {
	ps := strings.Split(strings.Trim(pattern, "/"), "/")
	xs := strings.Split(strings.Trim(path, "/"), "/")
	if len(xs) <= len(ps) {
		return false
	}
	return segmentsMatch(strings.Join(ps, "/"), strings.Join(xs[:len(ps)], "/"))
}
