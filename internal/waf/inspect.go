package waf

import (
	"net/http"
	"net/url"
	"slices"
	"strings"
)

const (
	maxRequestURI = 8 << 10
	maxHeaderVals = 64
)

// ignoredHeaders carry browser-controlled or opaque values that produce
// false positives.
var ignoredHeaders = map[string]bool{
	"Accept":            true,
	"Accept-Encoding":   true,
	"Accept-Language":   true,
	"Authorization":     true,
	"Cache-Control":     true,
	"Connection":        true,
	"Content-Length":    true,
	"Content-Type":      true,
	"Cookie":            true,
	"If-Modified-Since": true,
	"If-None-Match":     true,
	"Upgrade":           true,
	"User-Agent":        true,
}

type view struct {
	rawURI  string
	path    string
	queries []string
	ua      string
	headers []string
}

func newView(r *http.Request) view {
	v := view{
		rawURI: r.RequestURI,
		path:   r.URL.Path,
		ua:     r.UserAgent(),
	}
	if v.rawURI == "" {
		v.rawURI = r.URL.RequestURI()
	}
	if q := r.URL.RawQuery; q != "" {
		// Decode twice to see through double encoding.
		v.queries = append(v.queries, q, strings.ReplaceAll(q, "+", " "))
		for range 2 {
			d, err := url.QueryUnescape(q)
			if err != nil || d == q {
				break
			}
			v.queries = append(v.queries, d)
			q = d
		}
	}
	for name, values := range r.Header {
		if ignoredHeaders[http.CanonicalHeaderKey(name)] || strings.HasPrefix(http.CanonicalHeaderKey(name), "Sec-") {
			continue
		}
		v.headers = append(v.headers, values...)
	}
	return v
}

func inspect(rules []rule, v view) (string, bool) {
	if len(v.rawURI) > maxRequestURI {
		return "uri-too-long", true
	}
	if len(v.headers) > maxHeaderVals {
		return "too-many-headers", true
	}
	for i := range rules {
		rl := &rules[i]
		switch {
		case rl.parts&partRawURI != 0 && rl.re.MatchString(v.rawURI),
			rl.parts&partPath != 0 && !isACMEPath(v.path) && rl.re.MatchString(v.path),
			rl.parts&partQuery != 0 && slices.ContainsFunc(v.queries, rl.re.MatchString),
			rl.parts&partUserAgent != 0 && v.ua != "" && rl.re.MatchString(v.ua),
			rl.parts&partHeaders != 0 && slices.ContainsFunc(v.headers, rl.re.MatchString):
			return rl.name, true
		}
	}
	return "", false
}

// isACMEPath keeps well-known endpoints reachable for certificate and
// discovery clients.
func isACMEPath(path string) bool {
	return path == "/.well-known" || strings.HasPrefix(path, "/.well-known/")
}
