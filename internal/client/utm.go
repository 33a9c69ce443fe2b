package client

import (
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"sync"
)

// UTMKeys are the campaign attribution parameters carried with a lead.
var UTMKeys = []string{"utm_source", "utm_medium", "utm_campaign", "utm_term", "utm_content"}

// utmSessionFlag marks a browsing session that arrived with UTM parameters.
const utmSessionFlag = "utm_session"

// SessionStore is the per-session key/value store (sessionStorage).
type SessionStore interface {
	Get(key string) string
	Set(key, value string)
}

// CookieSource reads a cookie value by name.
type CookieSource interface {
	Cookie(name string) string
}

// MemorySession is a concurrency-safe in-memory SessionStore.
type MemorySession struct {
	mu sync.RWMutex
	m  map[string]string
}

// NewMemorySession returns an empty store.
func NewMemorySession() *MemorySession {
	return &MemorySession{m: map[string]string{}}
}

func (s *MemorySession) Get(key string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.m[key]
}

func (s *MemorySession) Set(key, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m[key] = value
}

// JarCookies exposes the cookies a jar holds for one URL.
type JarCookies struct {
	Jar http.CookieJar
	URL *url.URL
}

func (j JarCookies) Cookie(name string) string {
	if j.Jar == nil || j.URL == nil {
		return ""
	}
	for _, c := range j.Jar.Cookies(j.URL) {
		if c.Name == name {
			if v, err := url.QueryUnescape(c.Value); err == nil {
				return v
			}
			return c.Value
		}
	}
	return ""
}

// StoreUTM records UTM parameters found in pageURL into the session store,
// the way the site does on page load. It reports whether any were found.
func StoreUTM(store SessionStore, pageURL string) bool {
	q := pageQuery(pageURL)
	found := false
	for _, k := range UTMKeys {
		if v := q.Get(k); v != "" {
			store.Set(k, v)
			found = true
		}
	}
	if found {
		store.Set(utmSessionFlag, "1")
	}
	return found
}

// resolveUTM returns the UTM values to attach, or nil when neither the
// session flag is set nor the page URL carries UTM parameters. Values are
// taken from the session store first, then the URL, then cookies, and are
// written back to the session store.
func resolveUTM(store SessionStore, cookies CookieSource, pageURL string) map[string]string {
	q := pageQuery(pageURL)
	hasInURL := false
	for _, k := range UTMKeys {
		if strings.TrimSpace(q.Get(k)) != "" {
			hasInURL = true
			break
		}
	}
	hasSession := store != nil && store.Get(utmSessionFlag) == "1"
	if !hasSession && !hasInURL {
		return nil
	}

	out := make(map[string]string, len(UTMKeys))
	for _, k := range UTMKeys {
		var v string
		if store != nil {
			v = store.Get(k)
		}
		if v == "" {
			v = q.Get(k)
		}
		if v == "" && cookies != nil {
			v = cookies.Cookie(k)
		}
		if v != "" {
			out[k] = v
			if store != nil {
				store.Set(k, v)
			}
		}
	}
	if store != nil {
		store.Set(utmSessionFlag, "1")
	}
	return out
}

// buildSendURL appends the page's UTM parameters to endpoint.
func buildSendURL(endpoint, pageURL string) string {
	q := pageQuery(pageURL)
	utm := url.Values{}
	for _, k := range UTMKeys {
		if v := q.Get(k); v != "" {
			utm.Set(k, v)
		}
	}
	if len(utm) == 0 {
		return endpoint
	}
	joiner := "?"
	if strings.Contains(endpoint, "?") {
		joiner = "&"
	}
	return endpoint + joiner + utm.Encode()
}

func pageQuery(pageURL string) url.Values {
	if pageURL == "" {
		return url.Values{}
	}
	u, err := url.Parse(pageURL)
	if err != nil {
		return url.Values{}
	}
	return u.Query()
}

// newJar is a seam so NewTransport never fails on jar construction.
func newJar() http.CookieJar {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil
	}
	return jar
}
