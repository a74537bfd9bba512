package integration

import (
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/url"
	"sort"
	"strings"
)

// ---------------------------------------------------------------------------
// OutboundRequest
// ---------------------------------------------------------------------------

// OutboundRequest describes one outbound provider call. It is owned by the
// caller for the duration of the call and never stored.
type OutboundRequest struct {
	Provider ProviderCode
	Method   string
	Path     string
	Query    url.Values
	Body     []byte

	// Idempotent marks the call as safely repeatable and therefore eligible
	// for response caching. Mutating calls must leave this false.
	Idempotent bool
}

// Response is the provider's answer to an OutboundRequest
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// IsSuccess returns true for 2xx responses
func (r *Response) IsSuccess() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// CacheKey derives a deterministic cache key from method, normalized path,
// canonicalized query and body. Two byte-identical logical requests always
// map to the same key.
func (r *OutboundRequest) CacheKey() string {
	h := sha256.New()
	h.Write([]byte(strings.ToUpper(r.Method)))
	h.Write([]byte{0})
	h.Write([]byte(normalizePath(r.Path)))
	h.Write([]byte{0})
	h.Write([]byte(canonicalQuery(r.Query)))
	h.Write([]byte{0})
	h.Write(r.Body)
	return r.Provider.String() + ":" + r.ResourcePrefix() + ":" + hex.EncodeToString(h.Sum(nil))
}

// ResourcePrefix returns the invalidation scope for this request: the first
// normalized path segment, i.e. the resource collection. A successful
// mutating call invalidates every cached entry sharing its prefix, which
// covers both single-resource reads and collection listings that would
// otherwise go stale after the write.
func (r *OutboundRequest) ResourcePrefix() string {
	segments := strings.Split(strings.Trim(normalizePath(r.Path), "/"), "/")
	if len(segments) == 0 || segments[0] == "" {
		return "/"
	}
	return "/" + segments[0]
}

// normalizePath collapses duplicate slashes and strips any trailing slash
func normalizePath(p string) string {
	if p == "" {
		return "/"
	}
	var b strings.Builder
	prevSlash := false
	for _, c := range p {
		if c == '/' {
			if prevSlash {
				continue
			}
			prevSlash = true
		} else {
			prevSlash = false
		}
		b.WriteRune(c)
	}
	out := b.String()
	if !strings.HasPrefix(out, "/") {
		out = "/" + out
	}
	if len(out) > 1 {
		out = strings.TrimRight(out, "/")
	}
	return out
}

// canonicalQuery renders query values with sorted keys so parameter order
// never changes the cache key
func canonicalQuery(q url.Values) string {
	if len(q) == 0 {
		return ""
	}
	keys := make([]string, 0, len(q))
	for k := range q {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		vals := append([]string(nil), q[k]...)
		sort.Strings(vals)
		for _, v := range vals {
			if b.Len() > 0 {
				b.WriteByte('&')
			}
			b.WriteString(url.QueryEscape(k))
			b.WriteByte('=')
			b.WriteString(url.QueryEscape(v))
		}
	}
	return b.String()
}
