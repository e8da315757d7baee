package dashscope

import (
	"fmt"
	"net/http"
	"runtime"
)

// DashScope control headers.
const (
	headerAsync       = "X-DashScope-Async"
	headerSSE         = "X-DashScope-SSE"
	headerWorkspace   = "X-DashScope-WorkSpace"
	headerOSSResolve  = "X-DashScope-OssResourceResolve"
	headerNoBuffering = "X-Accel-Buffering"

	sseContentType = "text/event-stream"
)

// UserAgent mirrors the wire format used by the official SDKs:
// dashscope/<version>; go/<runtime>; platform/<os>; processor/<arch>.
func UserAgent() string {
	return fmt.Sprintf("dashscope/%s; go/%s; platform/%s; processor/%s",
		Version, runtime.Version(), runtime.GOOS, runtime.GOARCH)
}

// buildHeaders assembles the header set for one request. Order of precedence:
// base headers, then config-level workspace, then per-request options.
func (c Client) buildHeaders(rc requestConfig) http.Header {
	h := make(http.Header)
	h.Set("Authorization", "Bearer "+c.config.apiKey)
	h.Set("Accept", "application/json")
	h.Set("User-Agent", UserAgent())

	if rc.method == http.MethodPost {
		h.Set("Content-Type", "application/json")
	}
	if c.config.workspace != "" {
		h.Set(headerWorkspace, c.config.workspace)
	}
	if rc.async && !rc.query {
		h.Set(headerAsync, "enable")
	}
	if rc.stream {
		h.Set("Accept", sseContentType)
		h.Set(headerNoBuffering, "no")
		h.Set(headerSSE, "enable")
	}
	if rc.ossResolve {
		h.Set(headerOSSResolve, "enable")
	}
	for k, vs := range rc.headers {
		for i, v := range vs {
			if i == 0 {
				h.Set(k, v)
			} else {
				h.Add(k, v)
			}
		}
	}
	return h
}
