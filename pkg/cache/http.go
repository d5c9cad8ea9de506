package cache

import (
	"net/http"
)

// ShouldMakeConditionalRequest reports whether record can be revalidated.
func ShouldMakeConditionalRequest(record *Record) bool {
	return record != nil && record.ETag != ""
}

// AddConditionalHeaders sets If-None-Match from record when it can be
// revalidated. It reports whether the header was set.
func AddConditionalHeaders(req *http.Request, record *Record) bool {
	if req == nil || !ShouldMakeConditionalRequest(record) {
		return false
	}
	req.Header.Set("If-None-Match", record.ETag)
	return true
}

// ResponseETag returns the ETag of a successful response, or "" when the
// response cannot be cached.
func ResponseETag(resp *http.Response) string {
	if resp == nil || resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return ""
	}
	return resp.Header.Get("ETag")
}
