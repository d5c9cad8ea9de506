package client

import "testing"

func TestEndpointLabel(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"/app", "/app"},
		{"/app/installations/123/access_tokens", "/app/installations/{id}/access_tokens"},
		{"/installation/token", "/installation/token"},
		{"/repos/octo/hello", "/repos/{owner}/{repo}"},
		{"/repos/octo/hello/issues/7/labels", "/repos/{owner}/{repo}/issues/{id}/labels"},
		{"/repos/octo/hello/contents/.github/tickettagger.yml", "/repos/{owner}/{repo}/contents/{path}"},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			if got := endpointLabel(tt.path); got != tt.want {
				t.Errorf("endpointLabel(%q) = %q, want %q", tt.path, got, tt.want)
			}
		})
	}
}
