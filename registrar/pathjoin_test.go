package registrar

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestJoinHealthPath_AbsoluteURLUnchanged(t *testing.T) {
	assert.Equal(t, "https://other-host:9000/status", JoinHealthPath("/api", "https://other-host:9000/status"))
}

func TestJoinHealthPath_EqualsBase(t *testing.T) {
	assert.Equal(t, "/api", JoinHealthPath("/api", "/api"))
}

func TestJoinHealthPath_AlreadyPrefixed(t *testing.T) {
	assert.Equal(t, "/api/health", JoinHealthPath("/api", "/api/health"))
}

func TestJoinHealthPath_Joins(t *testing.T) {
	assert.Equal(t, "/api/q/health", JoinHealthPath("/api", "/q/health"))
}

func TestJoinHealthPath_TrimsTrailingSlashOnBase(t *testing.T) {
	assert.Equal(t, "/api/q/health", JoinHealthPath("/api/", "/q/health"))
}

func TestJoinHealthPath_RootBase(t *testing.T) {
	assert.Equal(t, "/q/health", JoinHealthPath("/", "/q/health"))
	assert.Equal(t, "/q/health", JoinHealthPath("", "/q/health"))
}

func TestJoinHealthPath_AddsLeadingSlashToHealthPath(t *testing.T) {
	assert.Equal(t, "/api/health", JoinHealthPath("/api", "health"))
}

func TestJoinHealthPath_Idempotent(t *testing.T) {
	for _, tc := range []struct{ base, health string }{
		{"/api", "/q/health"},
		{"/", "/q/health"},
		{"/svc/v1", "/svc/v1/ready"},
		{"/api", "https://h:1/x"},
	} {
		once := JoinHealthPath(tc.base, tc.health)
		twice := JoinHealthPath(tc.base, once)
		assert.Equal(t, once, twice, "join(b, join(b,h)) must equal join(b,h) for base=%q health=%q", tc.base, tc.health)
	}
}

func TestJoinHealthPath_NeverProducesDoubleSlash(t *testing.T) {
	for _, tc := range []struct{ base, health string }{
		{"/api", "/q/health"},
		{"/api/", "q/health"},
		{"", "q"},
	} {
		got := JoinHealthPath(tc.base, tc.health)
		assert.NotContains(t, got, "//")
		assert.True(t, len(got) > 0 && got[0] == '/')
	}
}
