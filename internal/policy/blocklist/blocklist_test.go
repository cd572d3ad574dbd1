package blocklist

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewEmpty(t *testing.T) {
	t.Parallel()

	require.Nil(t, New(nil))
	require.Nil(t, New([]string{"", "  ", "*."}))

	var l *List
	require.False(t, l.Blocked("http://localhost/"))
}

func TestBlocked(t *testing.T) {
	t.Parallel()

	l := New([]string{"LocalHost", "*.internal", ".corp.example", "169.254.169.254"})
	require.NotNil(t, l)

	tests := []struct {
		url  string
		want bool
	}{
		{"http://localhost:8080/admin", true},
		{"http://LOCALHOST./", true},
		{"http://metadata.internal/computeMetadata", true},
		{"http://internal/", true},
		{"https://wiki.corp.example/page", true},
		{"http://169.254.169.254/latest", true},
		{"https://example.com/", false},
		{"https://notinternal.com/", false},
		{"://bad url", false},
	}
	for _, tt := range tests {
		require.Equal(t, tt.want, l.Blocked(tt.url), tt.url)
	}
}

func TestSuffixDeduplicated(t *testing.T) {
	t.Parallel()

	l := New([]string{"*.example.org", ".example.org"})
	require.Len(t, l.suffixes, 1)
}
