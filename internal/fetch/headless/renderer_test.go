package headless

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNewAppliesTimeoutDefault(t *testing.T) {
	t.Parallel()

	r, err := New(Config{}, nil)
	require.NoError(t, err)
	defer r.Close()
	require.Equal(t, 20*time.Second, r.cfg.NavigationTimeout)

	r2, err := New(Config{NavigationTimeout: 3 * time.Second}, nil)
	require.NoError(t, err)
	defer r2.Close()
	require.Equal(t, 3*time.Second, r2.cfg.NavigationTimeout)
}

func TestNormalizeHrefs(t *testing.T) {
	t.Parallel()

	links := normalizeHrefs("https://example.com/start", []string{
		"https://example.com/a#frag",
		"https://example.com/a",
		"https://Example.com/a",
		"mailto:someone@example.com",
		"https://other.com/b",
	})
	require.Equal(t, []string{
		"https://example.com/a",
		"https://other.com/b",
	}, links)
}

func TestCloseReleasesAllocator(t *testing.T) {
	t.Parallel()

	r, err := New(Config{}, nil)
	require.NoError(t, err)
	r.Close()
	require.Error(t, r.allocator.Err())
}
