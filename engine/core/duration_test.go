package core_test

import (
	"testing"
	"time"

	"github.com/dagrun/dagrun/engine/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseHumanDuration(t *testing.T) {
	t.Run("Should parse unit suffixes including days", func(t *testing.T) {
		cases := map[string]time.Duration{
			"30s": 30 * time.Second,
			"5m":  5 * time.Minute,
			"2h":  2 * time.Hour,
			"1d":  24 * time.Hour,
		}
		for in, want := range cases {
			got, err := core.ParseHumanDuration(in)
			require.NoError(t, err, "input %q", in)
			assert.Equal(t, want, got, "input %q", in)
		}
	})
	t.Run("Should read a bare integer as minutes", func(t *testing.T) {
		got, err := core.ParseHumanDuration("5")
		require.NoError(t, err)
		assert.Equal(t, 5*time.Minute, got)
	})
	t.Run("Should reject empty, negative and malformed values", func(t *testing.T) {
		for _, in := range []string{"", "  ", "-5m", "-5", "abc", "5x"} {
			_, err := core.ParseHumanDuration(in)
			assert.Error(t, err, "input %q", in)
		}
	})
}

func TestParseTTL(t *testing.T) {
	t.Run("Should fall back to the default for malformed values", func(t *testing.T) {
		assert.Equal(t, core.DefaultCacheTTL, core.ParseTTL("not-a-duration"))
		assert.Equal(t, core.DefaultCacheTTL, core.ParseTTL(""))
	})
	t.Run("Should parse valid values", func(t *testing.T) {
		assert.Equal(t, 90*time.Second, core.ParseTTL("90s"))
	})
}
