package reputation

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sample = `# known scanners
203.0.113.0/24 ; documentation range
198.51.100.72
not-an-address
2001:db8::/32

`

func TestParseAndScore(t *testing.T) {
	l, err := Parse(strings.NewReader(sample))
	require.NoError(t, err)
	assert.Equal(t, 3, l.Len())

	score, ok := l.Score("203.0.113.45")
	assert.True(t, ok)
	assert.Equal(t, float64(ListedScore), score)

	_, ok = l.Score("198.51.100.72")
	assert.True(t, ok)
	_, ok = l.Score("::ffff:198.51.100.72")
	assert.True(t, ok, "IPv4-mapped addresses match their IPv4 form")
	_, ok = l.Score("2001:db8::1")
	assert.True(t, ok)

	_, ok = l.Score("198.51.100.73")
	assert.False(t, ok)
	_, ok = l.Score("garbage")
	assert.False(t, ok)
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "blocklist.txt")
	require.NoError(t, os.WriteFile(path, []byte(sample), 0o644))
	l, err := LoadFile(path)
	require.NoError(t, err)
	assert.True(t, l.Contains("203.0.113.1"))

	_, err = LoadFile(filepath.Join(t.TempDir(), "missing.txt"))
	assert.Error(t, err)
}

func TestShippedBlocklist(t *testing.T) {
	l, err := LoadFile("../../configs/blocklist.txt")
	require.NoError(t, err)
	assert.True(t, l.Contains("203.0.113.45"))
	assert.True(t, l.Contains("198.51.100.72"))
	assert.False(t, l.Contains("10.0.0.50"))
}
