package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, TRACE, ParseLevel("trace"))
	assert.Equal(t, DEBUG, ParseLevel("DEBUG"))
	assert.Equal(t, WARN, ParseLevel("warning"))
	assert.Equal(t, ERROR, ParseLevel("error"))
	assert.Equal(t, INFO, ParseLevel("nonsense"))
	assert.Equal(t, INFO, ParseLevel(""))
}

func TestLoggerWritesFileAboveThreshold(t *testing.T) {
	dir := t.TempDir()
	SetLogDir(dir)
	defer SetLogDir("")

	l, err := NewLogger("unit")
	require.NoError(t, err)
	l.SetLevels(ERROR, WARN)
	l.Info("скрыто")
	l.Warn("видно %d", 1)
	require.NoError(t, l.Close())
	require.NoError(t, l.Close())

	files, err := filepath.Glob(filepath.Join(dir, "unit_*.log"))
	require.NoError(t, err)
	require.Len(t, files, 1)

	data, err := os.ReadFile(files[0])
	require.NoError(t, err)
	assert.NotContains(t, string(data), "скрыто")
	assert.Contains(t, string(data), "[WARN] [unit] видно 1")
}

func TestNilLoggerIsSilent(t *testing.T) {
	var l *Logger
	assert.NotPanics(t, func() {
		l.Info("ничего")
		assert.NoError(t, l.Close())
	})
}

func TestLoggerManagerReusesAndAppliesLevels(t *testing.T) {
	lm := newLoggerManager()

	a, err := lm.GetLogger(ComponentSync)
	require.NoError(t, err)
	b := lm.MustGetLogger(ComponentSync)
	assert.Same(t, a, b)

	lm.SetLevels(WARN, ERROR)
	assert.Equal(t, WARN, a.minConsoleLevel)
	assert.Equal(t, ERROR, a.minFileLevel)

	c, err := lm.GetLogger(ComponentStore)
	require.NoError(t, err)
	assert.Equal(t, WARN, c.minConsoleLevel)

	assert.Equal(t, []string{ComponentStore, ComponentSync}, lm.Components())
	require.NoError(t, lm.CloseAll())
	assert.Empty(t, lm.Components())
}

func TestHexDumpTruncates(t *testing.T) {
	assert.Equal(t, "No data", HexDump(nil))
	dump := HexDump(make([]byte, 1024))
	assert.Equal(t, 16, strings.Count(dump, "\n"))
}
