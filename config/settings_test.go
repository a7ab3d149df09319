package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mapitools/mapiproxy/mapi"
)

func TestWhenParse(t *testing.T) {
	var w When
	require.NoError(t, w.Set("always"))
	assert.Equal(t, WhenAlways, w)
	require.NoError(t, w.Set("never"))
	assert.Equal(t, WhenNever, w)
	require.NoError(t, w.Set("auto"))
	assert.Equal(t, WhenAuto, w)
	require.NoError(t, w.Set("on"))
	assert.Equal(t, WhenAlways, w)
	assert.Error(t, w.Set("sometimes"))
}

func TestWhenEvaluate(t *testing.T) {
	f, err := os.CreateTemp(t.TempDir(), "out")
	require.NoError(t, err)
	defer f.Close()

	assert.True(t, WhenAlways.Evaluate(f))
	assert.False(t, WhenNever.Evaluate(f))
	// A regular file is not a terminal.
	assert.False(t, WhenAuto.Evaluate(f))
}

func TestBriefOption(t *testing.T) {
	var b BriefOption

	// Plain --brief uses the default count.
	require.NoError(t, b.Set("true"))
	assert.Equal(t, DefaultBriefLines, b.Lines)

	require.NoError(t, b.Set("7"))
	assert.Equal(t, 7, b.Lines)

	require.NoError(t, b.Set("0"))
	assert.Equal(t, 0, b.Lines)

	assert.Error(t, b.Set("-1"))
	assert.Error(t, b.Set("lots"))
	assert.True(t, b.IsBoolFlag())
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "mapiproxy.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	path := writeConfig(t, `
level = "blocks"
binary = true
brief = 5
color = "never"
flush = "auto"
oob = true
`)
	d, err := LoadDefaults(path)
	require.NoError(t, err)

	var s AppSettings
	require.NoError(t, d.Apply(&s, map[string]bool{}))
	assert.Equal(t, mapi.LevelBlocks, s.Level)
	assert.True(t, s.ForceBinary)
	assert.Equal(t, 5, s.Brief.Lines)
	assert.Equal(t, WhenNever, s.Color)
	assert.Equal(t, WhenAuto, s.Flush)
	assert.True(t, s.Oob)
}

func TestExplicitFlagsWin(t *testing.T) {
	path := writeConfig(t, `
level = "blocks"
brief = 5
`)
	d, err := LoadDefaults(path)
	require.NoError(t, err)

	s := AppSettings{Level: mapi.LevelMessages, Brief: BriefOption{Lines: 2}}
	explicit := map[string]bool{"messages": true, "brief": true}
	require.NoError(t, d.Apply(&s, explicit))
	assert.Equal(t, mapi.LevelMessages, s.Level)
	assert.Equal(t, 2, s.Brief.Lines)
}

func TestLoadDefaultsRejectsUnknownKey(t *testing.T) {
	path := writeConfig(t, `colour = "never"`)
	_, err := LoadDefaults(path)
	assert.Error(t, err)
}

func TestLoadDefaultsRejectsBadValue(t *testing.T) {
	path := writeConfig(t, `level = "loud"`)
	d, err := LoadDefaults(path)
	require.NoError(t, err)

	var s AppSettings
	assert.Error(t, d.Apply(&s, map[string]bool{}))
}
