// ABOUTME: Tests for canned request key bindings
// ABOUTME: Tests lookup, recording paths and help text
package app

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultCommandPaths(t *testing.T) {
	cmds := DefaultCommands("/recordings")
	require.Len(t, cmds, 11)

	cmd, ok := Lookup(cmds, 'w')
	require.True(t, ok)
	assert.Equal(t, "what_is_the_weather", cmd.Name)
	assert.Equal(t, filepath.Join("/recordings", "REQUEST_what_is_the_weather.raw"), cmd.Path)
	assert.False(t, cmd.Quit)
}

func TestLookupQuitUsesStopRecording(t *testing.T) {
	cmds := DefaultCommands("rec")
	cmd, ok := Lookup(cmds, KeyQuit)
	require.True(t, ok)
	assert.True(t, cmd.Quit)
	assert.Equal(t, "stop", cmd.Name)
	assert.Equal(t, RequestFile("rec", "stop"), cmd.Path)
}

func TestLookupQuitWithoutStopRecording(t *testing.T) {
	cmd, ok := Lookup(nil, KeyQuit)
	require.True(t, ok)
	assert.True(t, cmd.Quit)
	assert.Empty(t, cmd.Path)
}

func TestLookupUnknownKeys(t *testing.T) {
	cmds := DefaultCommands("rec")
	for _, key := range []rune{KeyExit, 'z', '1'} {
		_, ok := Lookup(cmds, key)
		assert.False(t, ok, "key %q", key)
	}
}

func TestKeysAreUnique(t *testing.T) {
	seen := map[rune]bool{KeyQuit: true, KeyExit: true}
	for _, c := range DefaultCommands("rec") {
		assert.False(t, seen[c.Key], "duplicate key %q", c.Key)
		seen[c.Key] = true
	}
}

func TestHelp(t *testing.T) {
	help := Help(DefaultCommands("rec"))
	assert.Contains(t, help, "t  what time is it\n")
	assert.Contains(t, help, "q  stop and quit\n")
	assert.Equal(t, 13, strings.Count(help, "\n"))
}
