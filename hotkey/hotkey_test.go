package hotkey

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseCombo(t *testing.T) {
	c, ok := parseCombo("Alt+C")
	assert.True(t, ok)
	assert.True(t, c.alt)
	assert.False(t, c.ctrl)
	assert.Equal(t, 'c', c.key)

	c, ok = parseCombo("Ctrl+Shift+s")
	assert.True(t, ok)
	assert.True(t, c.ctrl)
	assert.True(t, c.shift)
	assert.Equal(t, 's', c.key)

	c, ok = parseCombo("win+q")
	assert.True(t, ok)
	assert.True(t, c.cmd)
	assert.Equal(t, 'q', c.key)
}

func TestParseComboRejectsInvalid(t *testing.T) {
	for _, bad := range []string{"", "Ctrl+Alt", "Ctrl+Enter", "Alt+"} {
		_, ok := parseCombo(bad)
		assert.False(t, ok, "%q should be rejected", bad)
	}
}

func TestMatchesKey(t *testing.T) {
	// Translated character match.
	assert.True(t, matchesKey('c', 0, 'c'))
	assert.True(t, matchesKey('C', 0, 'c'))
	// Virtual-key code match (VK codes for letters are ASCII uppercase).
	assert.True(t, matchesKey(0, uint16('C'), 'c'))
	assert.False(t, matchesKey('x', uint16('X'), 'c'))
}
