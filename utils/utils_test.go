package utils

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewIDShapeAndUniqueness(t *testing.T) {
	a := NewID(PrefixEvent)
	b := NewID(PrefixEvent)

	assert.True(t, strings.HasPrefix(a, "evt_"))
	assert.Len(t, a, len("evt_")+10)
	assert.NotEqual(t, a, b)
}

func TestDisplayName(t *testing.T) {
	assert.Equal(t, "Emperor's Children", DisplayName("  emperor's children "))
	assert.Equal(t, "", DisplayName("   "))
}

func TestChannelName(t *testing.T) {
	assert.Equal(t, "gt-finale-list-review-alexw", ChannelName("GT Finale", "list-review", "AlexW"))
}

func TestRegistryKey(t *testing.T) {
	assert.Equal(t, "evt_123:review-p1", RegistryKey("evt_123", "review-p1"))
	assert.NotEqual(t, RegistryKey("evt_1", "a"), RegistryKey("evt_1", "b"))
}
