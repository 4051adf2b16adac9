package status

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStoreFlag(t *testing.T) {
	s := New()
	assert.False(t, s.AnyReconnecting())
	s.SetStoreReconnecting(true)
	assert.True(t, s.StoreReconnecting())
	assert.True(t, s.AnyReconnecting())
	s.SetStoreReconnecting(false)
	assert.False(t, s.AnyReconnecting())
}

func TestChannelFlagCountsOverlappingReconnects(t *testing.T) {
	s := New()
	endA := s.BeginChannelReconnect()
	endB := s.BeginChannelReconnect()
	assert.True(t, s.ChannelReconnecting())

	endA()
	endA()
	assert.True(t, s.ChannelReconnecting(), "second channel still reconnecting")

	endB()
	assert.False(t, s.ChannelReconnecting())
	assert.False(t, s.AnyReconnecting())
}
