package agentcache

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPutGet(t *testing.T) {
	c := New()
	_, ok := c.Get("agent-1")
	assert.False(t, ok)

	c.Put("agent-1", Entry{Address: "10.0.0.1:6001", PublicKey: []byte("key")})
	e, ok := c.Get("agent-1")
	assert.True(t, ok)
	assert.Equal(t, "10.0.0.1:6001", e.Address)
}

func TestInvalidate(t *testing.T) {
	c := New()
	c.Put("agent-1", Entry{Address: "10.0.0.1:6001"})
	c.Invalidate("agent-1")
	_, ok := c.Get("agent-1")
	assert.False(t, ok)
}

func TestChanged(t *testing.T) {
	c := New()
	assert.True(t, c.Changed("agent-1", "10.0.0.1:6001", []byte("key")))

	c.Put("agent-1", Entry{Address: "10.0.0.1:6001", PublicKey: []byte("key")})
	assert.False(t, c.Changed("agent-1", "10.0.0.1:6001", []byte("key")))
	assert.True(t, c.Changed("agent-1", "10.0.0.2:6001", []byte("key")))
	assert.True(t, c.Changed("agent-1", "10.0.0.1:6001", []byte("other")))
}
