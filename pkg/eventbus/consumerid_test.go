package eventbus

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDeriveConsumerIDStable(t *testing.T) {
	a, err := deriveConsumerID(0)
	assert.NoError(t, err)
	b, err := deriveConsumerID(0)
	assert.NoError(t, err)
	assert.Equal(t, a, b)
	assert.Equal(t, 2, strings.Count(a, ":"))
}

func TestDeriveConsumerIDVariesByProcessIndex(t *testing.T) {
	a, err := deriveConsumerID(0)
	assert.NoError(t, err)
	b, err := deriveConsumerID(1)
	assert.NoError(t, err)
	assert.NotEqual(t, a, b)
}
