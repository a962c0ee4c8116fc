package server

import (
	"testing"

	"github.com/dmitrijs2005/keepsake/internal/server/config"
	"github.com/dmitrijs2005/keepsake/internal/server/queue"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewQueue_Memory(t *testing.T) {
	c := &config.Config{}
	c.LoadDefaults()

	q, err := newQueue(c)
	require.NoError(t, err)
	_, ok := q.(*queue.MemoryQueue)
	assert.True(t, ok)
	assert.NoError(t, q.Close())
}
