package engine

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestQueue_EnqueueAndDrain(t *testing.T) {
	q := NewQueue(2)

	first := uuid.New()
	second := uuid.New()

	assert.True(t, q.Enqueue(first))
	assert.True(t, q.Enqueue(second))
	assert.Equal(t, 2, q.Len())

	assert.Equal(t, first, <-q.Tasks())
	assert.Equal(t, second, <-q.Tasks())
	assert.Equal(t, 0, q.Len())
}

func TestQueue_EnqueueFullDoesNotBlock(t *testing.T) {
	q := NewQueue(1)

	assert.True(t, q.Enqueue(uuid.New()))
	assert.False(t, q.Enqueue(uuid.New()))
	assert.Equal(t, 1, q.Len())
}
