package registrar

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEventKind_Terminal(t *testing.T) {
	assert.True(t, EventCompleted.Terminal())
	assert.True(t, EventFailed.Terminal())
	assert.False(t, EventStarted.Terminal())
	assert.False(t, EventConsulHealthy.Terminal())
}
