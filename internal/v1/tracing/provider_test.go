package tracing

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSpanWithRoomCode_StartsAndEndsWithoutAProvider(t *testing.T) {
	ctx, end := SpanWithRoomCode(context.Background(), "registry.sweep_reap", "ABCDE-12345-FGHIJ")
	assert.NotNil(t, ctx)
	assert.NotPanics(t, end)
}
