package coordinator

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSleepOrDone_ReturnsFalseOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	start := time.Now()
	got := sleepOrDone(ctx, time.Second)
	assert.False(t, got)
	assert.Less(t, time.Since(start), 100*time.Millisecond)
}

func TestSleepOrDone_ReturnsTrueAfterDuration(t *testing.T) {
	got := sleepOrDone(context.Background(), 10*time.Millisecond)
	assert.True(t, got)
}
