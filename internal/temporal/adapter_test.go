package temporal

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.temporal.io/sdk/log"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestZapAdapterFields(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	l := NewZapAdapter(zap.New(core)).With("thread_id", "t1")
	l.Info("started", "iterations", 3, "callback", func() {}, "dangling")

	entries := logs.All()
	assert.Len(t, entries, 1)
	ctx := entries[0].ContextMap()
	assert.Equal(t, "t1", ctx["thread_id"])
	assert.EqualValues(t, 3, ctx["iterations"])
	assert.Equal(t, "<func()>", ctx["callback"])
	assert.NotContains(t, ctx, "dangling")
}

func TestZapAdapterWithKeepsFields(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	var l log.Logger = NewZapAdapter(zap.New(core))
	withLogger, ok := l.(log.WithLogger)
	assert.True(t, ok)

	scoped := withLogger.With("workflow_id", "answer-machine-t1")
	scoped.Warn("slow activity")
	scoped.Debug("dropped below level")

	entries := logs.All()
	assert.Len(t, entries, 1)
	assert.Equal(t, "slow activity", entries[0].Message)
	assert.Equal(t, "answer-machine-t1", entries[0].ContextMap()["workflow_id"])
}
