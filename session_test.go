package legalrag

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/teilomillet/legalrag/config"
)

func TestSessionStore_CreateAndGet(t *testing.T) {
	store := NewSessionStore(config.DefaultConfig())
	rec := store.Create()

	got, ok := store.Get(rec.ID)
	require.True(t, ok)
	assert.Equal(t, ClarificationIdle, got.ClarificationState)
	assert.NotZero(t, got.CreatedAt)
}

func TestSessionStore_LockReturnsSameMutexPerSession(t *testing.T) {
	store := NewSessionStore(config.DefaultConfig())
	rec := store.Create()

	l1 := store.Lock(rec.ID) // Lock just returns the mutex, it does not acquire it
	l2 := store.Lock(rec.ID)
	assert.Same(t, l1, l2)

	// locking an id with no session yet still yields a usable mutex
	other := store.Lock("unknown-session")
	assert.NotNil(t, other)
}

func TestSessionStore_TouchBoundsHistoryAt5(t *testing.T) {
	store := NewSessionStore(config.DefaultConfig())
	rec := store.Create()

	for i := 0; i < 25; i++ {
		store.Touch(rec.ID, &Turn{Query: "q", Answer: "a", Timestamp: time.Now()})
	}

	got, _ := store.Get(rec.ID)
	assert.Len(t, got.History, 5)
}

func TestSessionStore_RecordRoutingSetsFreshMemoryOnConfidentDecision(t *testing.T) {
	store := NewSessionStore(config.DefaultConfig())
	rec := store.Create()

	store.RecordRouting(rec.ID, RoutingDecision{Collection: "chung_thuc", Confidence: 0.9, Level: ConfidenceHigh})

	mem := store.EffectiveMemory(rec.ID)
	require.NotNil(t, mem)
	assert.Equal(t, "chung_thuc", mem.Collection)
}

func TestSessionStore_RecordRoutingIgnoresMemoryDecisions(t *testing.T) {
	store := NewSessionStore(config.DefaultConfig())
	rec := store.Create()

	store.RecordRouting(rec.ID, RoutingDecision{Collection: "chung_thuc", Confidence: 0.9, Level: ConfidenceHigh})
	before := store.EffectiveMemory(rec.ID)
	require.NotNil(t, before)

	// a memory-sourced decision must not overwrite or clear the memory that produced it
	store.RecordRouting(rec.ID, RoutingDecision{
		Collection: "chung_thuc", Confidence: 0.9, Level: ConfidenceOverrideHigh, FromMemory: true,
	})
	after := store.EffectiveMemory(rec.ID)
	require.NotNil(t, after)
	assert.Equal(t, before.Timestamp, after.Timestamp)
}

func TestSessionStore_LowConfidenceStreakClearsMemory(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.SessionLowStreakLimit = 2
	store := NewSessionStore(cfg)
	rec := store.Create()

	store.RecordRouting(rec.ID, RoutingDecision{Collection: "chung_thuc", Confidence: 0.9, Level: ConfidenceHigh})
	require.NotNil(t, store.EffectiveMemory(rec.ID))

	store.RecordRouting(rec.ID, RoutingDecision{Level: ConfidenceLow, FromMemory: false})
	assert.NotNil(t, store.EffectiveMemory(rec.ID), "one low decision should not yet clear memory")

	store.RecordRouting(rec.ID, RoutingDecision{Level: ConfidenceLow, FromMemory: false})
	assert.Nil(t, store.EffectiveMemory(rec.ID), "streak limit reached, memory should be cleared")
}

func TestSessionStore_EffectiveMemoryExpiresPastFreshnessWindow(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.SessionMemoryFreshness = 0 // anything already recorded is immediately stale
	store := NewSessionStore(cfg)
	rec := store.Create()

	store.RecordRouting(rec.ID, RoutingDecision{Collection: "chung_thuc", Confidence: 0.9, Level: ConfidenceHigh})
	assert.Nil(t, store.EffectiveMemory(rec.ID))
}

func TestSessionStore_SetClarificationAndReset(t *testing.T) {
	store := NewSessionStore(config.DefaultConfig())
	rec := store.Create()

	store.SetClarification(rec.ID, ClarificationAwaitingCollection, "giấy khai sinh ở đâu", nil)
	got, _ := store.Get(rec.ID)
	assert.Equal(t, ClarificationAwaitingCollection, got.ClarificationState)
	assert.Equal(t, "giấy khai sinh ở đâu", got.PendingQuery)

	store.RecordRouting(rec.ID, RoutingDecision{Collection: "chung_thuc", Confidence: 0.9, Level: ConfidenceHigh})
	store.Touch(rec.ID, &Turn{Query: "q", Answer: "a", Timestamp: time.Now()})

	store.Reset(rec.ID)
	got, _ = store.Get(rec.ID)
	assert.Equal(t, ClarificationIdle, got.ClarificationState)
	assert.Empty(t, got.PendingQuery)
	assert.Nil(t, got.RoutingMemory)
	assert.Empty(t, got.History)
}

func TestSessionStore_SetClarificationStoresAndClearsOptions(t *testing.T) {
	store := NewSessionStore(config.DefaultConfig())
	rec := store.Create()
	opts := []ClarificationOption{{ID: "opt-1", Kind: OptionManualInput}}

	store.SetClarification(rec.ID, ClarificationAwaitingCollection, "q", opts)
	got, _ := store.Get(rec.ID)
	require.Len(t, got.PendingOptions, 1)
	assert.Equal(t, "opt-1", got.PendingOptions[0].ID)

	store.SetClarification(rec.ID, ClarificationIdle, "", nil)
	got, _ = store.Get(rec.ID)
	assert.Empty(t, got.PendingOptions)
}

func TestSessionStore_PendingForcedRoundTrips(t *testing.T) {
	store := NewSessionStore(config.DefaultConfig())
	rec := store.Create()

	store.SetPendingForced(rec.ID, "ho_tich_cap_xa", "doc-1")
	collection, document := store.ConsumePendingForced(rec.ID)
	assert.Equal(t, "ho_tich_cap_xa", collection)
	assert.Equal(t, "doc-1", document)

	// consuming clears it
	collection, document = store.ConsumePendingForced(rec.ID)
	assert.Empty(t, collection)
	assert.Empty(t, document)
}

func TestSessionStore_SweepEvictsIdleSessions(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.SessionTTL = 0
	store := NewSessionStore(cfg)
	rec := store.Create()

	store.sweep()

	_, ok := store.Get(rec.ID)
	assert.False(t, ok)
}

func TestSessionStore_CloseStopsSweepWithoutPanic(t *testing.T) {
	store := NewSessionStore(config.DefaultConfig())
	store.StartSweep()
	store.Close()
}
