// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package conversation

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestTranscript() *Transcript {
	t := NewTranscript()
	n := 0
	t.newID = func() string {
		n++
		return fmt.Sprintf("msg-%d", n)
	}
	fixed := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	t.now = func() time.Time { return fixed }
	return t
}

func TestTranscript_AppendUserMessage(t *testing.T) {
	tr := newTestTranscript()

	msg := tr.AppendUserMessage("hi", "aGVsbG8=")

	assert.Equal(t, "msg-1", msg.ID)
	assert.Equal(t, RoleUser, msg.Role)
	assert.Equal(t, "hi", msg.Content)
	assert.Equal(t, "aGVsbG8=", msg.Image)
	assert.Equal(t, StateEnded, msg.State)
	assert.False(t, msg.Timestamp.IsZero())

	snap := tr.Snapshot()
	assert.Equal(t, uint64(1), snap.Version)
	require.Equal(t, 1, snap.Len())
	assert.Equal(t, msg, snap.Messages[0])
}

func TestTranscript_TokenDeltasReplaceLast(t *testing.T) {
	tr := newTestTranscript()
	tr.AppendUserMessage("hi", "")
	ph := tr.AppendAssistantPlaceholder()
	assert.True(t, ph.IsPlaceholder())
	assert.Equal(t, StateLoading, ph.State)

	var acc Accumulator
	for _, delta := range []string{"Hel", "lo", "!"} {
		msg, err := tr.ApplyTokenDelta(ph.ID, acc.Append(delta))
		require.NoError(t, err)
		assert.Equal(t, StateStreaming, msg.State)
	}

	last, ok := tr.Snapshot().Last()
	require.True(t, ok)
	assert.Equal(t, "Hello!", last.Content)
	assert.Equal(t, ph.ID, last.ID)
	assert.Equal(t, 2, tr.Snapshot().Len())

	done, err := tr.FinishAssistantMessage(ph.ID)
	require.NoError(t, err)
	assert.Equal(t, StateEnded, done.State)
	assert.False(t, done.IsPlaceholder())
}

func TestTranscript_ApplyTokenDeltaErrors(t *testing.T) {
	t.Run("not last", func(t *testing.T) {
		tr := newTestTranscript()
		ph := tr.AppendAssistantPlaceholder()
		tr.AppendUserMessage("yes", "")

		_, err := tr.ApplyTokenDelta(ph.ID, "late")
		assert.ErrorIs(t, err, ErrNotLastMessage)
	})

	t.Run("unknown id", func(t *testing.T) {
		tr := newTestTranscript()
		tr.AppendAssistantPlaceholder()

		_, err := tr.ApplyTokenDelta("nope", "x")
		assert.ErrorIs(t, err, ErrNotLastMessage)
	})

	t.Run("empty transcript", func(t *testing.T) {
		tr := newTestTranscript()
		_, err := tr.ApplyTokenDelta("msg-1", "x")
		assert.ErrorIs(t, err, ErrNotLastMessage)
	})

	t.Run("frozen", func(t *testing.T) {
		tr := newTestTranscript()
		ph := tr.AppendAssistantPlaceholder()
		_, err := tr.FinishAssistantMessage(ph.ID)
		require.NoError(t, err)

		_, err = tr.ApplyTokenDelta(ph.ID, "x")
		assert.ErrorIs(t, err, ErrMessageFrozen)
	})
}

func TestTranscript_SnapshotsAreImmutable(t *testing.T) {
	tr := newTestTranscript()
	tr.AppendUserMessage("hi", "")
	ph := tr.AppendAssistantPlaceholder()

	before := tr.Snapshot()
	_, err := tr.ApplyTokenDelta(ph.ID, "changed")
	require.NoError(t, err)
	after := tr.Snapshot()

	assert.Equal(t, "", before.Messages[1].Content, "old snapshot must not see new content")
	assert.Equal(t, "changed", after.Messages[1].Content)
	assert.Greater(t, after.Version, before.Version)
	assert.NotSame(t, &before.Messages[0], &after.Messages[0])
}

func TestTranscript_ObserversSeeEveryVersionInOrder(t *testing.T) {
	tr := newTestTranscript()

	var versions []uint64
	var lengths []int
	tr.Observe(func(s Snapshot) {
		versions = append(versions, s.Version)
		lengths = append(lengths, s.Len())
	})

	tr.AppendUserMessage("hi", "")
	ph := tr.AppendAssistantPlaceholder()
	_, _ = tr.ApplyTokenDelta(ph.ID, "a")
	_, _ = tr.FinishAssistantMessage(ph.ID)
	tr.AppendAssistantNotice(FallbackReply)

	assert.Equal(t, []uint64{1, 2, 3, 4, 5}, versions)
	assert.Equal(t, []int{1, 2, 2, 2, 3}, lengths)
}

func TestTranscript_FailedMutationDoesNotNotify(t *testing.T) {
	tr := newTestTranscript()
	calls := 0
	tr.Observe(func(Snapshot) { calls++ })

	_, err := tr.ApplyTokenDelta("missing", "x")
	require.Error(t, err)
	assert.Equal(t, 0, calls)
	assert.Equal(t, uint64(0), tr.Snapshot().Version)
}

func TestTranscript_AppendDecisionMessage(t *testing.T) {
	tr := newTestTranscript()
	msg := tr.AppendDecisionMessage(DecisionNo)
	assert.Equal(t, RoleUser, msg.Role)
	assert.Equal(t, "no", msg.Content)
}

func TestSnapshot_LastEmpty(t *testing.T) {
	_, ok := Snapshot{}.Last()
	assert.False(t, ok)
}

func TestAccumulator(t *testing.T) {
	var acc Accumulator
	deltas := []string{"", "Pro", "ceed", "ing ", "", "🚚"}
	want := ""
	for _, d := range deltas {
		want += d
		assert.Equal(t, want, acc.Append(d))
	}
	assert.Equal(t, "Proceeding 🚚", acc.String())
	assert.Equal(t, len(deltas), acc.Deltas())

	acc.Reset()
	assert.Equal(t, "", acc.String())
	assert.Equal(t, 0, acc.Deltas())
}
