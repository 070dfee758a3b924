package memclient

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syncot-labs/otcore/content"
	"github.com/syncot-labs/otcore/otcoreerr"
)

func TestGetSnapshotOnUnknownDocumentReturnsBaseVersion(t *testing.T) {
	c := New(NewStore(), "alice", "sess-1")

	snap, err := c.GetSnapshot(context.Background(), "note", "doc-1", 1<<62)
	require.NoError(t, err)
	assert.Equal(t, content.BaseVersion, snap.Version)
}

func TestSubmitOperationAssignsSequentialVersionsAndFansOut(t *testing.T) {
	store := NewStore()
	c := New(store, "alice", "sess-1")

	sub, err := c.StreamOperations(context.Background(), "note", "doc-1", 1, 100)
	require.NoError(t, err)

	err = c.SubmitOperation(context.Background(), content.Operation{
		Key: "op-1", Type: "note", ID: "doc-1", Version: 1, Data: json.RawMessage(`[]`),
	})
	require.NoError(t, err)

	select {
	case op := <-sub.Operations():
		assert.Equal(t, int64(1), op.Version)
		assert.Equal(t, "op-1", op.Key)
	case <-time.After(time.Second):
		t.Fatal("expected the submitted operation to be delivered to the stream")
	}

	snap, err := c.GetSnapshot(context.Background(), "note", "doc-1", 1<<62)
	require.NoError(t, err)
	assert.Equal(t, int64(1), snap.Version)
}

func TestSubmitOperationRejectsDuplicateKey(t *testing.T) {
	store := NewStore()
	c := New(store, "alice", "sess-1")

	op := content.Operation{Key: "op-1", Type: "note", ID: "doc-1", Version: 1, Data: json.RawMessage(`[]`)}
	require.NoError(t, c.SubmitOperation(context.Background(), op))

	err := c.SubmitOperation(context.Background(), content.Operation{Key: "op-1", Type: "note", ID: "doc-1", Version: 2, Data: json.RawMessage(`[]`)})
	require.Error(t, err)
	var already otcoreerr.AlreadyExistsError
	require.ErrorAs(t, err, &already)
	assert.Equal(t, otcoreerr.KeyOperationKey, already.Key)
}

func TestSubmitOperationRejectsStaleVersion(t *testing.T) {
	store := NewStore()
	c := New(store, "alice", "sess-1")
	require.NoError(t, c.SubmitOperation(context.Background(), content.Operation{
		Key: "op-1", Type: "note", ID: "doc-1", Version: 1, Data: json.RawMessage(`[]`),
	}))

	err := c.SubmitOperation(context.Background(), content.Operation{
		Key: "op-2", Type: "note", ID: "doc-1", Version: 1, Data: json.RawMessage(`[]`),
	})
	require.Error(t, err)
	var already otcoreerr.AlreadyExistsError
	require.ErrorAs(t, err, &already)
	assert.Equal(t, otcoreerr.KeyVersion, already.Key)
	assert.Equal(t, int64(1), already.Value)
}

func TestTwoClientsShareAStoreAndSeeEachOthersOperations(t *testing.T) {
	store := NewStore()
	alice := New(store, "alice", "sess-a")
	bob := New(store, "bob", "sess-b")

	bobStream, err := bob.StreamOperations(context.Background(), "note", "doc-1", 1, 100)
	require.NoError(t, err)

	require.NoError(t, alice.SubmitOperation(context.Background(), content.Operation{
		Key: "op-1", Type: "note", ID: "doc-1", Version: 1, Data: json.RawMessage(`[]`),
	}))

	select {
	case op := <-bobStream.Operations():
		assert.Equal(t, "op-1", op.Key)
	case <-time.After(time.Second):
		t.Fatal("expected bob's stream to observe alice's operation")
	}
}

func TestStreamClosesOnReachingToVersion(t *testing.T) {
	store := NewStore()
	c := New(store, "alice", "sess-1")
	require.NoError(t, c.SubmitOperation(context.Background(), content.Operation{
		Key: "op-1", Type: "note", ID: "doc-1", Version: 1, Data: json.RawMessage(`[]`),
	}))

	stream, err := c.StreamOperations(context.Background(), "note", "doc-1", 1, 2)
	require.NoError(t, err)

	select {
	case op := <-stream.Operations():
		assert.Equal(t, int64(1), op.Version)
	case <-time.After(time.Second):
		t.Fatal("expected the pre-existing version-1 operation to be delivered")
	}

	require.NoError(t, c.SubmitOperation(context.Background(), content.Operation{
		Key: "op-2", Type: "note", ID: "doc-1", Version: 2, Data: json.RawMessage(`[]`),
	}))

	select {
	case _, ok := <-stream.Operations():
		assert.False(t, ok, "stream must close once it observes an operation at toVersion, without delivering it")
	case <-time.After(time.Second):
		t.Fatal("expected the stream channel to close")
	}
}

func TestSetActiveFiresTransitionOnlyOnFalseToTrueEdge(t *testing.T) {
	c := New(NewStore(), "alice", "sess-1")
	active, transitions := c.Active()
	assert.True(t, active)

	c.SetActive(true) // already active: no transition
	select {
	case <-transitions:
		t.Fatal("unexpected transition firing while already active")
	default:
	}

	c.SetActive(false)
	c.SetActive(true)
	select {
	case <-transitions:
	default:
		t.Fatal("expected a transition on the false->true edge")
	}
}
