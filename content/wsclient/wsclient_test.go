package wsclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/syncot-labs/otcore/content"
	"github.com/syncot-labs/otcore/otcoreerr"
	"github.com/syncot-labs/otcore/schema"
)

func schemaFixture() schema.Descriptor {
	return schema.New("doc", schema.Data{TopNode: "doc"})
}

var upgrader = websocket.Upgrader{}

// dial starts an httptest server running handle against every accepted
// connection and returns a wsclient.Client dialed against it.
func dial(t *testing.T, handle func(conn *websocket.Conn)) (*Client, func()) {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		go handle(conn)
	}))

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)

	c := New(conn, "alice", "sess-1", zap.NewNop())
	return c, srv.Close
}

func TestRegisterSchemaRoundTrip(t *testing.T) {
	c, closeSrv := dial(t, func(conn *websocket.Conn) {
		var env envelope
		require.NoError(t, conn.ReadJSON(&env))
		assert.Equal(t, "registerSchema", env.Type)
		require.NoError(t, conn.WriteJSON(envelope{ID: env.ID, Type: "registerSchema"}))
	})
	defer closeSrv()
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	err := c.RegisterSchema(ctx, schemaFixture())
	assert.NoError(t, err)
}

func TestGetSnapshotDecodesPayload(t *testing.T) {
	c, closeSrv := dial(t, func(conn *websocket.Conn) {
		var env envelope
		require.NoError(t, conn.ReadJSON(&env))
		assert.Equal(t, "getSnapshot", env.Type)
		payload, err := json.Marshal(content.Snapshot{Type: "note", ID: "doc-1", Version: 3})
		require.NoError(t, err)
		require.NoError(t, conn.WriteJSON(envelope{ID: env.ID, Type: "getSnapshot", Payload: payload}))
	})
	defer closeSrv()
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	snap, err := c.GetSnapshot(ctx, "note", "doc-1", 1<<30)
	require.NoError(t, err)
	assert.Equal(t, int64(3), snap.Version)
}

func TestSubmitOperationSurfacesAlreadyExistsError(t *testing.T) {
	c, closeSrv := dial(t, func(conn *websocket.Conn) {
		var env envelope
		require.NoError(t, conn.ReadJSON(&env))
		require.NoError(t, conn.WriteJSON(envelope{
			ID:    env.ID,
			Type:  "submitOperation",
			Error: &wireError{Kind: "alreadyExists", Key: "version", Value: 4},
		}))
	})
	defer closeSrv()
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	err := c.SubmitOperation(ctx, content.Operation{Key: "op-1", Type: "note", ID: "doc-1", Version: 3})

	var already otcoreerr.AlreadyExistsError
	require.ErrorAs(t, err, &already)
	assert.Equal(t, otcoreerr.KeyVersion, already.Key)
	assert.Equal(t, int64(4), already.Value)
}

func TestStreamOperationsDeliversThenCloses(t *testing.T) {
	c, closeSrv := dial(t, func(conn *websocket.Conn) {
		var env envelope
		require.NoError(t, conn.ReadJSON(&env))
		assert.Equal(t, "streamOperations", env.Type)
		ack, err := json.Marshal(map[string]string{"streamId": "s1"})
		require.NoError(t, err)
		require.NoError(t, conn.WriteJSON(envelope{ID: env.ID, Type: "streamOperations", Payload: ack}))

		opPayload, err := json.Marshal(content.Operation{Key: "op-1", Type: "note", ID: "doc-1", Version: 1})
		require.NoError(t, err)
		require.NoError(t, conn.WriteJSON(envelope{ID: "s1", Type: "streamData", Payload: opPayload}))
		require.NoError(t, conn.WriteJSON(envelope{ID: "s1", Type: "streamClose"}))
	})
	defer closeSrv()
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	stream, err := c.StreamOperations(ctx, "note", "doc-1", 1, 100)
	require.NoError(t, err)

	select {
	case op := <-stream.Operations():
		assert.Equal(t, "op-1", op.Key)
	case <-time.After(time.Second):
		t.Fatal("expected the streamed operation to be delivered")
	}

	select {
	case _, ok := <-stream.Operations():
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("expected the stream channel to close after streamClose")
	}
	assert.NoError(t, stream.Err())
}

func TestInactiveThenActiveFiresTransition(t *testing.T) {
	ready := make(chan struct{})
	c, closeSrv := dial(t, func(conn *websocket.Conn) {
		<-ready
		require.NoError(t, conn.WriteJSON(envelope{Type: "inactive"}))
		require.NoError(t, conn.WriteJSON(envelope{Type: "active"}))
	})
	defer closeSrv()
	defer c.Close()

	active, transitions := c.Active()
	assert.True(t, active)
	close(ready)

	select {
	case <-transitions:
	case <-time.After(time.Second):
		t.Fatal("expected a transition after inactive->active")
	}
	active, _ = c.Active()
	assert.True(t, active)
}
