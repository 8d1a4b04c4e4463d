package remote

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arborsense/leafvault/pkg/types"
)

func makeRemoteEntity(id string) *types.Entity {
	now := time.Now().UTC()
	return &types.Entity{
		ID:         id,
		Collection: types.CollectionTrees,
		Payload:    json.RawMessage(`{"code":"A-001"}`),
		Status:     types.StatusActive,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

func TestPing(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/health", r.URL.Path)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, 7,time.Second, nil)
	assert.NoError(t, c.Ping(context.Background()))
}

func TestPingUnhealthy(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, 7,time.Second, nil)
	assert.Error(t, c.Ping(context.Background()))
}

func TestChangesSendsCursorAndDecodes(t *testing.T) {
	since := time.Date(2026, 3, 14, 9, 26, 53, 589793238, time.UTC)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/trees", r.URL.Path)
		assert.Equal(t, since.Format(time.RFC3339Nano), r.URL.Query().Get("since"))
		assert.Equal(t, "7", r.URL.Query().Get("user_id"))
		require.NoError(t, json.NewEncoder(w).Encode([]*types.Entity{
			makeRemoteEntity("t1"),
			makeRemoteEntity("t2"),
		}))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, 7,time.Second, nil)
	entities, err := c.Changes(context.Background(), types.CollectionTrees, since)
	require.NoError(t, err)
	require.Len(t, entities, 2)
	assert.Equal(t, "t1", entities[0].ID)
	assert.Equal(t, "t2", entities[1].ID)
}

func TestChangesZeroSinceOmitsCursor(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.False(t, r.URL.Query().Has("since"))
		_, _ = w.Write([]byte("[]"))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, 7,time.Second, nil)
	entities, err := c.Changes(context.Background(), types.CollectionTrees, time.Time{})
	require.NoError(t, err)
	assert.Empty(t, entities)
}

func TestPutSendsEntity(t *testing.T) {
	var received types.Entity
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		assert.Equal(t, "/api/v1/trees/t1", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, 7,time.Second, nil)
	require.NoError(t, c.Put(context.Background(), makeRemoteEntity("t1")))
	assert.Equal(t, "t1", received.ID)
}

func TestPutRejectedIsTerminal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "tree code already in use", http.StatusConflict)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, 7,time.Second, nil)
	err := c.Put(context.Background(), makeRemoteEntity("t1"))
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrRejected)

	var rejected *RejectedError
	require.True(t, errors.As(err, &rejected))
	assert.Equal(t, http.StatusConflict, rejected.StatusCode)
	assert.Contains(t, rejected.Body, "already in use")
}

func TestPutServerErrorIsRetryable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, 7,time.Second, nil)
	err := c.Put(context.Background(), makeRemoteEntity("t1"))
	require.Error(t, err)
	assert.NotErrorIs(t, err, types.ErrRejected)
}

func TestDeleteMissingIsSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodDelete, r.Method)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, 7,time.Second, nil)
	assert.NoError(t, c.Delete(context.Background(), types.CollectionTrees, "gone"))
}

func TestTransportFailureIsRetryable(t *testing.T) {
	c := NewClient("http://127.0.0.1:1", 7, 200*time.Millisecond, nil)
	err := c.Ping(context.Background())
	require.Error(t, err)
	assert.NotErrorIs(t, err, types.ErrRejected)
}
