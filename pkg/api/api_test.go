package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/code3hr/cyxchat-sub000/pkg/crypto"
	"github.com/code3hr/cyxchat-sub000/pkg/engine"
	"github.com/code3hr/cyxchat-sub000/pkg/protocol"
)

// sinkTransport accepts every packet and drops it
type sinkTransport struct{}

func (sinkTransport) Send(protocol.NodeID, []byte) error { return nil }

// newTestServer builds an engine plus a diagnostics server with a
// direct-call Runner. Engine access in tests is single threaded, so
// running handler reads inline is safe.
func newTestServer(t *testing.T) (*Server, *engine.Engine) {
	t.Helper()

	keys, err := crypto.GenerateKeyPair()
	assert.NoError(t, err)

	cfg := engine.DefaultConfig()
	cfg.DataDir = t.TempDir()
	e, err := engine.New(cfg, keys, sinkTransport{})
	assert.NoError(t, err)
	t.Cleanup(func() { e.Close() })

	server, err := NewServer(e, func(fn func()) { fn() }, DefaultConfig())
	assert.NoError(t, err)
	return server, e
}

func get(server *Server, url string) *httptest.ResponseRecorder {
	req := httptest.NewRequest("GET", url, nil)
	w := httptest.NewRecorder()
	server.router.ServeHTTP(w, req)
	return w
}

func TestNewServerValidation(t *testing.T) {
	_, err := NewServer(nil, func(fn func()) { fn() }, nil)
	assert.Error(t, err)

	keys, err := crypto.GenerateKeyPair()
	assert.NoError(t, err)
	cfg := engine.DefaultConfig()
	cfg.DataDir = t.TempDir()
	e, err := engine.New(cfg, keys, sinkTransport{})
	assert.NoError(t, err)
	defer e.Close()

	_, err = NewServer(e, nil, nil)
	assert.Error(t, err)
}

func TestHealthEndpoint(t *testing.T) {
	server, e := newTestServer(t)

	w := get(server, "/health")
	assert.Equal(t, http.StatusOK, w.Code)

	var response HealthResponse
	assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
	assert.True(t, response.Success)
	assert.Equal(t, "healthy", response.Status)
	assert.Equal(t, e.Self().String(), response.Node)
}

func TestStatusEndpoint(t *testing.T) {
	server, e := newTestServer(t)

	peer := protocol.NodeID{1, 2, 3}
	_, err := e.SendText(peer, "hello")
	assert.NoError(t, err)
	_, err = e.CreateGroup("diagnostics")
	assert.NoError(t, err)

	w := get(server, "/api/v1/engine/status")
	assert.Equal(t, http.StatusOK, w.Code)

	var response StatusResponse
	assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
	assert.True(t, response.Success)
	assert.Equal(t, e.Self().String(), response.Stats.Node)
	assert.Equal(t, 1, response.Stats.Messages)
	assert.Equal(t, 1, response.Stats.Groups)
}

func TestMessageEndpoint(t *testing.T) {
	server, e := newTestServer(t)

	peer := protocol.NodeID{9, 9, 9}
	msgID, err := e.SendText(peer, "tracked")
	assert.NoError(t, err)

	t.Run("Found", func(t *testing.T) {
		w := get(server, "/api/v1/engine/messages/"+msgID.String())
		assert.Equal(t, http.StatusOK, w.Code)

		var response MessageResponse
		assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
		assert.True(t, response.Success)
		assert.Equal(t, msgID.String(), response.Message.ID)
		assert.Equal(t, "tracked", response.Message.Text)
		assert.Equal(t, peer.String(), response.Message.Peer)
	})

	t.Run("BadID", func(t *testing.T) {
		w := get(server, "/api/v1/engine/messages/nothex")
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("Unknown", func(t *testing.T) {
		w := get(server, "/api/v1/engine/messages/"+protocol.NewMessageID().String())
		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}

func TestQueueStatsEndpoint(t *testing.T) {
	server, _ := newTestServer(t)

	w := get(server, "/api/v1/queue/stats")
	assert.Equal(t, http.StatusOK, w.Code)

	var response QueueStatsResponse
	assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
	assert.True(t, response.Success)
	assert.NotNil(t, response.Stats)
}

func TestTransfersEndpointEmpty(t *testing.T) {
	server, _ := newTestServer(t)

	w := get(server, "/api/v1/transfers")
	assert.Equal(t, http.StatusOK, w.Code)

	var response TransfersResponse
	assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
	assert.True(t, response.Success)
	assert.Equal(t, 0, response.Count)
}

func TestGroupsEndpoint(t *testing.T) {
	server, e := newTestServer(t)

	groupID, err := e.CreateGroup("readers")
	assert.NoError(t, err)

	w := get(server, "/api/v1/groups")
	assert.Equal(t, http.StatusOK, w.Code)

	var response GroupsResponse
	assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
	assert.True(t, response.Success)
	assert.Equal(t, 1, response.Count)
	assert.Equal(t, groupID.String(), response.Groups[0].ID)
	assert.Equal(t, "readers", response.Groups[0].Name)
	assert.Equal(t, e.Self().String(), response.Groups[0].Owner)
}

func TestRateLimit(t *testing.T) {
	keys, err := crypto.GenerateKeyPair()
	assert.NoError(t, err)
	cfg := engine.DefaultConfig()
	cfg.DataDir = t.TempDir()
	e, err := engine.New(cfg, keys, sinkTransport{})
	assert.NoError(t, err)
	defer e.Close()

	apiCfg := DefaultConfig()
	apiCfg.RateLimit = 2
	limited, err := NewServer(e, func(fn func()) { fn() }, apiCfg)
	assert.NoError(t, err)

	assert.Equal(t, http.StatusOK, get(limited, "/health").Code)
	assert.Equal(t, http.StatusOK, get(limited, "/health").Code)
	assert.Equal(t, http.StatusTooManyRequests, get(limited, "/health").Code)
}
