package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeBus bool

func (b fakeBus) IsConnected() bool { return bool(b) }

type fakePinger struct{ err error }

func (p fakePinger) Ping(context.Context) error { return p.err }

type fixedCount int

func (c fixedCount) Count() int { return int(c) }

func TestChecker(t *testing.T) {
	tests := []struct {
		name    string
		bus     BusChecker
		redis   Pinger
		code    int
		natsS   string
		redisS  string
		healthy bool
	}{
		{"all up", fakeBus(true), fakePinger{}, http.StatusOK, "connected", "connected", true},
		{"nats down", fakeBus(false), fakePinger{}, http.StatusServiceUnavailable, "disconnected", "connected", false},
		{"redis down", fakeBus(true), fakePinger{err: errors.New("refused")}, http.StatusServiceUnavailable, "connected", "disconnected", false},
		{"redis not configured", fakeBus(true), nil, http.StatusOK, "connected", "not configured", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			checker := NewChecker("access-1", tt.bus, tt.redis, fixedCount(3), fixedCount(2))
			mux := checker.Mux()

			w := httptest.NewRecorder()
			mux.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
			assert.Equal(t, tt.code, w.Code)

			var status Status
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &status))
			assert.Equal(t, tt.natsS, status.NATS)
			assert.Equal(t, tt.redisS, status.Redis)
			assert.Equal(t, 3, status.Connections)
			assert.Equal(t, 2, status.Rooms)
			assert.Equal(t, "access-1", status.NodeID)

			w = httptest.NewRecorder()
			mux.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ready", nil))
			assert.Equal(t, tt.code, w.Code)
		})
	}
}
