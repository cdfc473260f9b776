package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestPushClientSend(t *testing.T) {
	var got Notification
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/internal/push", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := Notification{UserID: uuid.New(), Kind: KindDisputeOpened, Reference: "DP-261019-000001", At: time.Now().UTC()}
	err := NewPushClient(srv.URL+"/", zap.NewNop()).Send(context.Background(), n)
	require.NoError(t, err)
	assert.Equal(t, n.UserID, got.UserID)
	assert.Equal(t, "notify.dispute.opened", n.RoutingKey())
}

func TestPushClientStatusHandling(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		wantErr bool
	}{
		{"ok", http.StatusAccepted, false},
		{"client error is dropped", http.StatusBadRequest, false},
		{"server error is retried", http.StatusBadGateway, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			err := NewPushClient(srv.URL, zap.NewNop()).Send(context.Background(), Notification{Kind: KindStatusChanged})
			assert.Equal(t, tt.wantErr, err != nil)
		})
	}
}
