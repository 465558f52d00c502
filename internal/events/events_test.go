package events

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/golang/mock/gomock"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func sampleEvent(auctionID string) BidEvent {
	return BidEvent{
		Type:         EventBidPlaced,
		AuctionID:    auctionID,
		BidID:        "b1",
		UserID:       "u1",
		CurrentPrice: decimal.NewFromInt(120),
		Timestamp:    time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}
}

func TestMulti_Publish(t *testing.T) {
	t.Parallel()

	errBoom := errors.New("boom")
	tests := []struct {
		name      string
		mockSetup func(a, b *MockPublisher)
		wantErr   error
	}{
		{
			name: "all publishers succeed",
			mockSetup: func(a, b *MockPublisher) {
				a.EXPECT().Publish(gomock.Any(), gomock.Any()).Return(nil)
				b.EXPECT().Publish(gomock.Any(), gomock.Any()).Return(nil)
			},
		},
		{
			name: "failure does not stop the fan-out",
			mockSetup: func(a, b *MockPublisher) {
				a.EXPECT().Publish(gomock.Any(), gomock.Any()).Return(errBoom)
				b.EXPECT().Publish(gomock.Any(), gomock.Any()).Return(nil)
			},
			wantErr: errBoom,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			ctrl := gomock.NewController(t)
			a, b := NewMockPublisher(ctrl), NewMockPublisher(ctrl)
			tt.mockSetup(a, b)

			err := Multi{a, b}.Publish(context.Background(), sampleEvent("a1"))
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestNop_Publish(t *testing.T) {
	t.Parallel()
	require.NoError(t, Nop{}.Publish(context.Background(), sampleEvent("a1")))
}

func TestRedisPublisher_Publish(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	pub := NewRedisPublisher(rdb, "")
	require.Equal(t, "auctions:a1", pub.Channel("a1"))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	sub := rdb.Subscribe(ctx, pub.Channel("a1"))
	t.Cleanup(func() { _ = sub.Close() })
	_, err := sub.Receive(ctx) // subscription confirmation
	require.NoError(t, err)

	require.NoError(t, pub.Publish(ctx, sampleEvent("a1")))

	msg, err := sub.ReceiveMessage(ctx)
	require.NoError(t, err)

	var got BidEvent
	require.NoError(t, json.Unmarshal([]byte(msg.Payload), &got))
	require.Equal(t, EventBidPlaced, got.Type)
	require.Equal(t, "b1", got.BidID)
	require.True(t, decimal.NewFromInt(120).Equal(got.CurrentPrice))
}

func TestRedisPublisher_PublishFailsWhenServerGone(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = rdb.Close() })
	mr.Close()

	err := NewRedisPublisher(rdb, "x").Publish(context.Background(), sampleEvent("a1"))
	require.Error(t, err)
	require.Contains(t, err.Error(), "x:a1")
}

func dialHub(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func TestHub_DeliversOnlyToWatchedAuction(t *testing.T) {
	t.Parallel()

	hub := NewHub(nil)
	t.Cleanup(hub.Close)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hub.ServeWs(w, r, "a1")
	}))
	t.Cleanup(srv.Close)

	conn := dialHub(t, srv)
	require.Eventually(t, func() bool { return hub.Subscribers("a1") == 1 }, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, hub.Publish(context.Background(), sampleEvent("a2")))
	require.NoError(t, hub.Publish(context.Background(), sampleEvent("a1")))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var got BidEvent
	require.NoError(t, json.Unmarshal(data, &got))
	require.Equal(t, "a1", got.AuctionID)
}

func TestHub_UnregistersOnDisconnect(t *testing.T) {
	t.Parallel()

	hub := NewHub(nil)
	t.Cleanup(hub.Close)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hub.ServeWs(w, r, "a1")
	}))
	t.Cleanup(srv.Close)

	conn := dialHub(t, srv)
	require.Eventually(t, func() bool { return hub.Subscribers("a1") == 1 }, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, conn.Close())
	require.Eventually(t, func() bool { return hub.Subscribers("a1") == 0 }, 2*time.Second, 5*time.Millisecond)
}

func TestHub_RejectsForeignOrigin(t *testing.T) {
	t.Parallel()

	hub := NewHub([]string{"https://auctions.example"})
	t.Cleanup(hub.Close)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hub.ServeWs(w, r, "a1")
	}))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	_, resp, err := websocket.DefaultDialer.Dial(url, http.Header{"Origin": []string{"https://evil.example"}})
	require.Error(t, err)
	require.NotNil(t, resp)
	require.Equal(t, http.StatusForbidden, resp.StatusCode)
	require.Zero(t, hub.Subscribers("a1"))
}
