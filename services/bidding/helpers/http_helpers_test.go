package helpers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"auction-bidding/internal/biddingerrors"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func TestMapErrorToHTTP(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantMsg    string
	}{
		{"not_found", biddingerrors.AuctionNotFound("a1"), http.StatusNotFound, "auction not found"},
		{"wrapped_not_found", fmt.Errorf("service: %w", biddingerrors.ErrAuctionNotFound), http.StatusNotFound, "auction not found"},
		{"not_active", biddingerrors.AuctionNotActive("a1"), http.StatusConflict, "auction is not active"},
		{"too_low", biddingerrors.BidTooLow("a1", decimal.NewFromInt(110)), http.StatusConflict, "bid amount too low"},
		{"outbid", biddingerrors.OutbidByConcurrentHigherBid("a1", decimal.NewFromInt(110)), http.StatusConflict, "outbid by a concurrent higher bid"},
		{"invalid_bid", biddingerrors.InvalidBid("missing user id"), http.StatusBadRequest, "invalid bid details"},
		{"invalid_auction", fmt.Errorf("service: %w", biddingerrors.ErrInvalidAuction), http.StatusBadRequest, "invalid auction details"},
		{"exists", fmt.Errorf("service: %w", biddingerrors.ErrAuctionExists), http.StatusConflict, "auction already exists"},
		{"persistence", biddingerrors.PersistenceFailure("a1", errors.New("disk")), http.StatusInternalServerError, "bid could not be persisted"},
		{"abandoned", fmt.Errorf("engine: %w", context.DeadlineExceeded), http.StatusRequestTimeout, "request abandoned"},
		{"unknown", errors.New("boom"), http.StatusInternalServerError, "internal server error"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			status, msg := MapErrorToHTTP(tt.err)
			require.Equal(t, tt.wantStatus, status)
			require.Equal(t, tt.wantMsg, msg)
		})
	}
}

func TestHandleServiceError_IncludesRequiredMinimum(t *testing.T) {
	t.Parallel()
	gin.SetMode(gin.TestMode)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	HandleServiceError(c, "test", biddingerrors.BidTooLow("a1", decimal.NewFromInt(120)), nil)

	require.Equal(t, http.StatusConflict, w.Code)
	var resp struct {
		Message string        `json:"message"`
		Data    RejectionData `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Equal(t, "bid amount too low", resp.Message)
	require.Equal(t, "bid_too_low", resp.Data.Reason)
	require.True(t, decimal.NewFromInt(120).Equal(resp.Data.RequiredMinimum))
}
