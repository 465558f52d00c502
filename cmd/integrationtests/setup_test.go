package integrationtests

import (
	"bytes"
	"encoding/json"
	"net/http/httptest"
	"testing"
	"time"

	"auction-bidding/internal/bidding"
	"auction-bidding/internal/events"
	model "auction-bidding/internal/models"
	"auction-bidding/internal/repository"
	"auction-bidding/internal/server"
	"auction-bidding/services/bidding/handler"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

// TestEnv bundles a router with the pieces tests may want to poke at directly.
type TestEnv struct {
	Router *gin.Engine
	Repo   *repository.MemoryRepo
	Hub    *events.Hub
}

// NewAuction returns an active auction open for the next hour.
func NewAuction(id string, minPrice int64) model.Auction {
	now := time.Now().UTC()
	return model.Auction{
		AuctionID:    id,
		ProductID:    "product-" + id,
		StartsAt:     now.Add(-time.Minute),
		EndsAt:       now.Add(time.Hour),
		MinPrice:     decimal.NewFromInt(minPrice),
		CurrentPrice: decimal.NewFromInt(minPrice),
		IsActive:     true,
		Version:      1,
		CreatedAt:    now.Add(-time.Minute),
		UpdatedAt:    now.Add(-time.Minute),
	}
}

// SetupTestRouterWithAuctions initializes the router over an in-memory
// repository seeded with auctions. The live feed is disabled.
func SetupTestRouterWithAuctions(auctions ...model.Auction) *gin.Engine {
	return setupEnv(false, auctions...).Router
}

// SetupTestEnvWithHub is SetupTestRouterWithAuctions with the websocket feed enabled.
func SetupTestEnvWithHub(t *testing.T, auctions ...model.Auction) *TestEnv {
	env := setupEnv(true, auctions...)
	t.Cleanup(env.Hub.Close)
	return env
}

func setupEnv(withHub bool, auctions ...model.Auction) *TestEnv {
	gin.SetMode(gin.TestMode)
	repo := repository.NewMemoryRepo()
	for _, a := range auctions {
		repo.AddAuction(a)
	}

	env := &TestEnv{Repo: repo}
	var (
		publisher events.Publisher = events.Nop{}
		live      handler.LiveFeed
	)
	if withHub {
		env.Hub = events.NewHub(nil)
		publisher = env.Hub
		live = env.Hub
	}

	engine := bidding.NewEngine(repo, nil)
	service := bidding.NewBiddingService(repo, engine, publisher)
	env.Router = server.SetupRouter(service, live)
	return env
}

// ExecuteRequestAndParse executes an HTTP request on the given router and
// parses the JSON envelope.
func ExecuteRequestAndParse(t *testing.T, router *gin.Engine, method, url string, body any) (map[string]any, *httptest.ResponseRecorder) {
	t.Helper()
	var reqBody []byte
	var err error

	switch v := body.(type) {
	case nil:
	case []byte:
		reqBody = v
	case string:
		reqBody = []byte(v)
	default:
		reqBody, err = json.Marshal(v)
		if err != nil {
			t.Fatalf("failed to marshal body: %v", err)
		}
	}

	w := httptest.NewRecorder()
	req := httptest.NewRequest(method, url, bytes.NewReader(reqBody))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)

	var resp map[string]any
	if w.Body.Len() > 0 {
		if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
			t.Fatalf("failed to unmarshal response: %v", err)
		}
	}
	return resp, w
}

// Data returns the envelope's data field as an object.
func Data(t *testing.T, resp map[string]any) map[string]any {
	t.Helper()
	data, ok := resp["data"].(map[string]any)
	if !ok {
		t.Fatalf("response has no object data: %v", resp)
	}
	return data
}

// DataList returns the envelope's data field as a list.
func DataList(t *testing.T, resp map[string]any) []any {
	t.Helper()
	data, ok := resp["data"].([]any)
	if !ok {
		t.Fatalf("response has no list data: %v", resp)
	}
	return data
}
