package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/sudo-init-do/repairnet/internal/kvstore"
	"github.com/sudo-init-do/repairnet/internal/listing"
	"github.com/sudo-init-do/repairnet/internal/logging"
	"github.com/sudo-init-do/repairnet/internal/wallet"
)

const (
	provider = "0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed"
	customer = "0xfB6916095ca1df60bB79Ce92cE3Ea74c37c5d359"
)

type fixture struct {
	t      *testing.T
	store  *kvstore.Memory
	board  *listing.Board
	tokens *wallet.Tokens
	srv    *Server
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := logging.Discard()
	store := kvstore.NewMemory()
	board := listing.NewBoard(listing.NewController(store, listing.WithLogger(logger)), logger)
	tokens := wallet.NewTokens("test-secret", time.Hour)
	srv := NewServer(board, tokens, logger)
	t.Cleanup(srv.Feed.Close)
	return &fixture{t: t, store: store, board: board, tokens: tokens, srv: srv}
}

func (f *fixture) do(method, path, as, body string) (int, map[string]any) {
	f.t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if as != "" {
		tok, err := f.tokens.Issue(as)
		require.NoError(f.t, err)
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	rec := httptest.NewRecorder()
	f.srv.Echo.ServeHTTP(rec, req)

	out := map[string]any{}
	if rec.Body.Len() > 0 {
		require.NoError(f.t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	}
	return rec.Code, out
}

func (f *fixture) create(as, serviceType string) string {
	f.t.Helper()
	code, body := f.do(http.MethodPost, "/listings", as, `{"serviceType":"`+serviceType+`","description":"door seal","availability":"weekends"}`)
	require.Equal(f.t, http.StatusCreated, code, body)
	return body["listing"].(map[string]any)["id"].(string)
}

func TestHealthAndReady(t *testing.T) {
	f := newFixture(t)
	code, _ := f.do(http.MethodGet, "/health", "", "")
	require.Equal(t, http.StatusOK, code)

	code, body := f.do(http.MethodGet, "/ready", "", "")
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, "ready", body["status"])

	f.store.SetAvailable(false)
	code, _ = f.do(http.MethodGet, "/ready", "", "")
	require.Equal(t, http.StatusServiceUnavailable, code)
}

func TestCreateRequiresToken(t *testing.T) {
	f := newFixture(t)
	code, body := f.do(http.MethodPost, "/listings", "", `{"serviceType":"Oven"}`)
	require.Equal(t, http.StatusUnauthorized, code)
	require.Equal(t, "missing Authorization header", body["error"])

	req := httptest.NewRequest(http.MethodPost, "/listings", strings.NewReader(`{}`))
	req.Header.Set("Authorization", "Bearer not-a-token")
	rec := httptest.NewRecorder()
	f.srv.Echo.ServeHTTP(rec, req)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestCreateAndList(t *testing.T) {
	f := newFixture(t)
	id := f.create(provider, "Oven")

	code, body := f.do(http.MethodGet, "/listings", "", "")
	require.Equal(t, http.StatusOK, code)
	require.EqualValues(t, 1, body["total"])
	list := body["listings"].([]any)
	require.Len(t, list, 1)
	got := list[0].(map[string]any)
	require.Equal(t, id, got["id"])
	require.Equal(t, "Oven", got["serviceType"])
	require.Equal(t, provider, got["provider"])
	require.Equal(t, "available", got["status"])
	require.True(t, strings.HasPrefix(got["data"].(string), "FHE-"))

	code, body = f.do(http.MethodGet, "/listings/"+id, "", "")
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, id, body["listing"].(map[string]any)["id"])

	code, _ = f.do(http.MethodGet, "/listings/nope", "", "")
	require.Equal(t, http.StatusNotFound, code)
}

func TestListFilters(t *testing.T) {
	f := newFixture(t)
	f.create(provider, "Oven")
	washer := f.create(provider, "Washing Machine")
	code, _ := f.do(http.MethodPost, "/listings/"+washer+"/match", customer, "")
	require.Equal(t, http.StatusOK, code)

	code, body := f.do(http.MethodGet, "/listings?status=matched", "", "")
	require.Equal(t, http.StatusOK, code)
	require.EqualValues(t, 1, body["total"])

	code, body = f.do(http.MethodGet, "/listings?q=oven", "", "")
	require.Equal(t, http.StatusOK, code)
	require.EqualValues(t, 1, body["total"])

	code, body = f.do(http.MethodGet, "/listings?limit=1&offset=1", "", "")
	require.Equal(t, http.StatusOK, code)
	require.EqualValues(t, 2, body["total"])
	require.Len(t, body["listings"].([]any), 1)

	code, _ = f.do(http.MethodGet, "/listings?status=broken", "", "")
	require.Equal(t, http.StatusBadRequest, code)

	code, body = f.do(http.MethodGet, "/listings/stats", "", "")
	require.Equal(t, http.StatusOK, code)
	require.EqualValues(t, 2, body["total"])
	require.EqualValues(t, 1, body["matched"])
}

func TestCreateValidation(t *testing.T) {
	f := newFixture(t)
	code, body := f.do(http.MethodPost, "/listings", provider, `{"serviceType":"Spaceship"}`)
	require.Equal(t, http.StatusBadRequest, code)
	require.Contains(t, body["error"], "service type")

	code, _ = f.do(http.MethodPost, "/listings", provider, `{"serviceType":`)
	require.Equal(t, http.StatusBadRequest, code)
}

func TestMatchAndComplete(t *testing.T) {
	f := newFixture(t)
	id := f.create(provider, "Dishwasher")

	code, body := f.do(http.MethodPost, "/listings/"+id+"/match", provider, "")
	require.Equal(t, http.StatusForbidden, code)
	require.Equal(t, "you cannot match your own listing", body["error"])

	code, body = f.do(http.MethodPost, "/listings/"+id+"/complete", provider, "")
	require.Equal(t, http.StatusConflict, code, body)

	code, body = f.do(http.MethodPost, "/listings/"+id+"/match", customer, "")
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, "matched", body["listing"].(map[string]any)["status"])

	code, _ = f.do(http.MethodPost, "/listings/"+id+"/complete", customer, "")
	require.Equal(t, http.StatusForbidden, code)

	code, body = f.do(http.MethodPost, "/listings/"+id+"/complete", strings.ToLower(provider), "")
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, "completed", body["listing"].(map[string]any)["status"])

	snapRec, ok := f.board.Snapshot().Get(id)
	require.True(t, ok)
	require.Equal(t, listing.StatusCompleted, snapRec.Status)

	code, _ = f.do(http.MethodPost, "/listings/missing/match", customer, "")
	require.Equal(t, http.StatusNotFound, code)
}

func TestUserRejection(t *testing.T) {
	f := newFixture(t)
	f.store.SetRejectWrites(true)
	code, body := f.do(http.MethodPost, "/listings", provider, `{"serviceType":"Microwave"}`)
	require.Equal(t, http.StatusConflict, code)
	require.Equal(t, "transaction rejected by user", body["error"])
	require.Equal(t, 0, f.board.Snapshot().Len())
}

func TestRefreshUnavailable(t *testing.T) {
	f := newFixture(t)
	f.create(provider, "Oven")

	f.store.SetAvailable(false)
	code, _ := f.do(http.MethodPost, "/listings/refresh", "", "")
	require.Equal(t, http.StatusServiceUnavailable, code)

	code, body := f.do(http.MethodGet, "/listings", "", "")
	require.Equal(t, http.StatusOK, code)
	require.EqualValues(t, 1, body["total"])

	f.store.SetAvailable(true)
	code, body = f.do(http.MethodPost, "/listings/refresh", "", "")
	require.Equal(t, http.StatusOK, code)
	require.EqualValues(t, 1, body["total"])
}

func TestMetricsEndpoint(t *testing.T) {
	f := newFixture(t)
	f.create(provider, "Electronics")

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	f.srv.Echo.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "repairnet_listings_visible")
}

func TestFeedStreamsSnapshots(t *testing.T) {
	f := newFixture(t)
	ts := httptest.NewServer(f.srv.Echo)
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/listings/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	type event struct {
		Type string `json:"type"`
		Data struct {
			Version  uint64           `json:"version"`
			Listings []map[string]any `json:"listings"`
		} `json:"data"`
	}
	read := func() event {
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
		var ev event
		require.NoError(t, conn.ReadJSON(&ev))
		return ev
	}

	first := read()
	require.Equal(t, "snapshot", first.Type)
	require.Empty(t, first.Data.Listings)
	require.Eventually(t, func() bool { return f.srv.Feed.Len() == 1 }, time.Second, 10*time.Millisecond)

	_, _, err = f.board.Create(context.Background(), listing.CreateRequest{ServiceType: "Oven", Creator: provider})
	require.NoError(t, err)

	next := read()
	require.Equal(t, "snapshot", next.Type)
	require.Len(t, next.Data.Listings, 1)
	require.Greater(t, next.Data.Version, first.Data.Version)
}

func TestFeedSkipsOlderSnapshots(t *testing.T) {
	f := newFixture(t)
	ts := httptest.NewServer(f.srv.Echo)
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/listings/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	version := func() uint64 {
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
		var ev struct {
			Data struct {
				Version uint64 `json:"version"`
			} `json:"data"`
		}
		require.NoError(t, conn.ReadJSON(&ev))
		return ev.Data.Version
	}

	require.Equal(t, uint64(0), version())
	require.Eventually(t, func() bool { return f.srv.Feed.Len() == 1 }, time.Second, 10*time.Millisecond)

	older, err := f.board.Refresh(context.Background())
	require.NoError(t, err)
	require.Equal(t, uint64(1), version())
	_, err = f.board.Refresh(context.Background())
	require.NoError(t, err)
	require.Equal(t, uint64(2), version())

	// A late delivery of version 1 must not reach the client.
	f.srv.Feed.publish(older)

	_, err = f.board.Refresh(context.Background())
	require.NoError(t, err)
	require.Equal(t, uint64(3), version())
}
