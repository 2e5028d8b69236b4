package ledger

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func rpcServer(t *testing.T, handler func(method string, params json.RawMessage) (interface{}, *rpcError)) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ID     uint64          `json:"id"`
			Method string          `json:"method"`
			Params json.RawMessage `json:"params"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
			return
		}

		result, rpcErr := handler(req.Method, req.Params)
		resp := map[string]interface{}{"jsonrpc": "2.0", "id": req.ID}
		if rpcErr != nil {
			resp["error"] = rpcErr
		} else {
			resp["result"] = result
		}
		json.NewEncoder(w).Encode(resp)
	}))
}

func TestLedgerHash(t *testing.T) {
	srv := rpcServer(t, func(method string, params json.RawMessage) (interface{}, *rpcError) {
		if method != "getLedger" {
			t.Errorf("method = %s", method)
		}
		var p struct {
			Sequence int64 `json:"sequence"`
		}
		if err := json.Unmarshal(params, &p); err != nil {
			t.Errorf("params: %v", err)
		}
		if p.Sequence != 42 {
			t.Errorf("sequence = %d, want 42", p.Sequence)
		}
		return LedgerInfo{Seq: 42, Hash: "abc123", CloseAt: 1700000000}, nil
	})
	defer srv.Close()

	c := NewHTTPClient(srv.URL)
	hash, err := c.LedgerHash(context.Background(), 42)
	if err != nil {
		t.Fatalf("LedgerHash: %v", err)
	}
	if hash != "abc123" {
		t.Errorf("hash = %q, want abc123", hash)
	}
}

func TestLatestLedger(t *testing.T) {
	srv := rpcServer(t, func(method string, _ json.RawMessage) (interface{}, *rpcError) {
		return LedgerInfo{Seq: 100, Hash: "ff"}, nil
	})
	defer srv.Close()

	c := NewHTTPClient(srv.URL)
	info, err := c.LatestLedger(context.Background())
	if err != nil {
		t.Fatalf("LatestLedger: %v", err)
	}
	if info.Seq != 100 {
		t.Errorf("seq = %d, want 100", info.Seq)
	}
}

func TestEvents_DecodesEnvelopes(t *testing.T) {
	topic := base64.StdEncoding.EncodeToString([]byte{0x0c, 0, 0, 0, 6, 'c', 'r', 'e', 'a', 't', 'e'})
	srv := rpcServer(t, func(method string, _ json.RawMessage) (interface{}, *rpcError) {
		return getEventsResult{
			Events: []eventEnvelope{{
				LedgerSeq:  7,
				LedgerHash: "h7",
				ClosedAt:   1700000000,
				TxHash:     "tx-1",
				Topics:     []string{topic},
			}},
			LatestLedger: 9,
		}, nil
	})
	defer srv.Close()

	c := NewHTTPClient(srv.URL)
	events, err := c.Events(context.Background(), "CONTRACT", 1, 9)
	if err != nil {
		t.Fatalf("Events: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("events = %d, want 1", len(events))
	}
	ev := events[0]
	if ev.LedgerSeq != 7 || ev.TxHash != "tx-1" {
		t.Errorf("event = %+v", ev)
	}
	if len(ev.Topics) != 1 || ev.Topics[0][0] != 0x0c {
		t.Errorf("topics = %v", ev.Topics)
	}
	if !ev.ClosedAt.Equal(time.Unix(1700000000, 0).UTC()) {
		t.Errorf("closedAt = %v", ev.ClosedAt)
	}
}

func TestCall_RetriesTransientFailures(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		var req struct {
			ID uint64 `json:"id"`
		}
		json.NewDecoder(r.Body).Decode(&req)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"jsonrpc": "2.0", "id": req.ID,
			"result": LedgerInfo{Seq: 1, Hash: "aa"},
		})
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, WithRetryDelay(time.Millisecond), WithMaxRetries(5))
	hash, err := c.LedgerHash(context.Background(), 1)
	if err != nil {
		t.Fatalf("LedgerHash: %v", err)
	}
	if hash != "aa" {
		t.Errorf("hash = %q", hash)
	}
	if got := attempts.Load(); got != 3 {
		t.Errorf("attempts = %d, want 3", got)
	}
}

func TestCall_RPCErrorIsNotRetried(t *testing.T) {
	var attempts atomic.Int32
	srv := rpcServer(t, func(method string, _ json.RawMessage) (interface{}, *rpcError) {
		attempts.Add(1)
		return nil, &rpcError{Code: -32600, Message: "bad request"}
	})
	defer srv.Close()

	c := NewHTTPClient(srv.URL, WithRetryDelay(time.Millisecond))
	if _, err := c.LedgerHash(context.Background(), 1); err == nil {
		t.Fatal("expected error")
	}
	if got := attempts.Load(); got != 1 {
		t.Errorf("attempts = %d, want 1", got)
	}
}
