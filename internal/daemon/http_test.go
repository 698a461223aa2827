package daemon

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rawblock/veilwallet/pkg/models"
)

func rpcResult(t *testing.T, w http.ResponseWriter, result interface{}) {
	t.Helper()
	res, err := json.Marshal(result)
	if err != nil {
		t.Fatal(err)
	}
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"jsonrpc": "2.0", "id": 0, "result": json.RawMessage(res),
	})
}

func TestGetInfo(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/json_rpc" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var req jsonRPCRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatal(err)
		}
		if req.Method != "get_info" {
			t.Errorf("unexpected method %s", req.Method)
		}
		rpcResult(t, w, Info{Height: 1000, TargetHeight: 1200, Difficulty: 77, Synchronized: false})
	}))
	defer srv.Close()

	c := NewHTTPClient(Config{BaseURL: srv.URL})
	info, err := c.GetInfo(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if info.Height != 1000 || info.TargetHeight != 1200 {
		t.Fatalf("info = %+v", info)
	}
}

func TestRetryOnTransientFailure(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		rpcResult(t, w, Info{Height: 5})
	}))
	defer srv.Close()

	c := NewHTTPClient(Config{BaseURL: srv.URL, MaxRetries: 3})
	info, err := c.GetInfo(context.Background())
	if err != nil {
		t.Fatalf("expected retry to succeed: %v", err)
	}
	if info.Height != 5 || calls.Load() != 3 {
		t.Fatalf("height %d after %d calls", info.Height, calls.Load())
	}
}

func TestRetriesExhaustedSurfaceRemoteNode(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := NewHTTPClient(Config{BaseURL: srv.URL, MaxRetries: 2})
	_, err := c.GetInfo(context.Background())
	if err == nil {
		t.Fatal("expected failure")
	}
	if !models.IsKind(err, models.ErrRemoteNode) {
		t.Fatalf("want RemoteNode, got %v", err)
	}
}

func TestRPCErrorNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"jsonrpc": "2.0", "id": 0,
			"error": map[string]interface{}{"code": -7, "message": "block not accepted"},
		})
	}))
	defer srv.Close()

	c := NewHTTPClient(Config{BaseURL: srv.URL, MaxRetries: 3})
	err := c.SubmitBlock(context.Background(), "deadbeef")
	if err == nil {
		t.Fatal("expected rpc error")
	}
	if calls.Load() != 1 {
		t.Fatalf("protocol error retried %d times", calls.Load())
	}
}

func TestTimeoutClassification(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	c := NewHTTPClient(Config{BaseURL: srv.URL, Timeout: 20 * time.Millisecond, MaxRetries: 1})
	_, err := c.GetInfo(context.Background())
	if err == nil {
		t.Fatal("expected timeout")
	}
	// Timeout is a RemoteNode-class error for retry dispatch.
	if !models.IsKind(err, models.ErrRemoteNode) {
		t.Fatalf("want Timeout/RemoteNode, got %v", err)
	}
}

func TestSendRawTransactionRejection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/send_raw_transaction" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "Failed", "reason": "double spend"})
	}))
	defer srv.Close()

	c := NewHTTPClient(Config{BaseURL: srv.URL})
	err := c.SendRawTransaction(context.Background(), "00")
	if err == nil || !models.IsKind(err, models.ErrRemoteNode) {
		t.Fatalf("want RemoteNode rejection, got %v", err)
	}
}

func TestGetBlocksByHeightDecodesHex(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rpcResult(t, w, map[string]interface{}{
			"blocks": []map[string]interface{}{
				{"block": "0102ff", "txs": []string{"aabb"}},
			},
		})
	}))
	defer srv.Close()

	c := NewHTTPClient(Config{BaseURL: srv.URL})
	blocks, err := c.GetBlocksByHeight(context.Background(), []uint64{10})
	if err != nil {
		t.Fatal(err)
	}
	if len(blocks) != 1 || len(blocks[0].Block) != 3 || blocks[0].Block[2] != 0xff {
		t.Fatalf("blocks = %+v", blocks)
	}
	if len(blocks[0].Txs) != 1 || len(blocks[0].Txs[0]) != 2 {
		t.Fatalf("txs = %+v", blocks[0].Txs)
	}
}
