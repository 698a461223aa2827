package daemon

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/rawblock/veilwallet/pkg/models"
)

// HTTPClient is the reference remote-node transport: JSON-RPC over HTTP
// POST with per-request timeouts and exponential-backoff retries. The
// daemon's binary bulk endpoints are not spoken here; block fetches go
// through the JSON form of get_blocks_by_height.
type HTTPClient struct {
	baseURL string
	client  *http.Client

	timeout    time.Duration
	maxRetries int
}

// Config tunes the HTTP transport.
type Config struct {
	BaseURL    string        // e.g. http://127.0.0.1:19081
	Timeout    time.Duration // per request; default 30s
	MaxRetries int           // default 3
}

// NewHTTPClient builds the transport; it performs no I/O.
func NewHTTPClient(cfg Config) *HTTPClient {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 3
	}
	return &HTTPClient{
		baseURL:    cfg.BaseURL,
		client:     &http.Client{Timeout: cfg.Timeout},
		timeout:    cfg.Timeout,
		maxRetries: cfg.MaxRetries,
	}
}

type jsonRPCRequest struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      int         `json:"id"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params,omitempty"`
}

type jsonRPCResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// callJSONRPC posts to /json_rpc with retry and backoff. Each attempt gets
// its own deadline; context cancellation aborts the retry loop.
func (c *HTTPClient) callJSONRPC(ctx context.Context, method string, params, result interface{}) error {
	body, err := json.Marshal(jsonRPCRequest{JSONRPC: "2.0", ID: 0, Method: method, Params: params})
	if err != nil {
		return models.Wrap(models.ErrInternal, err, "encode %s", method)
	}
	return c.post(ctx, c.baseURL+"/json_rpc", method, body, func(respBody []byte) error {
		var rpcResp jsonRPCResponse
		if err := json.Unmarshal(respBody, &rpcResp); err != nil {
			return models.Wrap(models.ErrRemoteNode, err, "%s: decode envelope", method)
		}
		if rpcResp.Error != nil {
			return models.Errorf(models.ErrRemoteNode, "%s: %d: %s", method, rpcResp.Error.Code, rpcResp.Error.Message)
		}
		if result == nil {
			return nil
		}
		if err := json.Unmarshal(rpcResp.Result, result); err != nil {
			return models.Wrap(models.ErrRemoteNode, err, "%s: decode result", method)
		}
		return nil
	})
}

// callPlain posts to a non-enveloped endpoint like /get_transactions.
func (c *HTTPClient) callPlain(ctx context.Context, endpoint string, params, result interface{}) error {
	body, err := json.Marshal(params)
	if err != nil {
		return models.Wrap(models.ErrInternal, err, "encode %s", endpoint)
	}
	return c.post(ctx, c.baseURL+endpoint, endpoint, body, func(respBody []byte) error {
		if result == nil {
			return nil
		}
		if err := json.Unmarshal(respBody, result); err != nil {
			return models.Wrap(models.ErrRemoteNode, err, "%s: decode result", endpoint)
		}
		return nil
	})
}

func (c *HTTPClient) post(ctx context.Context, url, what string, body []byte, handle func([]byte) error) error {
	var lastErr error
	backoff := 500 * time.Millisecond

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			log.Printf("[Daemon] Retry %d/%d for %s after error: %v", attempt, c.maxRetries, what, lastErr)
			select {
			case <-ctx.Done():
				return models.Wrap(models.ErrCancelled, ctx.Err(), "%s", what)
			case <-time.After(backoff):
			}
			backoff *= 2
		}

		reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
		req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			cancel()
			return models.Wrap(models.ErrInternal, err, "%s: build request", what)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.client.Do(req)
		if err != nil {
			cancel()
			if reqCtx.Err() == context.DeadlineExceeded {
				lastErr = models.Wrap(models.ErrTimeout, err, "%s", what)
			} else if ctx.Err() != nil {
				return models.Wrap(models.ErrCancelled, ctx.Err(), "%s", what)
			} else {
				lastErr = models.Wrap(models.ErrRemoteNode, err, "%s", what)
			}
			continue
		}

		respBody, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		cancel()
		if err != nil {
			lastErr = models.Wrap(models.ErrRemoteNode, err, "%s: read body", what)
			continue
		}
		if resp.StatusCode != http.StatusOK {
			lastErr = models.Errorf(models.ErrRemoteNode, "%s: HTTP %d", what, resp.StatusCode)
			continue
		}

		if err := handle(respBody); err != nil {
			// Protocol-level failures are not transient; surface them.
			return err
		}
		return nil
	}
	return lastErr
}

func (c *HTTPClient) GetInfo(ctx context.Context) (*Info, error) {
	var info Info
	if err := c.callJSONRPC(ctx, "get_info", nil, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

func (c *HTTPClient) GetBlockTemplate(ctx context.Context, walletAddress string, reserveSize int) (*BlockTemplate, error) {
	params := map[string]interface{}{
		"wallet_address": walletAddress,
		"reserve_size":   reserveSize,
	}
	var tpl BlockTemplate
	if err := c.callJSONRPC(ctx, "get_block_template", params, &tpl); err != nil {
		return nil, err
	}
	return &tpl, nil
}

func (c *HTTPClient) SubmitBlock(ctx context.Context, blobHex string) error {
	var res struct {
		Status string `json:"status"`
	}
	if err := c.callJSONRPC(ctx, "submit_block", []string{blobHex}, &res); err != nil {
		return err
	}
	if res.Status != "OK" {
		return models.Errorf(models.ErrRemoteNode, "submit_block: %s", res.Status)
	}
	return nil
}

func (c *HTTPClient) GetBlocksByHeight(ctx context.Context, heights []uint64) ([]RawBlock, error) {
	params := map[string]interface{}{"heights": heights}
	var res struct {
		Blocks []struct {
			Block string   `json:"block"`
			Txs   []string `json:"txs"`
		} `json:"blocks"`
	}
	if err := c.callJSONRPC(ctx, "get_blocks_by_height", params, &res); err != nil {
		return nil, err
	}

	out := make([]RawBlock, 0, len(res.Blocks))
	for _, b := range res.Blocks {
		blob, err := hex.DecodeString(b.Block)
		if err != nil {
			return nil, models.Wrap(models.ErrRemoteNode, err, "block blob hex")
		}
		rb := RawBlock{Block: blob, Txs: make([][]byte, 0, len(b.Txs))}
		for _, th := range b.Txs {
			tb, err := hex.DecodeString(th)
			if err != nil {
				return nil, models.Wrap(models.ErrRemoteNode, err, "tx blob hex")
			}
			rb.Txs = append(rb.Txs, tb)
		}
		out = append(out, rb)
	}
	return out, nil
}

func (c *HTTPClient) GetTransactions(ctx context.Context, hashes []string, decodeAsJSON bool) ([]TxEntry, error) {
	params := map[string]interface{}{
		"txs_hashes":     hashes,
		"decode_as_json": decodeAsJSON,
	}
	var res struct {
		Txs    []TxEntry `json:"txs"`
		Status string    `json:"status"`
	}
	if err := c.callPlain(ctx, "/get_transactions", params, &res); err != nil {
		return nil, err
	}
	if res.Status != "" && res.Status != "OK" {
		return nil, models.Errorf(models.ErrRemoteNode, "get_transactions: %s", res.Status)
	}
	return res.Txs, nil
}

func (c *HTTPClient) GetOutputDistribution(ctx context.Context, fromHeight, toHeight uint64, cumulative bool) ([]Distribution, error) {
	params := map[string]interface{}{
		"amounts":     []uint64{0},
		"from_height": fromHeight,
		"to_height":   toHeight,
		"cumulative":  cumulative,
	}
	var res struct {
		Distributions []Distribution `json:"distributions"`
	}
	if err := c.callJSONRPC(ctx, "get_output_distribution", params, &res); err != nil {
		return nil, err
	}
	return res.Distributions, nil
}

func (c *HTTPClient) GetOuts(ctx context.Context, reqs []OutRequest) ([]OutEntry, error) {
	params := map[string]interface{}{"outputs": reqs, "get_txid": true}
	var res struct {
		Outs []struct {
			Key      string `json:"key"`
			Mask     string `json:"mask"`
			Unlocked bool   `json:"unlocked"`
			Height   uint64 `json:"height"`
			TxID     string `json:"txid"`
		} `json:"outs"`
		Status string `json:"status"`
	}
	if err := c.callPlain(ctx, "/get_outs", params, &res); err != nil {
		return nil, err
	}
	if res.Status != "" && res.Status != "OK" {
		return nil, models.Errorf(models.ErrRemoteNode, "get_outs: %s", res.Status)
	}

	out := make([]OutEntry, 0, len(res.Outs))
	for _, o := range res.Outs {
		var e OutEntry
		kb, err := hex.DecodeString(o.Key)
		if err != nil || len(kb) != 32 {
			return nil, models.Errorf(models.ErrRemoteNode, "get_outs: bad key %q", o.Key)
		}
		copy(e.Key[:], kb)
		mb, err := hex.DecodeString(o.Mask)
		if err != nil || len(mb) != 32 {
			return nil, models.Errorf(models.ErrRemoteNode, "get_outs: bad mask %q", o.Mask)
		}
		copy(e.Mask[:], mb)
		e.Unlocked = o.Unlocked
		e.Height = o.Height
		e.TxID = o.TxID
		out = append(out, e)
	}
	return out, nil
}

func (c *HTTPClient) SendRawTransaction(ctx context.Context, txHex string) error {
	params := map[string]interface{}{"tx_as_hex": txHex}
	var res struct {
		Status string `json:"status"`
		Reason string `json:"reason"`
	}
	if err := c.callPlain(ctx, "/send_raw_transaction", params, &res); err != nil {
		return err
	}
	if res.Status != "OK" {
		return models.Errorf(models.ErrRemoteNode, "send_raw_transaction: %s (%s)", res.Status, res.Reason)
	}
	return nil
}

func (c *HTTPClient) IsKeyImageSpent(ctx context.Context, keyImages []string) ([]int, error) {
	params := map[string]interface{}{"key_images": keyImages}
	var res struct {
		SpentStatus []int  `json:"spent_status"`
		Status      string `json:"status"`
	}
	if err := c.callPlain(ctx, "/is_key_image_spent", params, &res); err != nil {
		return nil, err
	}
	if res.Status != "" && res.Status != "OK" {
		return nil, models.Errorf(models.ErrRemoteNode, "is_key_image_spent: %s", res.Status)
	}
	return res.SpentStatus, nil
}

func (c *HTTPClient) GetPoolTxHashes(ctx context.Context) ([]string, error) {
	var res struct {
		TxHashes []string `json:"tx_hashes"`
		Status   string   `json:"status"`
	}
	if err := c.callPlain(ctx, "/get_transaction_pool_hashes", struct{}{}, &res); err != nil {
		return nil, err
	}
	if res.Status != "" && res.Status != "OK" {
		return nil, models.Errorf(models.ErrRemoteNode, "pool hashes: %s", res.Status)
	}
	return res.TxHashes, nil
}

var _ Client = (*HTTPClient)(nil)

// String implements fmt.Stringer for log lines.
func (c *HTTPClient) String() string {
	return fmt.Sprintf("daemon@%s", c.baseURL)
}
