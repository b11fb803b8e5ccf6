// internal/executor/relay.go
package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gagliardetto/solana-go"
	"go.uber.org/zap"
)

// MinTipLamports — минимальный чай, который принимает block engine.
const MinTipLamports = 100_000

// BundleRelay — MEV-защищённый канал отправки: транзакции попадают в блок
// единым бандлом, недоступным для переупорядочивания.
type BundleRelay interface {
	SubmitBundle(ctx context.Context, txs []*solana.Transaction) (string, error)
	BundleStatus(ctx context.Context, bundleID string) (string, error)
}

// JitoRelay — клиент block engine Jito.
type JitoRelay struct {
	client  *http.Client
	logger  *zap.Logger
	baseURL string
}

func NewJitoRelay(baseURL string, timeout time.Duration, logger *zap.Logger) *JitoRelay {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &JitoRelay{
		client:  &http.Client{Timeout: timeout},
		logger:  logger.Named("jito-relay"),
		baseURL: baseURL,
	}
}

type jitoRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      int           `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
}

type jitoResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// SubmitBundle отправляет подписанные транзакции одним бандлом.
// Возвращает идентификатор бандла.
func (r *JitoRelay) SubmitBundle(ctx context.Context, txs []*solana.Transaction) (string, error) {
	if len(txs) == 0 {
		return "", fmt.Errorf("empty bundle")
	}

	encoded := make([]string, len(txs))
	for i, tx := range txs {
		b64, err := tx.ToBase64()
		if err != nil {
			return "", fmt.Errorf("encode transaction %d: %w", i, err)
		}
		encoded[i] = b64
	}

	raw, err := r.call(ctx, "sendBundle", []interface{}{
		encoded,
		map[string]string{"encoding": "base64"},
	})
	if err != nil {
		return "", fmt.Errorf("%w: %s", ErrRelayUnavailable, err)
	}

	var bundleID string
	if err := json.Unmarshal(raw, &bundleID); err != nil {
		return "", fmt.Errorf("decode bundle id: %w", err)
	}

	r.logger.Info("Bundle submitted",
		zap.String("bundle_id", bundleID),
		zap.Int("transactions", len(txs)))
	return bundleID, nil
}

// BundleStatus возвращает статус бандла: Landed, Pending, Failed, Invalid.
func (r *JitoRelay) BundleStatus(ctx context.Context, bundleID string) (string, error) {
	raw, err := r.call(ctx, "getBundleStatuses", []interface{}{[]string{bundleID}})
	if err != nil {
		return "", err
	}

	var parsed struct {
		Value []struct {
			BundleID string `json:"bundle_id"`
			Status   string `json:"status"`
		} `json:"value"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", fmt.Errorf("decode bundle status: %w", err)
	}
	if len(parsed.Value) == 0 {
		return "", fmt.Errorf("no status for bundle %s", bundleID)
	}
	return parsed.Value[0].Status, nil
}

func (r *JitoRelay) call(ctx context.Context, method string, params []interface{}) (json.RawMessage, error) {
	body, err := json.Marshal(jitoRequest{
		JSONRPC: "2.0",
		ID:      1,
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+"/api/v1/bundles", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	httpResp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("execute request: %w", err)
	}
	defer httpResp.Body.Close()

	r.logger.Debug("relay request completed",
		zap.String("method", method),
		zap.Duration("duration", time.Since(start)),
		zap.Int("status", httpResp.StatusCode))

	if httpResp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(httpResp.Body)
		return nil, fmt.Errorf("unexpected status code: %d, body: %s", httpResp.StatusCode, string(respBody))
	}

	var resp jitoResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if resp.Error != nil {
		return nil, fmt.Errorf("relay error %d: %s", resp.Error.Code, resp.Error.Message)
	}
	return resp.Result, nil
}
