package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	dErrors "proveniq-ops/pkg/domain-errors"
)

// HTTPBridge talks to the real ledger service over its JSON API.
type HTTPBridge struct {
	baseURL string
	client  *http.Client
}

// NewHTTPBridge builds a bridge against the ledger at baseURL.
func NewHTTPBridge(baseURL string, timeout time.Duration) *HTTPBridge {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPBridge{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

func (b *HTTPBridge) WriteEvent(ctx context.Context, event Event) (Receipt, error) {
	body, err := json.Marshal(event)
	if err != nil {
		return Receipt{}, fmt.Errorf("marshal ledger event: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		b.baseURL+"/api/v1/events", bytes.NewReader(body))
	if err != nil {
		return Receipt{}, fmt.Errorf("build ledger request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.client.Do(req)
	if err != nil {
		return Receipt{}, &TransientError{Err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusCreated:
		var receipt Receipt
		if err := json.NewDecoder(resp.Body).Decode(&receipt); err != nil {
			return Receipt{}, fmt.Errorf("decode ledger receipt: %w", err)
		}
		return receipt, nil
	case resp.StatusCode == http.StatusConflict:
		// Idempotency conflict. The event landed on a previous attempt.
		return Receipt{LedgerEventID: "already_synced", AlreadySynced: true}, nil
	case resp.StatusCode >= 500:
		return Receipt{}, &TransientError{Err: fmt.Errorf("ledger returned %d", resp.StatusCode)}
	default:
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return Receipt{}, dErrors.Newf(dErrors.CodeUnavailable,
			"ledger rejected event: %d: %s", resp.StatusCode, detail)
	}
}

func (b *HTTPBridge) GetEvent(ctx context.Context, ledgerEventID string) (map[string]any, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		b.baseURL+"/api/v1/events/"+ledgerEventID, nil)
	if err != nil {
		return nil, fmt.Errorf("build ledger request: %w", err)
	}

	resp, err := b.client.Do(req)
	if err != nil {
		return nil, &TransientError{Err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		var payload map[string]any
		if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
			return nil, fmt.Errorf("decode ledger event: %w", err)
		}
		return payload, nil
	case resp.StatusCode == http.StatusNotFound:
		return nil, dErrors.New(dErrors.CodeNotFound, "ledger event not found")
	case resp.StatusCode >= 500:
		return nil, &TransientError{Err: fmt.Errorf("ledger returned %d", resp.StatusCode)}
	default:
		return nil, dErrors.Newf(dErrors.CodeUnavailable, "ledger returned %d", resp.StatusCode)
	}
}

func (b *HTTPBridge) CheckBalance(ctx context.Context) (Balance, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		b.baseURL+"/api/v1/balance", nil)
	if err != nil {
		return Balance{}, fmt.Errorf("build ledger request: %w", err)
	}

	resp, err := b.client.Do(req)
	if err != nil {
		return Balance{}, &TransientError{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		if resp.StatusCode >= 500 {
			return Balance{}, &TransientError{Err: fmt.Errorf("ledger returned %d", resp.StatusCode)}
		}
		return Balance{}, dErrors.Newf(dErrors.CodeUnavailable, "ledger returned %d", resp.StatusCode)
	}

	var balance Balance
	if err := json.NewDecoder(resp.Body).Decode(&balance); err != nil {
		return Balance{}, fmt.Errorf("decode ledger balance: %w", err)
	}
	return balance, nil
}
