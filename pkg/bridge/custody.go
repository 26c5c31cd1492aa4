package bridge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// CustodyExecutor pays tokens out through the custody service's HTTP API.
// The request ID is sent as the idempotency key so a redelivered request
// cannot pay twice.
type CustodyExecutor struct {
	BaseURL string
	Client  *http.Client
}

func NewCustodyExecutor(baseURL string, timeout time.Duration) *CustodyExecutor {
	return &CustodyExecutor{
		BaseURL: baseURL,
		Client:  &http.Client{Timeout: timeout},
	}
}

var _ Executor = (*CustodyExecutor)(nil)

type custodyTransfer struct {
	From    string `json:"from"`
	To      string `json:"to"`
	TokenID string `json:"token_id"`
	Amount  string `json:"amount"`
	Memo    string `json:"memo"`
}

// Execute maps 2xx to success, 4xx to ErrTransferRejected and everything else
// to a transient error.
func (e *CustodyExecutor) Execute(ctx context.Context, req TransferRequest) error {
	body, err := json.Marshal(custodyTransfer{
		From:    req.From,
		To:      req.To,
		TokenID: req.TokenID,
		Amount:  req.Amount.String(),
		Memo:    fmt.Sprintf("%s:%s", req.Kind, req.Reference),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal custody transfer: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, e.BaseURL+"/transfers", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build custody request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Idempotency-Key", req.ID)

	resp, err := e.Client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("custody request failed: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("%w: custody returned %d: %s", ErrTransferRejected, resp.StatusCode, bytes.TrimSpace(msg))
	default:
		return fmt.Errorf("custody returned %d", resp.StatusCode)
	}
}
