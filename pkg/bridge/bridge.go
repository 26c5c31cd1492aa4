// Package bridge moves tokens out of the ledger to external wallets. A
// request is enqueued by the escrow engine, executed by a worker against the
// custody service, and its outcome is fed back as a TransferResult.
package bridge

import (
	"context"
	"errors"
	"time"

	"github.com/chris/p2p-escrow-ledger/pkg/models"
)

// Kind says what a transfer settles.
type Kind string

const (
	KindChatRelease Kind = "chat_release"
	KindWithdrawal  Kind = "token_withdrawal"
)

// TransferRequest asks for Amount of TokenID to be paid from the ledger
// custody of From to the external wallet of To. ID is unique per attempt and
// stays the same when a request is re-sent.
type TransferRequest struct {
	ID          string        `json:"id"`
	Kind        Kind          `json:"kind"`
	Reference   string        `json:"reference"`
	From        string        `json:"from"`
	To          string        `json:"to"`
	TokenID     string        `json:"token_id"`
	Amount      models.Amount `json:"amount"`
	Attempt     int           `json:"attempt"`
	RequestedAt time.Time     `json:"requested_at"`
}

// TransferResult is the outcome of a TransferRequest.
type TransferResult struct {
	RequestID string `json:"request_id"`
	Kind      Kind   `json:"kind"`
	Reference string `json:"reference"`
	Success   bool   `json:"success"`
	Reason    string `json:"reason,omitempty"`
}

// Bridge hands transfer requests to whatever executes them.
type Bridge interface {
	Send(ctx context.Context, req TransferRequest) error
}

// ResultHandler consumes transfer outcomes.
type ResultHandler interface {
	HandleTransferResult(ctx context.Context, res TransferResult) error
}

// Executor performs the external transfer.
type Executor interface {
	Execute(ctx context.Context, req TransferRequest) error
}

// ErrTransferRejected marks a definitive refusal by the custody side. Any
// other executor error is treated as transient and retried.
var ErrTransferRejected = errors.New("transfer rejected")
