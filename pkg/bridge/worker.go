package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// Worker executes requests and reports their outcome.
type Worker struct {
	exec    Executor
	handler ResultHandler
	logger  *slog.Logger
}

func NewWorker(exec Executor, handler ResultHandler, logger *slog.Logger) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{exec: exec, handler: handler, logger: logger}
}

// Process runs one request. A rejected transfer is reported as a failure and
// Process returns nil; a transient executor error is returned unreported so
// the caller retries with the same request ID.
func (w *Worker) Process(ctx context.Context, req TransferRequest) error {
	res := TransferResult{RequestID: req.ID, Kind: req.Kind, Reference: req.Reference}

	err := w.exec.Execute(ctx, req)
	switch {
	case err == nil:
		res.Success = true
	case errors.Is(err, ErrTransferRejected):
		res.Reason = err.Error()
		w.logger.Warn("transfer rejected", "request_id", req.ID, "kind", req.Kind, "reference", req.Reference, "error", err)
	default:
		return fmt.Errorf("transfer %s not executed: %w", req.ID, err)
	}

	if err := w.handler.HandleTransferResult(ctx, res); err != nil {
		return fmt.Errorf("failed to apply result of transfer %s: %w", req.ID, err)
	}
	w.logger.Info("transfer settled", "request_id", req.ID, "kind", req.Kind, "reference", req.Reference, "success", res.Success)
	return nil
}
