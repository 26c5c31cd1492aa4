package bridge

import (
	"context"
	"log/slog"
	"sync"
)

// Loopback keeps requests in process. Without a worker attached requests
// wait in Pending until a test resolves them; with one they are processed on
// a separate goroutine, never on the caller's.
type Loopback struct {
	mu       sync.Mutex
	pending  map[string]TransferRequest
	order    []string
	sent     int
	sendErr  error
	worker   *Worker
	inflight sync.WaitGroup
	logger   *slog.Logger
}

func NewLoopback(logger *slog.Logger) *Loopback {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loopback{pending: map[string]TransferRequest{}, logger: logger}
}

var _ Bridge = (*Loopback)(nil)

// Attach makes the loopback process requests with w.
func (l *Loopback) Attach(w *Worker) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.worker = w
}

// FailSends makes every following Send return err until reset with nil.
func (l *Loopback) FailSends(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.sendErr = err
}

func (l *Loopback) Send(ctx context.Context, req TransferRequest) error {
	l.mu.Lock()
	if l.sendErr != nil {
		err := l.sendErr
		l.mu.Unlock()
		return err
	}
	if _, dup := l.pending[req.ID]; !dup {
		l.order = append(l.order, req.ID)
	}
	l.pending[req.ID] = req
	l.sent++
	w := l.worker
	l.mu.Unlock()

	if w != nil {
		l.inflight.Add(1)
		go func() {
			defer l.inflight.Done()
			if err := w.Process(context.Background(), req); err != nil {
				l.logger.Error("loopback transfer failed", "request_id", req.ID, "error", err)
				return
			}
			l.Take(req.ID)
		}()
	}
	return nil
}

// Pending returns unresolved requests in send order.
func (l *Loopback) Pending() []TransferRequest {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]TransferRequest, 0, len(l.order))
	for _, id := range l.order {
		out = append(out, l.pending[id])
	}
	return out
}

// Sent counts every accepted Send, re-sends included.
func (l *Loopback) Sent() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.sent
}

// Take removes a request from Pending.
func (l *Loopback) Take(id string) (TransferRequest, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	req, ok := l.pending[id]
	if !ok {
		return TransferRequest{}, false
	}
	delete(l.pending, id)
	for i, v := range l.order {
		if v == id {
			l.order = append(l.order[:i], l.order[i+1:]...)
			break
		}
	}
	return req, true
}

// Wait blocks until attached processing has drained.
func (l *Loopback) Wait() {
	l.inflight.Wait()
}
