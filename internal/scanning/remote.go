package scanning

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"google.golang.org/api/googleapi"

	"github.com/zombor/spend-tracker/internal/expense"
)

// DefaultRemoteTimeout is how long the remote model gets before the
// fallback takes over
const DefaultRemoteTimeout = 20 * time.Second

// RemoteError is a classified failure from a remote model
type RemoteError struct {
	Category   string
	StatusCode int
	Retryable  bool
	Err        error
}

func (e *RemoteError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("[%s] status %d: %v", e.Category, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("[%s] %v", e.Category, e.Err)
}

func (e *RemoteError) Unwrap() error {
	return e.Err
}

// classifyRemoteError groups transport errors by what a retry could fix
func classifyRemoteError(err error) *RemoteError {
	re := &RemoteError{Category: "unknown", Err: err}

	var apiErr *googleapi.Error
	var statusErr *StatusError
	var respErr *ResponseError
	switch {
	case errors.As(err, &apiErr):
		re.StatusCode = apiErr.Code
		re.Category, re.Retryable = classifyStatus(apiErr.Code)
	case errors.As(err, &statusErr):
		re.StatusCode = statusErr.Code
		re.Category, re.Retryable = classifyStatus(statusErr.Code)
	case errors.As(err, &respErr):
		re.Category = "malformed_response"
		re.Retryable = true
	case errors.Is(err, context.DeadlineExceeded):
		re.Category = "timeout"
		re.Retryable = true
	case errors.Is(err, context.Canceled):
		re.Category = "canceled"
	default:
		msg := strings.ToLower(err.Error())
		switch {
		case strings.Contains(msg, "quota"):
			re.Category = "quota_exceeded"
		case strings.Contains(msg, "connection") || strings.Contains(msg, "network"):
			re.Category = "network_error"
			re.Retryable = true
		}
	}
	return re
}

func classifyStatus(code int) (string, bool) {
	switch {
	case code == 400:
		return "bad_request", false
	case code == 401, code == 403:
		return "unauthorized", false
	case code == 404:
		return "not_found", false
	case code == 413:
		return "payload_too_large", false
	case code == 429:
		return "rate_limit", true
	case code >= 500:
		return "server_error", true
	default:
		return "api_error", false
	}
}

// RemoteStrategy runs a Scanner under a hard deadline. When the deadline
// passes the strategy returns TimedOut at once; the call keeps running in
// the background and its answer is logged and cached but never used.
type RemoteStrategy struct {
	scanner Scanner
	timeout time.Duration
	cache   expense.RawCache
	logger  *slog.Logger
}

// NewRemoteStrategy creates the primary strategy. cache may be nil.
func NewRemoteStrategy(scanner Scanner, timeout time.Duration, cache expense.RawCache, logger *slog.Logger) *RemoteStrategy {
	if timeout <= 0 {
		timeout = DefaultRemoteTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RemoteStrategy{scanner: scanner, timeout: timeout, cache: cache, logger: logger}
}

func (r *RemoteStrategy) Name() string {
	return "remote"
}

type scanReply struct {
	data *ReceiptData
	err  error
}

func (r *RemoteStrategy) Run(ctx context.Context, doc Document) Result {
	replies := make(chan scanReply, 1)

	// The call outlives the deadline so a late answer can still be cached,
	// bounded at twice the deadline.
	callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*r.timeout)
	go func() {
		defer cancel()
		defer func() {
			if p := recover(); p != nil {
				replies <- scanReply{err: fmt.Errorf("scanner panic: %v", p)}
			}
		}()
		data, err := r.scanner.ScanReceipt(callCtx, doc.Data, doc.ContentType)
		replies <- scanReply{data: data, err: err}
	}()

	timer := time.NewTimer(r.timeout)
	defer timer.Stop()

	select {
	case reply := <-replies:
		return r.result(ctx, doc, reply)

	case <-timer.C:
		// An answer that landed right at the deadline is kept as partial data
		select {
		case reply := <-replies:
			res := r.result(ctx, doc, reply)
			if res.Usable() {
				res.Outcome = TimedOut
				res.Reason = "answered at deadline"
				return res
			}
		default:
			go r.discardLate(doc, replies)
		}
		r.logger.Warn("remote scan timed out", "fingerprint", doc.Fingerprint, "timeout", r.timeout)
		return Result{Outcome: TimedOut, Reason: fmt.Sprintf("remote scan exceeded %s", r.timeout)}

	case <-ctx.Done():
		go r.discardLate(doc, replies)
		return Result{Outcome: Failed, Reason: ctx.Err().Error()}
	}
}

func (r *RemoteStrategy) result(ctx context.Context, doc Document, reply scanReply) Result {
	if reply.err != nil {
		re := classifyRemoteError(reply.err)
		r.logger.Warn("remote scan failed", "fingerprint", doc.Fingerprint, "category", re.Category, "retryable", re.Retryable, "error", reply.err)

		res := Result{Outcome: Failed, Reason: re.Error()}
		var respErr *ResponseError
		if errors.As(reply.err, &respErr) {
			res.RawText = respErr.Raw
		}
		return res
	}

	if reply.data == nil {
		return Result{Outcome: Empty, Reason: "no data returned"}
	}
	r.cacheRaw(ctx, doc.Fingerprint, reply.data)

	if len(reply.data.Items) == 0 {
		return Result{Outcome: Empty, Reason: "no items found", RawText: reply.data.RawText}
	}

	res := Result{Outcome: Success, Items: reply.data.Items, RawText: reply.data.RawText}
	if reply.data.Partial {
		res.Reason = "response truncated"
		r.logger.Warn("remote response truncated", "fingerprint", doc.Fingerprint, "items", len(reply.data.Items))
	}
	return res
}

func (r *RemoteStrategy) discardLate(doc Document, replies <-chan scanReply) {
	reply := <-replies
	if reply.err != nil {
		r.logger.Info("late remote scan failed", "fingerprint", doc.Fingerprint, "error", reply.err)
		return
	}
	items := 0
	if reply.data != nil {
		items = len(reply.data.Items)
		r.cacheRaw(context.Background(), doc.Fingerprint+"/late", reply.data)
	}
	r.logger.Info("discarding late remote result", "fingerprint", doc.Fingerprint, "items", items)
}

func (r *RemoteStrategy) cacheRaw(ctx context.Context, key string, data *ReceiptData) {
	if r.cache == nil || key == "" {
		return
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return
	}
	if err := r.cache.SaveRaw(context.WithoutCancel(ctx), key, raw); err != nil {
		r.logger.Warn("caching raw result", "key", key, "error", err)
	}
}
