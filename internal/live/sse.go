package live

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/r3labs/sse/v2"
	"go.uber.org/zap"
	backoff "gopkg.in/cenkalti/backoff.v1"

	"github.com/nhle/hrnotify/internal/hrms"
)

// SSETransport reads a text/event-stream with r3labs/sse. The library's
// own reconnection is disabled; the Channel owns the retry policy.
type SSETransport struct {
	httpClient *http.Client
	logger     *zap.Logger
}

// NewSSETransport builds a transport on a copy of hc without its overall
// timeout, which would otherwise cut long-lived streams.
func NewSSETransport(hc *http.Client, logger *zap.Logger) *SSETransport {
	if hc == nil {
		hc = http.DefaultClient
	}
	streaming := *hc
	streaming.Timeout = 0
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SSETransport{httpClient: &streaming, logger: logger}
}

// Stream implements Transport. A clean end of stream returns nil.
func (t *SSETransport) Stream(ctx context.Context, target string, emit func(RawEvent)) error {
	client := sse.NewClient(target)
	client.Connection = t.httpClient
	client.ReconnectStrategy = &backoff.StopBackOff{}
	client.ResponseValidator = validateStream

	t.logger.Debug("opening live stream")

	err := client.SubscribeRawWithContext(ctx, func(msg *sse.Event) {
		emit(RawEvent{Name: string(msg.Event), Data: msg.Data})
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if hrms.IsAuthError(err) || hrms.IsNetworkError(err) {
			return err
		}
		return &hrms.NetworkError{Op: "GET stream", Err: err}
	}
	return nil
}

func validateStream(_ *sse.Client, resp *http.Response) error {
	if resp.StatusCode == http.StatusOK {
		return nil
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	if resp.StatusCode == http.StatusUnauthorized {
		return &hrms.AuthError{Message: fmt.Sprintf("stream rejected: %s", body)}
	}
	return &hrms.NetworkError{
		Op:         "GET stream",
		StatusCode: resp.StatusCode,
		Err:        fmt.Errorf("could not connect to stream: %s", http.StatusText(resp.StatusCode)),
	}
}
