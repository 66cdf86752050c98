package backchannel

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/oidckit/serversession/rp"
)

// Request carries one logout notification to one relying party.
type Request struct {
	Client      rp.Client
	SubjectID   string
	SessionID   string
	LogoutToken string
}

// Notifier delivers logout notifications. Implementations report a
// per-client delivery outcome; the orchestrator logs failures and keeps
// notifying the remaining clients.
type Notifier interface {
	SendLogoutNotification(ctx context.Context, req Request) error
}

// HTTPNotifier posts logout tokens form-encoded to each client's
// registered backchannel logout endpoint, per the OIDC backchannel
// logout profile.
type HTTPNotifier struct {
	client *http.Client
	logger *zap.Logger
}

// NewHTTPNotifier builds a notifier. A nil http.Client gets a dedicated
// client with a delivery timeout; a nil logger falls back to no-op.
func NewHTTPNotifier(client *http.Client, logger *zap.Logger) *HTTPNotifier {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTPNotifier{client: client, logger: logger}
}

// SendLogoutNotification implements Notifier.
func (n *HTTPNotifier) SendLogoutNotification(ctx context.Context, req Request) error {
	if !req.Client.SupportsBackchannelLogout() {
		return nil
	}

	form := url.Values{"logout_token": {req.LogoutToken}}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		req.Client.BackChannelLogoutURI, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("build logout request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	n.logger.Debug("sending backchannel logout",
		zap.String("client_id", req.Client.ID),
		zap.String("session_id", req.SessionID))

	resp, err := n.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("deliver logout notification to %s: %w", req.Client.ID, err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("logout notification to %s rejected: status %d", req.Client.ID, resp.StatusCode)
	}
	return nil
}
