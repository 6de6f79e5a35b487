package negotiate

import (
	"context"
	"fmt"
	"time"

	"github.com/Soika-Labs/gann-sdk-go/internal/signaling"
	"github.com/Soika-Labs/gann-sdk-go/internal/transport"
)

// bindRelayWithRetry calls RelayBind and, if the peer has not yet bound,
// polls every 100ms until it returns true or deadline elapses. peerReady
// being false when the deadline elapses is not itself an error — it is
// reported to the caller via the returned bool.
func bindRelayWithRetry(ctx context.Context, rt transport.RelayTransport, token signaling.Token, sessionID signaling.SessionID, deadline time.Duration) (bool, error) {
	ready, err := rt.RelayBind(ctx, token, sessionID)
	if err != nil {
		return false, fmt.Errorf("negotiate: relay bind: %w", err)
	}
	if ready {
		return true, nil
	}

	timer := time.NewTimer(deadline)
	defer timer.Stop()
	ticker := time.NewTicker(relayBindPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-timer.C:
			return false, nil
		case <-ticker.C:
			ready, err := rt.RelayBind(ctx, token, sessionID)
			if err != nil {
				return false, fmt.Errorf("negotiate: relay bind retry: %w", err)
			}
			if ready {
				return true, nil
			}
		case <-ctx.Done():
			return false, ctx.Err()
		}
	}
}
