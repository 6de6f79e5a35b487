package negotiate

import "fmt"

// NegotiationTimeout is returned when a bounded wait in the initiator,
// responder, or acceptance dispatcher elapses before resolving.
type NegotiationTimeout struct {
	Label string
}

func (e *NegotiationTimeout) Error() string {
	return fmt.Sprintf("negotiate: Timed out waiting for %s", e.Label)
}
