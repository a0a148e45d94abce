package clock

import (
	"context"
	"fmt"
	"time"

	"github.com/beevik/ntp"
)

// NTPSync queries an NTP server and corrects a System clock
type NTPSync struct {
	Server  string
	Timeout time.Duration
	Clock   *System
}

// Sync performs one query. The beevik/ntp client has no context support, so
// ctx is only checked before the query starts.
func (n *NTPSync) Sync(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	timeout := n.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	resp, err := ntp.QueryWithOptions(n.Server, ntp.QueryOptions{Timeout: timeout})
	if err != nil {
		return fmt.Errorf("failed to query %s: %w", n.Server, err)
	}
	if err := resp.Validate(); err != nil {
		return fmt.Errorf("invalid response from %s: %w", n.Server, err)
	}
	n.Clock.SetOffset(resp.ClockOffset)
	return nil
}
