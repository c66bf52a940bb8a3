package client

import (
	"context"
	"fmt"
	"net/url"

	"github.com/canteiro/planner/allocation"
	"github.com/canteiro/planner/api"
	"github.com/canteiro/planner/planner"
)

// Watch subscribes to the change feed. The returned channel is closed when
// ctx is done or the connection drops; callers reconnect and re-fetch.
// An empty workSiteID receives events for every work site.
//
// The channel plugs straight into planner.Planner.Watch.
func (c *Client) Watch(ctx context.Context, workSiteID string) (<-chan allocation.Event, error) {
	u, err := url.Parse(c.baseURL + "/api/allocations/events")
	if err != nil {
		return nil, fmt.Errorf("%w: %w", planner.ErrTransport, err)
	}
	if u.Scheme == "https" {
		u.Scheme = "wss"
	} else {
		u.Scheme = "ws"
	}
	if workSiteID != "" {
		u.RawQuery = url.Values{"work_site_id": {workSiteID}}.Encode()
	}

	conn, _, err := c.dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: feed: %w", planner.ErrTransport, err)
	}

	events := make(chan allocation.Event, 16)
	done := make(chan struct{})

	go func() {
		select {
		case <-ctx.Done():
		case <-done:
		}
		conn.Close()
	}()

	go func() {
		defer close(events)
		defer close(done)
		for {
			var dto api.EventDTO
			if err := conn.ReadJSON(&dto); err != nil {
				if ctx.Err() == nil {
					c.log.Debug().Err(err).Msg("feed closed")
				}
				return
			}
			select {
			case events <- api.FromEventDTO(dto):
			case <-ctx.Done():
				return
			}
		}
	}()

	return events, nil
}
