package client

import (
	"context"
	"sync"
	"time"

	"github.com/mmynk/splitledger/internal/task"
)

// UnreadPoller polls a user's unread count and reports changes.
type UnreadPoller struct {
	client   *Client
	userID   string
	onChange func(count int)

	mu   sync.Mutex
	last int
	seen bool

	task *task.Task
}

// PollUnread starts polling userID's unread count every interval. onChange
// runs on the first successful poll and whenever the count changes after.
// Call Stop to end polling.
func (c *Client) PollUnread(userID string, interval time.Duration, onChange func(count int)) *UnreadPoller {
	p := &UnreadPoller{client: c, userID: userID, onChange: onChange}
	p.task = task.Every("poll unread "+userID, interval, p.poll)
	return p
}

func (p *UnreadPoller) poll(ctx context.Context) error {
	n, err := p.client.UnreadCount(ctx, p.userID)
	if err != nil {
		return err
	}

	p.mu.Lock()
	changed := !p.seen || n != p.last
	p.last, p.seen = n, true
	p.mu.Unlock()

	if changed {
		p.onChange(n)
	}
	return nil
}

// Last returns the most recent count and whether any poll succeeded yet.
func (p *UnreadPoller) Last() (int, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.last, p.seen
}

// Stop ends polling and waits for an in-flight poll to return.
func (p *UnreadPoller) Stop() {
	p.task.Stop()
}
