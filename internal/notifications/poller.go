package notifications

import (
	"context"
	"time"

	"github.com/campuspoints/portal/internal/apiclient"
	"github.com/campuspoints/portal/internal/task"
)

// Source lists the broadcasts of the current user.
type Source interface {
	Broadcasts(ctx context.Context) ([]apiclient.Broadcast, error)
}

// Snapshot is one poll result.
type Snapshot struct {
	Broadcasts []apiclient.Broadcast `json:"broadcasts"`
	Unread     int                   `json:"unread"`
	At         time.Time             `json:"at"`
	Err        error                 `json:"-"`
}

// Poller fetches broadcasts once immediately and then at a fixed interval.
type Poller struct {
	src      Source
	interval time.Duration
}

func NewPoller(src Source, interval time.Duration) *Poller {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Poller{src: src, interval: interval}
}

// Run polls until ctx ends and returns the channel snapshots arrive on. The
// channel is closed once polling has stopped; a poll that finishes after ctx
// ended is dropped, never delivered.
func (p *Poller) Run(ctx context.Context) <-chan Snapshot {
	out := make(chan Snapshot)
	go func() {
		defer close(out)
		p.poll(ctx, out)
		rt := task.Every(ctx, p.interval, func(ctx context.Context) { p.poll(ctx, out) })
		<-ctx.Done()
		rt.Stop()
	}()
	return out
}

func (p *Poller) poll(ctx context.Context, out chan<- Snapshot) {
	list, err := p.src.Broadcasts(ctx)
	if ctx.Err() != nil {
		return
	}
	snap := Snapshot{Broadcasts: list, Unread: Unread(list), At: time.Now().UTC(), Err: err}
	select {
	case out <- snap:
	case <-ctx.Done():
	}
}

// Unread counts the broadcasts not yet marked read.
func Unread(list []apiclient.Broadcast) int {
	n := 0
	for _, b := range list {
		if !b.Read {
			n++
		}
	}
	return n
}
