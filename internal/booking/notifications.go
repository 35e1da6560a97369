package booking

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/example/resydrop/internal/notify"
)

const (
	notifyQueue   = 16
	notifyTimeout = 10 * time.Second
)

// notifications delivers one session's messages in order on a background
// goroutine. Neither send nor close waits for the notifier.
// A nil *notifications drops everything.
type notifications struct {
	n   notify.Notifier
	log zerolog.Logger
	ctx context.Context
	ch  chan string
}

func startNotifications(ctx context.Context, n notify.Notifier, log zerolog.Logger, pending *sync.WaitGroup) *notifications {
	if n == nil {
		return nil
	}
	q := &notifications{
		n:   n,
		log: log,
		ctx: context.WithoutCancel(ctx),
		ch:  make(chan string, notifyQueue),
	}
	pending.Add(1)
	go func() {
		defer pending.Done()
		q.run()
	}()
	return q
}

func (q *notifications) run() {
	for msg := range q.ch {
		q.deliver(msg)
	}
}

func (q *notifications) deliver(msg string) {
	defer func() {
		if r := recover(); r != nil {
			q.log.Error().Interface("panic", r).Msg("notifier panicked")
		}
	}()
	ctx, cancel := context.WithTimeout(q.ctx, notifyTimeout)
	defer cancel()
	if err := q.n.Notify(ctx, msg); err != nil {
		q.log.Warn().Err(err).Msg("notification failed")
	}
}

func (q *notifications) send(msg string) {
	if q == nil {
		return
	}
	select {
	case q.ch <- msg:
	default:
		q.log.Warn().Str("message", msg).Msg("notification queue full, dropping message")
	}
}

// close stops accepting messages. Queued messages are still delivered in the
// background.
func (q *notifications) close() {
	if q == nil {
		return
	}
	close(q.ch)
}
