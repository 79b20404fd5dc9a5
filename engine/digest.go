package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/restockd/restockd/notify"
)

// runDigest emits a daily summary at the configured hour in the
// configured time zone, then resets the counters. It runs concurrently
// with the poll loop and touches shared state only under the engine
// mutex; it never blocks polling.
func (e *Engine) runDigest(ctx context.Context) {
	for {
		next := nextDigestTime(e.now().In(e.cfg.DigestLocation), e.cfg.DigestHour)
		if err := e.sleep(ctx, next.Sub(e.now())); err != nil {
			return
		}
		e.emitDigest(ctx)
	}
}

// emitDigest sends the summary notification and zeroes the counters.
func (e *Engine) emitDigest(ctx context.Context) {
	e.mu.Lock()
	counters := e.daily
	e.daily = DailyCounters{}
	e.mu.Unlock()

	e.send(ctx, notify.Message{
		Kind: "digest",
		Text: fmt.Sprintf("Daily digest: %d restocks, %d sold-outs, %d errors",
			counters.Restocks, counters.SoldOuts, counters.Errors),
		Rich: map[string]any{
			"restocks":  counters.Restocks,
			"sold_outs": counters.SoldOuts,
			"errors":    counters.Errors,
		},
		At: e.now(),
	})
}

// nextDigestTime returns the next occurrence of hour o'clock strictly
// after now, in now's location.
func nextDigestTime(now time.Time, hour int) time.Time {
	next := time.Date(now.Year(), now.Month(), now.Day(), hour, 0, 0, 0, now.Location())
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}
