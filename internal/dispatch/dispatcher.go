// Package dispatch implements the fan-out engine: one normalized event in,
// up to N concurrent deliveries out, one record per attempt.
package dispatch

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/user/githubrelay/internal/github"
	"github.com/user/githubrelay/internal/storage"
	"github.com/user/githubrelay/pkg/logger"
)

// SubscriptionSource resolves the candidate destinations for an event. The
// dispatcher applies the per-subscription event-kind filter itself so that a
// kind-disabled destination is counted as skipped in the summary.
type SubscriptionSource interface {
	ActiveSubscriptionsByRepo(owner, name string) ([]storage.Subscription, error)
}

// DeliveryLedger is the dedup guard and attempt log.
type DeliveryLedger interface {
	AlreadyDelivered(payloadHash string, channelID int64) (bool, error)
	Record(rec *storage.DeliveryRecord) error
}

// Renderer turns a normalized event into destination-agnostic text.
type Renderer interface {
	Render(ev *github.NormalizedEvent) (string, error)
}

// Config bounds the fan-out stage.
type Config struct {
	MaxConcurrent  int           // Simultaneous in-flight deliveries
	AttemptTimeout time.Duration // Per-attempt timeout, cancellation is terminal
}

// Summary aggregates the per-destination outcomes of one dispatch.
type Summary struct {
	Delivered int
	Failed    int
	Skipped   int
}

// Dispatcher owns no persistent state; it orchestrates the subscription
// store, the delivery ledger and the sink.
type Dispatcher struct {
	subs     SubscriptionSource
	ledger   DeliveryLedger
	sink     Sink
	renderer Renderer
	cfg      Config
}

// New creates a dispatcher. Zero config fields fall back to safe defaults.
func New(subs SubscriptionSource, ledger DeliveryLedger, sink Sink, renderer Renderer, cfg Config) *Dispatcher {
	if cfg.MaxConcurrent < 1 {
		cfg.MaxConcurrent = 4
	}
	if cfg.AttemptTimeout <= 0 {
		cfg.AttemptTimeout = 10 * time.Second
	}
	return &Dispatcher{
		subs:     subs,
		ledger:   ledger,
		sink:     sink,
		renderer: renderer,
		cfg:      cfg,
	}
}

// Dispatch fans one event out to every matching subscription. Destinations
// fail independently: one channel's error never aborts or delays the others.
// Only a subscription-store lookup failure is returned; per-destination
// outcomes are aggregated into the summary, and ledger failures degrade to
// best-effort delivery rather than aborting.
func (d *Dispatcher) Dispatch(ctx context.Context, ev *github.NormalizedEvent) (Summary, error) {
	if !ev.Renderable() {
		return Summary{Skipped: 1}, nil
	}

	subs, err := d.subs.ActiveSubscriptionsByRepo(ev.RepoOwner, ev.RepoName)
	if err != nil {
		return Summary{}, fmt.Errorf("failed to resolve subscriptions: %w", err)
	}
	if len(subs) == 0 {
		return Summary{Skipped: 1}, nil
	}

	text, err := d.renderer.Render(ev)
	if err != nil {
		return Summary{}, fmt.Errorf("failed to render event: %w", err)
	}

	var (
		mu      sync.Mutex
		summary Summary
		wg      sync.WaitGroup
		sem     = make(chan struct{}, d.cfg.MaxConcurrent)
	)

	for _, sub := range subs {
		wg.Add(1)
		go func(sub storage.Subscription) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			outcome := d.deliver(ctx, ev, sub, text)

			mu.Lock()
			switch outcome {
			case outcomeDelivered:
				summary.Delivered++
			case outcomeFailed:
				summary.Failed++
			default:
				summary.Skipped++
			}
			mu.Unlock()
		}(sub)
	}
	wg.Wait()

	return summary, nil
}

type outcome int

const (
	outcomeDelivered outcome = iota
	outcomeFailed
	outcomeSkipped
)

// deliver runs one destination: kind filter, dedup check, send, optional
// single rate-limit retry, record write.
func (d *Dispatcher) deliver(ctx context.Context, ev *github.NormalizedEvent, sub storage.Subscription, text string) outcome {
	if !sub.KindEnabled(ev.Kind) {
		return outcomeSkipped
	}

	// Re-validated here, after the semaphore, to shrink the window between a
	// concurrent redelivery's record write and this send. Best-effort: a
	// ledger failure degrades to delivery without dedup.
	already, err := d.ledger.AlreadyDelivered(ev.DedupHash, sub.ChannelID)
	if err != nil {
		logger.Warn().Err(err).
			Int64("channel_id", sub.ChannelID).
			Msg("Dedup check failed, delivering anyway")
	} else if already {
		logger.Debug().
			Str("dedup_hash", ev.DedupHash).
			Int64("channel_id", sub.ChannelID).
			Msg("Already delivered, skipping channel")
		return outcomeSkipped
	}

	res := d.sendOnce(ctx, sub.ChannelID, text)
	if res.Status == SinkRateLimited {
		if waitErr := sleepCtx(ctx, res.RetryAfter); waitErr != nil {
			res = SinkResult{Status: SinkTransportError, Err: waitErr}
		} else {
			res = d.sendOnce(ctx, sub.ChannelID, text)
		}
	}

	rec := &storage.DeliveryRecord{
		EventKind:    ev.Kind,
		RepositoryID: sub.RepositoryID,
		ServerID:     sub.ServerID,
		ChannelID:    sub.ChannelID,
		PayloadHash:  ev.DedupHash,
		Success:      res.Status == SinkOK,
	}
	if res.Status != SinkOK {
		detail := res.Status.String()
		if res.Err != nil {
			detail = fmt.Sprintf("%s: %v", detail, res.Err)
		}
		rec.ErrorDetail = sql.NullString{String: detail, Valid: true}
	}
	if recErr := d.ledger.Record(rec); recErr != nil {
		logger.Warn().Err(recErr).
			Int64("channel_id", sub.ChannelID).
			Msg("Failed to write delivery record")
	}

	if res.Status == SinkOK {
		return outcomeDelivered
	}
	logger.Error().
		Err(res.Err).
		Str("status", res.Status.String()).
		Str("repo", ev.RepoFullName()).
		Int64("channel_id", sub.ChannelID).
		Msg("Delivery failed")
	return outcomeFailed
}

// sendOnce invokes the sink under the per-attempt timeout. A timed-out
// attempt is a terminal transport failure.
func (d *Dispatcher) sendOnce(ctx context.Context, channelID int64, text string) SinkResult {
	attemptCtx, cancel := context.WithTimeout(ctx, d.cfg.AttemptTimeout)
	defer cancel()

	resCh := make(chan SinkResult, 1)
	go func() {
		resCh <- d.sink.Send(attemptCtx, channelID, text)
	}()

	select {
	case res := <-resCh:
		return res
	case <-attemptCtx.Done():
		return SinkResult{Status: SinkTransportError, Err: attemptCtx.Err()}
	}
}

func sleepCtx(ctx context.Context, dur time.Duration) error {
	if dur <= 0 {
		return nil
	}
	timer := time.NewTimer(dur)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
