package amb

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"omnibridge/observability"
)

// ErrRelayerPaused is returned when a relay pass is attempted while paused.
var ErrRelayerPaused = errors.New("amb: relayer paused")

// Relayer delivers pending bus messages to their destination chains.
type Relayer struct {
	bus     *Bus
	limiter *rate.Limiter
	logger  *slog.Logger
	tracer  trace.Tracer
	metrics *observability.RelayerMetrics
	now     func() time.Time

	mu        sync.Mutex
	paused    bool
	delivered uint64
	failed    uint64
}

// RelayerOption customises the relayer instance.
type RelayerOption func(*Relayer)

// WithRateLimit bounds deliveries per second. A non-positive rate disables
// throttling.
func WithRateLimit(perSecond float64, burst int) RelayerOption {
	return func(r *Relayer) {
		if perSecond <= 0 {
			r.limiter = rate.NewLimiter(rate.Inf, 0)
			return
		}
		if burst <= 0 {
			burst = 1
		}
		r.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) RelayerOption {
	return func(r *Relayer) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithClock sets the function used to measure delivery latency.
func WithClock(clock func() time.Time) RelayerOption {
	return func(r *Relayer) {
		if clock != nil {
			r.now = clock
		}
	}
}

// NewRelayer constructs a relayer for bus.
func NewRelayer(bus *Bus, opts ...RelayerOption) *Relayer {
	r := &Relayer{
		bus:     bus,
		limiter: rate.NewLimiter(rate.Inf, 0),
		logger:  slog.Default(),
		tracer:  otel.Tracer("omnibridge/amb"),
		metrics: observability.Relayer(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Pause stops automatic relaying.
func (r *Relayer) Pause() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.paused = true
}

// Resume re-enables automatic relaying.
func (r *Relayer) Resume() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.paused = false
}

// RelayerStatus summarises relayer state for administrative endpoints.
type RelayerStatus struct {
	Paused    bool   `json:"paused"`
	Pending   int    `json:"pending"`
	Manual    int    `json:"manual"`
	Delivered uint64 `json:"delivered"`
	Failed    uint64 `json:"failed"`
}

// Status reports the current relayer snapshot.
func (r *Relayer) Status() RelayerStatus {
	all := r.bus.Pending(true)
	auto := 0
	for _, msg := range all {
		if !msg.Manual() {
			auto++
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return RelayerStatus{
		Paused:    r.paused,
		Pending:   auto,
		Manual:    len(all) - auto,
		Delivered: r.delivered,
		Failed:    r.failed,
	}
}

func (r *Relayer) isPaused() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.paused
}

// Deliver relays one message regardless of its lane.
func (r *Relayer) Deliver(ctx context.Context, id common.Hash) (*ExecutionResult, error) {
	_, span := r.tracer.Start(ctx, "amb.deliver", trace.WithAttributes(
		attribute.String("message.id", id.Hex()),
	))
	defer span.End()
	start := r.now()
	result, err := r.bus.Deliver(id)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		r.logger.Warn("message delivery rejected", "message_id", id.Hex(), "error", err)
		return result, err
	}
	destination := ""
	if dest, ok := r.bus.Endpoint(result.Message.DestinationChainID); ok {
		destination = dest.Chain().Name()
	}
	span.SetAttributes(
		attribute.Bool("message.status", result.Status),
		attribute.String("message.destination", destination),
	)
	r.metrics.ObserveDelivery(destination, result.Status, r.now().Sub(start))
	r.mu.Lock()
	if result.Status {
		r.delivered++
	} else {
		r.failed++
	}
	r.mu.Unlock()
	if result.Status {
		r.logger.Info("message executed", "message_id", id.Hex(), "destination", destination)
	} else {
		r.logger.Warn("message execution failed", "message_id", id.Hex(), "destination", destination, "error", result.Err)
	}
	return result, nil
}

// RelayPending delivers every automatic-lane message currently queued, within
// the rate limit. It returns the number of messages delivered.
func (r *Relayer) RelayPending(ctx context.Context) (int, error) {
	if r.isPaused() {
		return 0, ErrRelayerPaused
	}
	pending := r.bus.Pending(false)
	r.publishPending()
	count := 0
	for _, msg := range pending {
		if err := ctx.Err(); err != nil {
			return count, err
		}
		if !r.limiter.Allow() {
			r.metrics.RecordThrottle()
			break
		}
		if _, err := r.Deliver(ctx, msg.ID); err != nil {
			if errors.Is(err, ErrAlreadyProcessed) {
				continue
			}
			return count, err
		}
		count++
	}
	r.publishPending()
	return count, nil
}

func (r *Relayer) publishPending() {
	counts := map[uint64][2]int{}
	for _, id := range r.bus.ChainIDs() {
		counts[id] = [2]int{}
	}
	for _, msg := range r.bus.Pending(true) {
		c := counts[msg.DestinationChainID]
		if msg.Manual() {
			c[1]++
		} else {
			c[0]++
		}
		counts[msg.DestinationChainID] = c
	}
	for chainID, c := range counts {
		name := ""
		if dest, ok := r.bus.Endpoint(chainID); ok {
			name = dest.Chain().Name()
		}
		r.metrics.SetPending(name, "auto", c[0])
		r.metrics.SetPending(name, "manual", c[1])
	}
}

// Run relays pending messages whenever new ones arrive and at every interval
// until ctx is cancelled.
func (r *Relayer) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		case <-r.bus.Notify():
		}
		if _, err := r.RelayPending(ctx); err != nil && !errors.Is(err, ErrRelayerPaused) {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			r.logger.Error("relay pass failed", "error", err)
		}
	}
}
