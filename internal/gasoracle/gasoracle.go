// Package gasoracle implements currentGwei(): it tries an RPC ladder with a
// hard per-attempt timeout, validates against a plausibility band, and
// falls back to a freshness-bounded cache and then a conservative default.
// Each ladder step is a distinct *ethclient.Client, and
// golang.org/x/time/rate paces retries across the ladder.
package gasoracle

import (
	"context"
	"math/big"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// GasPriceSuggester is the slice of *ethclient.Client's API the ladder needs;
// declared as an interface so tests can substitute a fake RPC without a live
// endpoint.
type GasPriceSuggester interface {
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
}

const (
	minPlausibleGwei = 0.05
	maxPlausibleGwei = 50
	staleBudget      = 30 * time.Second
	// conservativeDefault is returned when every RPC in the ladder fails and
	// the cache has also gone stale; chosen high enough that a mint built on
	// it overpays rather than underpays and stalls.
	conservativeDefault = 5.0
)

// RPCStep is one fallback attempt: a client plus the hard wall-clock timeout
// to spend on it before moving to the next step.
type RPCStep struct {
	Client  GasPriceSuggester
	Timeout time.Duration
}

// Oracle implements currentGwei() across a ladder of RPC endpoints.
type Oracle struct {
	steps []RPCStep
	limit *rate.Limiter
	log   zerolog.Logger

	cached    float64
	cachedAt  time.Time
}

// New builds an Oracle over the given RPC ladder, tried in order.
func New(steps []RPCStep, log zerolog.Logger) *Oracle {
	return &Oracle{
		steps: steps,
		limit: rate.NewLimiter(rate.Every(200*time.Millisecond), 1),
		log:   log.With().Str("component", "gasoracle").Logger(),
	}
}

// CurrentGwei returns the current base gas price in Gwei via the fallback
// ladder: try each RPC in order (each bounded by its own timeout), validate
// against the plausibility band, fall back to a cached value within the
// freshness budget, and finally the conservative default.
func (o *Oracle) CurrentGwei(ctx context.Context) float64 {
	for _, step := range o.steps {
		if err := o.limit.Wait(ctx); err != nil {
			break
		}
		gwei, ok := o.tryStep(ctx, step)
		if ok {
			o.cached = gwei
			o.cachedAt = time.Now()
			return gwei
		}
	}

	if o.cached > 0 && time.Since(o.cachedAt) <= staleBudget {
		o.log.Warn().Float64("cachedGwei", o.cached).Msg("gas oracle RPC ladder exhausted, using cached value")
		return o.cached
	}

	o.log.Warn().Float64("default", conservativeDefault).Msg("gas oracle RPC ladder exhausted and cache stale, using conservative default")
	return conservativeDefault
}

func (o *Oracle) tryStep(parent context.Context, step RPCStep) (float64, bool) {
	ctx, cancel := context.WithTimeout(parent, step.Timeout)
	defer cancel()

	price, err := step.Client.SuggestGasPrice(ctx)
	if err != nil {
		return 0, false
	}

	gwei := weiToGwei(price.Int64())
	if gwei < minPlausibleGwei || gwei > maxPlausibleGwei {
		o.log.Warn().Float64("gwei", gwei).Msg("gas price outside plausibility band, skipping")
		return 0, false
	}
	return gwei, true
}

func weiToGwei(wei int64) float64 {
	return float64(wei) / 1e9
}
