package gasoracle

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

type fakeSuggester struct {
	price *big.Int
	err   error
}

func (f *fakeSuggester) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	return f.price, f.err
}

func gwei(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), big.NewInt(1e9))
}

func TestCurrentGwei_FirstStepSucceeds(t *testing.T) {
	o := New([]RPCStep{
		{Client: &fakeSuggester{price: gwei(3)}, Timeout: time.Second},
	}, zerolog.Nop())
	assert.Equal(t, 3.0, o.CurrentGwei(context.Background()))
}

func TestCurrentGwei_FallsThroughLadder(t *testing.T) {
	o := New([]RPCStep{
		{Client: &fakeSuggester{err: errors.New("timeout")}, Timeout: time.Millisecond},
		{Client: &fakeSuggester{err: errors.New("timeout")}, Timeout: time.Millisecond},
		{Client: &fakeSuggester{price: gwei(1)}, Timeout: time.Second},
	}, zerolog.Nop())
	assert.Equal(t, big.NewInt(1_000_000_000), gwei(1)) // sanity on test helper itself
	assert.Equal(t, 1.0, o.CurrentGwei(context.Background()))
}

func TestCurrentGwei_RejectsImplausibleValue(t *testing.T) {
	o := New([]RPCStep{
		{Client: &fakeSuggester{price: gwei(1000)}, Timeout: time.Second},
	}, zerolog.Nop())
	assert.Equal(t, conservativeDefault, o.CurrentGwei(context.Background()))
}

func TestCurrentGwei_UsesCacheWhenLadderFails(t *testing.T) {
	o := New([]RPCStep{
		{Client: &fakeSuggester{price: gwei(2)}, Timeout: time.Second},
	}, zerolog.Nop())
	assert.Equal(t, 2.0, o.CurrentGwei(context.Background()))

	o.steps = []RPCStep{{Client: &fakeSuggester{err: errors.New("down")}, Timeout: time.Millisecond}}
	assert.Equal(t, 2.0, o.CurrentGwei(context.Background()))
}

func TestCurrentGwei_StaleCacheFallsBackToDefault(t *testing.T) {
	o := New(nil, zerolog.Nop())
	o.cached = 4.0
	o.cachedAt = time.Now().Add(-time.Hour)
	assert.Equal(t, conservativeDefault, o.CurrentGwei(context.Background()))
}
