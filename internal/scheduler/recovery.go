package scheduler

import (
	"context"
	"time"

	"github.com/blackholelabs/lpstrategy/internal/forceexit"
	"github.com/blackholelabs/lpstrategy/internal/pnltracker"
	"github.com/blackholelabs/lpstrategy/internal/strategy"
)

// staleRecoveryWindow bounds how old a persisted snapshot may be and still
// count as recoverable rather than a stale dev leftover.
const staleRecoveryWindow = 24 * time.Hour

// RecoverAll enumerates every persisted instance, loads it into memory, and
// resumes every instance the Store classifies as recoverable at the
// pipeline stage its on-chain position implies. Call this once at process
// startup, before serving any requests.
func (s *Scheduler) RecoverAll(ctx context.Context) error {
	states, err := s.deps.Store.LoadAll()
	if err != nil {
		return err
	}

	for _, state := range states {
		s.mu.Lock()
		s.instances[state.ID] = &entry{state: state}
		s.mu.Unlock()

		if !recoverable(state) {
			continue
		}
		if err := s.recoverOne(ctx, state); err != nil {
			s.deps.Log.Warn().Err(err).Str("instance", state.ID.String()).Msg("recovery failed")
		}
	}
	return nil
}

// recoverable reports whether state's last known status and snapshot age
// qualify it for startup recovery.
func recoverable(state *strategy.InstanceState) bool {
	switch state.Status {
	case strategy.StatusPreparing, strategy.StatusRunning, strategy.StatusMonitoring:
	default:
		return false
	}
	return time.Since(state.LastPersisted) <= staleRecoveryWindow
}

// recoverOne re-reads the on-chain truth for one recoverable instance and
// resumes it at Monitoring (liquidity still present), Exit (tokenId minted
// but liquidity already zero — only the burn remains), or Prepare (no
// tokenId recovered at all), incrementing RecoveryAttempts and parking the
// instance in Error once that counter exceeds RecoveryBudget.
func (s *Scheduler) recoverOne(ctx context.Context, state *strategy.InstanceState) error {
	state.RecoveryAttempts++
	if state.RecoveryAttempts > s.deps.RecoveryBudget {
		state.Status = strategy.StatusError
		state.LastError = "recovery-budget-exhausted"
		_ = s.deps.Store.Persist(state)
		s.broadcastListUpdate(state)
		return strategy.NewError(strategy.KindRecoveryBudgetExhausted, nil, map[string]any{"id": state.ID})
	}

	deps, err := s.deps.NewDeps(state.Config)
	if err != nil {
		return err
	}

	s.mu.RLock()
	e := s.instances[state.ID]
	s.mu.RUnlock()
	e.mu.Lock()
	defer e.mu.Unlock()

	if state.Position == nil || state.Position.TokenID == nil {
		// A crash between mint submit and receipt leaves no tokenId recorded.
		// Before giving up and re-preparing, check whether the wallet already
		// holds a matching NFT (the mint may well have succeeded; only the
		// receipt-handling crashed).
		if state.Position != nil {
			if adopted := s.findMatchingPosition(ctx, deps, state); adopted {
				state.Status = strategy.StatusMonitoring
				state.Stage = strategy.StageMonitor
				return s.launchAndPersist(e)
			}
		}
		state.Status = strategy.StatusPreparing
		state.Stage = strategy.StagePrepare
		state.Position = nil
		return s.launchAndPersist(e)
	}

	onchain, err := deps.Chain.PositionOf(ctx, state.Position.TokenID)
	if err != nil {
		return err
	}

	if onchain.Liquidity != nil && onchain.Liquidity.Sign() > 0 {
		state.Position.Liquidity = onchain.Liquidity
		state.Status = strategy.StatusMonitoring
		state.Stage = strategy.StageMonitor
		return s.launchAndPersist(e)
	}

	// tokenId exists but liquidity is already zero: only the burn remains,
	// run it synchronously rather than starting the full pipeline.
	state.Position.Liquidity = onchain.Liquidity
	mgr := forceexit.New(deps.Chain, deps.Router)
	result, err := mgr.ExecuteForceExit(ctx, state, time.Now().Add(2*time.Minute))
	state.ExitReason = "recovery-exit"
	if err != nil {
		state.Status = strategy.StatusError
		state.LastError = err.Error()
		_ = s.deps.Store.Persist(state)
		s.broadcastListUpdate(state)
		return err
	}

	baseReceived := convertToBase(state, result.Amount0Out, result.Amount1Out)
	s.deps.Bus.Publish("position.closed", pnltracker.PositionClosed{
		InstanceID:   state.ID,
		BaseReceived: baseReceived,
		GasCostBase:  gasCostInBase(state),
	})
	state.Status = strategy.StatusExited
	state.Position = nil
	_ = s.deps.Store.Persist(state)
	s.broadcastListUpdate(state)
	return nil
}

// findMatchingPosition scans the wallet's currently-held position NFTs for
// one whose (token0, token1, fee, tickLower, tickUpper) match the range
// computed by the instance's last completed Prepare stage, adopting it into
// state.Position if found, via the position manager's ERC721Enumerable
// balanceOf/tokenOfOwnerByIndex.
func (s *Scheduler) findMatchingPosition(ctx context.Context, deps InstanceDeps, state *strategy.InstanceState) bool {
	count, err := deps.Chain.NFTBalance(ctx)
	if err != nil || count == nil {
		return false
	}

	cfg := state.Config
	for i := uint64(0); i < count.Uint64(); i++ {
		tokenID, err := deps.Chain.TokenOfOwnerByIndex(ctx, i)
		if err != nil {
			continue
		}
		pos, err := deps.Chain.PositionOf(ctx, tokenID)
		if err != nil {
			continue
		}
		if pos.Token0 == cfg.Pool.Token0 && pos.Token1 == cfg.Pool.Token1 && pos.Fee == uint32(cfg.Pool.Fee) &&
			pos.TickLower == state.Position.TickLower && pos.TickUpper == state.Position.TickUpper {
			state.Position.TokenID = tokenID
			state.Position.Liquidity = pos.Liquidity
			return true
		}
	}
	return false
}

// launchAndPersist runs launch and then persists+broadcasts the resumed
// state, the shared tail of every recoverOne branch that resumes rather
// than exits.
func (s *Scheduler) launchAndPersist(e *entry) error {
	if err := s.launch(e); err != nil {
		return err
	}
	if err := s.deps.Store.Persist(e.state); err != nil {
		return err
	}
	s.broadcastListUpdate(e.state)
	return nil
}
