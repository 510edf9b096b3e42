/*
scheduler.go - Automated reserve approval sweep

PURPOSE:
  Periodically approves pending reserves on offers whose application is
  auto-approve and whose reservation window is open. Reserves created
  before the opening day sit in Pending; this sweep promotes them once
  the window opens, emitting the same approval notification the create
  path does.

DESIGN:
  - Runs a background goroutine with a configurable check interval
  - Skips offers without auto-approve or outside their window
  - Each approval goes through the engine's state machine; illegal
    transitions are logged and skipped, never fatal

USAGE:
  sweep := NewApprovalSweep(store, engine, logger)
  sweep.Start()
  // ... later
  sweep.Stop()

SEE ALSO:
  - reserve/engine.go: ApproveReservation
*/
package api

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/warp/allocation-engine/reserve"
	"github.com/warp/allocation-engine/store/sqlite"
)

// ApprovalSweep promotes pending reserves on auto-approve offers.
type ApprovalSweep struct {
	Store         *sqlite.Store
	Engine        *reserve.Engine
	CheckInterval time.Duration
	Enabled       bool
	Log           zerolog.Logger

	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// NewApprovalSweep creates a new sweep.
func NewApprovalSweep(store *sqlite.Store, engine *reserve.Engine, log zerolog.Logger) *ApprovalSweep {
	return &ApprovalSweep{
		Store:         store,
		Engine:        engine,
		CheckInterval: 5 * time.Minute,
		Enabled:       true,
		Log:           log,
		stop:          make(chan struct{}),
	}
}

// Start begins the sweep.
func (as *ApprovalSweep) Start() {
	as.mu.Lock()
	defer as.mu.Unlock()

	if !as.Enabled {
		as.Log.Info().Msg("approval sweep disabled, not starting")
		return
	}

	as.ticker = time.NewTicker(as.CheckInterval)
	as.wg.Add(1)
	go as.run()

	as.Log.Info().Dur("interval", as.CheckInterval).Msg("approval sweep started")
}

// Stop stops the sweep.
func (as *ApprovalSweep) Stop() {
	as.mu.Lock()
	defer as.mu.Unlock()

	if as.ticker != nil {
		as.ticker.Stop()
		close(as.stop)
		as.wg.Wait()
		as.Log.Info().Msg("approval sweep stopped")
	}
}

func (as *ApprovalSweep) run() {
	defer as.wg.Done()

	// Run immediately on start
	as.checkAndApprove()

	for {
		select {
		case <-as.ticker.C:
			as.checkAndApprove()
		case <-as.stop:
			return
		}
	}
}

func (as *ApprovalSweep) checkAndApprove() {
	ctx := context.Background()
	now := time.Now()

	offers, err := as.Store.ListOffers(ctx)
	if err != nil {
		as.Log.Error().Err(err).Msg("approval sweep: listing offers failed")
		return
	}

	approved := 0
	for _, offer := range offers {
		if !offer.Application.AutoApprove || !offer.WindowContains(now) {
			continue
		}

		pending, err := as.Store.ListPendingByOffer(ctx, offer.ID)
		if err != nil {
			as.Log.Error().Err(err).Str("offer_id", string(offer.ID)).Msg("approval sweep: listing pending reserves failed")
			continue
		}

		for _, r := range pending {
			member, err := as.Store.GetMember(ctx, r.MemberID)
			if err != nil || member == nil {
				as.Log.Error().Err(err).
					Str("reserve_id", string(r.ID)).
					Str("member_id", string(r.MemberID)).
					Msg("approval sweep: member lookup failed")
				continue
			}

			if err := as.Engine.ApproveReservation(ctx, r, member, offer); err != nil {
				as.Log.Error().Err(err).Str("reserve_id", string(r.ID)).Msg("approval sweep: approval failed")
				continue
			}
			approved++
		}
	}

	if approved > 0 {
		as.Log.Info().Int("approved", approved).Msg("approval sweep completed")
	}
}

// RunNow triggers an immediate sweep (for testing/admin).
func (as *ApprovalSweep) RunNow() {
	as.checkAndApprove()
}
