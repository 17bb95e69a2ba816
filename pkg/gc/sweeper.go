package gc

import (
	"sync"
	"time"

	"github.com/fluidmesh/chancol/pkg/log"
	"github.com/rs/zerolog"
)

// Sweeper runs UpdateStateBeforeGC followed by GetGCData on a fixed
// interval, adapted from the teacher's reconciliation ticker loop. It
// does not delete anything itself.
type Sweeper struct {
	gc       *Interface
	sink     func() GCSink
	interval time.Duration
	logger   zerolog.Logger
	mu       sync.Mutex
	stopCh   chan struct{}
}

// GCSink is the subset of types.GCSink the sweeper needs to report
// liveness during a cycle.
type GCSink interface {
	AddedOutboundReference(fromHandle, toHandle string)
}

// NewSweeper constructs a Sweeper. sink is resolved lazily so the
// caller can wire it after construction order requirements are met.
func NewSweeper(gcIface *Interface, sink func() GCSink, interval time.Duration) *Sweeper {
	return &Sweeper{
		gc:       gcIface,
		sink:     sink,
		interval: interval,
		logger:   log.WithComponent("gc-sweeper"),
		stopCh:   make(chan struct{}),
	}
}

// Start begins the sweep loop in a background goroutine.
func (s *Sweeper) Start() {
	go s.run()
}

// Stop halts the sweep loop.
func (s *Sweeper) Stop() {
	close(s.stopCh)
}

func (s *Sweeper) run() {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info().Msg("gc sweeper started")

	for {
		select {
		case <-ticker.C:
			if err := s.cycle(); err != nil {
				s.logger.Error().Err(err).Msg("gc cycle failed")
			}
		case <-s.stopCh:
			s.logger.Info().Msg("gc sweeper stopped")
			return
		}
	}
}

// cycle runs one full collect/mark cycle. Sweep itself (delete_sweep_ready)
// is driven by the parent runtime's own GC algorithm once it computes
// sweep-ready routes from the graph this returns, so cycle only
// refreshes the graph and the before-GC bookkeeping; it does not delete.
func (s *Sweeper) cycle() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.sink != nil {
		if sink := s.sink(); sink != nil {
			s.gc.UpdateStateBeforeGC(gcSinkAdapter{sink})
		}
	}

	if _, err := s.gc.GetGCData(false); err != nil {
		return err
	}
	return nil
}

type gcSinkAdapter struct{ GCSink }

func (a gcSinkAdapter) NodeUpdated(string, string, time.Time) {}
