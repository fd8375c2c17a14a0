package scheduler

import (
	"sync/atomic"
	"time"
)

// Statistics tracks cycle counters. Workers bump them concurrently, so all
// fields go through sync/atomic; Snapshot gives a consistent-enough read
// for reporting without stopping the pool.
type Statistics struct {
	attempted      atomic.Int64
	succeeded      atomic.Int64
	failed         atomic.Int64
	signals        atomic.Int64
	autoExecutions atomic.Int64
	notifications  atomic.Int64
	cycles         atomic.Int64
	lastCycleUnix  atomic.Int64
	lastCycleMs    atomic.Int64
}

// EngineStatistics is the exported snapshot of the counters.
type EngineStatistics struct {
	Attempted      int64     `json:"evaluations_attempted"`
	Succeeded      int64     `json:"evaluations_succeeded"`
	Failed         int64     `json:"evaluations_failed"`
	Signals        int64     `json:"signals_generated"`
	AutoExecutions int64     `json:"auto_executions"`
	Notifications  int64     `json:"notifications_sent"`
	Cycles         int64     `json:"cycles_completed"`
	LastCycle      time.Time `json:"last_cycle,omitempty"`
	LastCycleTime  int64     `json:"last_cycle_ms"`
}

func (s *Statistics) Snapshot() EngineStatistics {
	out := EngineStatistics{
		Attempted:      s.attempted.Load(),
		Succeeded:      s.succeeded.Load(),
		Failed:         s.failed.Load(),
		Signals:        s.signals.Load(),
		AutoExecutions: s.autoExecutions.Load(),
		Notifications:  s.notifications.Load(),
		Cycles:         s.cycles.Load(),
		LastCycleTime:  s.lastCycleMs.Load(),
	}
	if unix := s.lastCycleUnix.Load(); unix > 0 {
		out.LastCycle = time.Unix(unix, 0)
	}
	return out
}

// Reset zeroes every counter.
func (s *Statistics) Reset() {
	s.attempted.Store(0)
	s.succeeded.Store(0)
	s.failed.Store(0)
	s.signals.Store(0)
	s.autoExecutions.Store(0)
	s.notifications.Store(0)
	s.cycles.Store(0)
	s.lastCycleUnix.Store(0)
	s.lastCycleMs.Store(0)
}

func (s *Statistics) cycleDone(started time.Time) {
	s.cycles.Add(1)
	s.lastCycleUnix.Store(started.Unix())
	s.lastCycleMs.Store(time.Since(started).Milliseconds())
}
