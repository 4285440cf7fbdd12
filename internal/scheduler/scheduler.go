package scheduler

import (
	"context"
	"database/sql"
	"log"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/johnnysoutodev/desafio-capsula-do-tempo-com-ia/internal/config"
	"github.com/johnnysoutodev/desafio-capsula-do-tempo-com-ia/internal/db"
	"github.com/johnnysoutodev/desafio-capsula-do-tempo-com-ia/internal/errors"
)

// RunState is a point-in-time snapshot of scheduler activity. It is
// process-local and rebuilt fresh on restart: a cache of recent activity,
// not authoritative data.
type RunState struct {
	Running         bool       `json:"running"`
	Scheduled       bool       `json:"scheduled"`
	Schedule        string     `json:"schedule"`
	Timezone        string     `json:"timezone"`
	CycleStartedAt  *time.Time `json:"cycle_started_at,omitempty"`
	CycleProcessed  int        `json:"cycle_processed"`
	CycleErrored    int        `json:"cycle_errored"`
	TotalCycles     int        `json:"total_cycles"`
	TotalProcessed  int        `json:"total_processed"`
	TotalErrored    int        `json:"total_errored"`
	TotalSkipped    int        `json:"total_skipped"`
	TotalFetchFails int        `json:"total_fetch_fails"`
	LastRunAt       *time.Time `json:"last_run_at,omitempty"`
	NextRunAt       *time.Time `json:"next_run_at,omitempty"`
}

// CycleResult summarizes one due-check-and-deliver run.
type CycleResult struct {
	Skipped   bool      `json:"skipped"`
	Success   bool      `json:"success"`
	Processed int       `json:"processed"`
	Errored   int       `json:"errored"`
	Outcomes  []Outcome `json:"outcomes,omitempty"`
	Error     string    `json:"error,omitempty"`
}

// Scheduler owns the recurring delivery loop. One instance holds all
// mutable run state; control-surface handlers receive it by injection
// rather than touching package globals.
type Scheduler struct {
	db      *sql.DB
	batcher *Batcher
	cfg     *config.Config
	loc     *time.Location

	mu      sync.Mutex
	cond    *sync.Cond // signaled when a cycle finishes
	running bool

	cycleStartedAt time.Time
	cycleProcessed int
	cycleErrored   int

	totalCycles     int
	totalProcessed  int
	totalErrored    int
	totalSkipped    int
	totalFetchFails int
	lastRunAt       time.Time

	cron    *cron.Cron
	entryID cron.EntryID
	kickoff *time.Timer
}

// New creates a scheduler over the given store and delivery channel.
func New(database *sql.DB, channel Deliverer, cfg *config.Config) (*Scheduler, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, errors.NewConfig("invalid timezone " + cfg.Timezone + ": " + err.Error())
	}

	s := &Scheduler{
		db:      database,
		batcher: NewBatcher(channel, NewSQLStore(database), cfg.MaxConcurrent, cfg.ChunkDelay()),
		cfg:     cfg,
		loc:     loc,
	}
	s.cond = sync.NewCond(&s.mu)
	return s, nil
}

// Start validates the schedule expression, registers the recurring trigger,
// and after a short delay fires one catch-up cycle so capsules that became
// due while the process was down are not stuck until the next tick.
// Returns false if the scheduler is already started.
func (s *Scheduler) Start() (bool, error) {
	if _, err := cron.ParseStandard(s.cfg.Schedule); err != nil {
		return false, errors.NewConfig("invalid schedule " + s.cfg.Schedule + ": " + err.Error())
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cron != nil {
		return false, nil
	}

	c := cron.New(cron.WithLocation(s.loc))
	entryID, err := c.AddFunc(s.cfg.Schedule, func() {
		s.RunCycle(context.Background())
	})
	if err != nil {
		return false, errors.NewConfig("invalid schedule " + s.cfg.Schedule + ": " + err.Error())
	}
	c.Start()
	s.cron = c
	s.entryID = entryID

	s.kickoff = time.AfterFunc(s.cfg.StartupDelay(), func() {
		s.RunCycle(context.Background())
	})

	log.Printf("scheduler started: schedule %q, timezone %s", s.cfg.Schedule, s.cfg.Timezone)
	return true, nil
}

// Stop deregisters the trigger and waits for any in-flight cycle to drain.
// It never interrupts a running cycle; the wait resolves the instant the
// cycle finishes, or fails when ctx expires first. Returns false if the
// scheduler was not started.
func (s *Scheduler) Stop(ctx context.Context) (bool, error) {
	s.mu.Lock()
	if s.cron == nil {
		s.mu.Unlock()
		return false, nil
	}
	c := s.cron
	s.cron = nil
	if s.kickoff != nil {
		s.kickoff.Stop()
		s.kickoff = nil
	}
	s.mu.Unlock()

	c.Stop()
	if err := s.waitIdle(ctx); err != nil {
		return false, err
	}

	log.Printf("scheduler stopped")
	return true, nil
}

// waitIdle blocks until no cycle is running, or ctx expires.
func (s *Scheduler) waitIdle(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.mu.Lock()
		for s.running {
			s.cond.Wait()
		}
		s.mu.Unlock()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RunCycle executes one due-check-and-deliver cycle. Cycles are
// single-flight: if one is already running this fires a logged skip
// instead of queueing. Both the recurring trigger and manual runs land
// here.
func (s *Scheduler) RunCycle(ctx context.Context) (res CycleResult) {
	if !s.tryBegin() {
		log.Printf("cycle already running, skipping trigger")
		return CycleResult{Skipped: true}
	}
	// Back to idle no matter what the cycle did.
	defer func() { s.finish(&res) }()

	now := time.Now().In(s.loc)

	due, err := db.FetchDue(s.db, now.Unix())
	if err != nil {
		// Store unreachable: abort the cycle; the next tick retries.
		res.Error = err.Error()
		log.Printf("cycle aborted, fetch due failed: %v", err)
		return res
	}

	if len(due) == 0 {
		log.Printf("cycle complete: no capsules due")
		res.Success = true
		return res
	}

	log.Printf("cycle delivering %d due capsule(s)", len(due))
	res.Outcomes = s.batcher.Process(ctx, due)

	for _, out := range res.Outcomes {
		if out.Success {
			res.Processed++
		} else {
			res.Errored++
		}
	}
	res.Success = true

	log.Printf("cycle complete: %d delivered, %d errored", res.Processed, res.Errored)
	return res
}

// tryBegin claims the single-flight guard and resets per-cycle counters.
func (s *Scheduler) tryBegin() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		s.totalSkipped++
		return false
	}

	s.running = true
	s.cycleStartedAt = time.Now().In(s.loc)
	s.cycleProcessed = 0
	s.cycleErrored = 0
	return true
}

// finish records the cycle result, releases the single-flight guard, and
// wakes anyone waiting for drain.
func (s *Scheduler) finish(res *CycleResult) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cycleProcessed = res.Processed
	s.cycleErrored = res.Errored

	s.totalCycles++
	s.totalProcessed += res.Processed
	s.totalErrored += res.Errored
	if !res.Success && res.Error != "" {
		s.totalFetchFails++
	}
	s.lastRunAt = time.Now().In(s.loc)

	s.running = false
	s.cond.Broadcast()
}

// Status returns a snapshot of the run state.
func (s *Scheduler) Status() RunState {
	s.mu.Lock()
	defer s.mu.Unlock()

	state := RunState{
		Running:         s.running,
		Scheduled:       s.cron != nil,
		Schedule:        s.cfg.Schedule,
		Timezone:        s.cfg.Timezone,
		CycleProcessed:  s.cycleProcessed,
		CycleErrored:    s.cycleErrored,
		TotalCycles:     s.totalCycles,
		TotalProcessed:  s.totalProcessed,
		TotalErrored:    s.totalErrored,
		TotalSkipped:    s.totalSkipped,
		TotalFetchFails: s.totalFetchFails,
	}

	if s.running {
		started := s.cycleStartedAt
		state.CycleStartedAt = &started
	}
	if !s.lastRunAt.IsZero() {
		last := s.lastRunAt
		state.LastRunAt = &last
	}
	if s.cron != nil {
		next := s.cron.Entry(s.entryID).Next
		if !next.IsZero() {
			state.NextRunAt = &next
		}
	}

	return state
}

// ResetStats zeroes the cumulative counters. The single-flight guard and
// trigger registration are untouched.
func (s *Scheduler) ResetStats() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cycleProcessed = 0
	s.cycleErrored = 0
	s.totalCycles = 0
	s.totalProcessed = 0
	s.totalErrored = 0
	s.totalSkipped = 0
	s.totalFetchFails = 0
	s.lastRunAt = time.Time{}
}
