package core

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"taskscheduler/internal/metrics"
)

const (
	// DefaultPollInterval is how often solar tasks are evaluated.
	DefaultPollInterval = 60 * time.Second
	// DefaultSolarTolerance is how close to its target a solar task must be polled to fire.
	DefaultSolarTolerance = 60 * time.Second
	// DefaultSolarCooldown is the minimum spacing between two firings of one solar task.
	DefaultSolarCooldown = 300 * time.Second
	// DefaultSolarRefreshSpec refreshes sunrise/sunset daily at 00:05.
	DefaultSolarRefreshSpec = "5 0 * * *"
)

// Timing holds the solar poll constants. Changing them changes the dispatch
// guarantees of solar tasks.
type Timing struct {
	PollInterval time.Duration
	Tolerance    time.Duration
	Cooldown     time.Duration
	RefreshSpec  string
}

// DefaultTiming returns the standard poll, tolerance and cool-down values.
func DefaultTiming() Timing {
	return Timing{
		PollInterval: DefaultPollInterval,
		Tolerance:    DefaultSolarTolerance,
		Cooldown:     DefaultSolarCooldown,
		RefreshSpec:  DefaultSolarRefreshSpec,
	}
}

func (t Timing) withDefaults() Timing {
	def := DefaultTiming()
	if t.PollInterval <= 0 {
		t.PollInterval = def.PollInterval
	}
	if t.Tolerance <= 0 {
		t.Tolerance = def.Tolerance
	}
	if t.Cooldown <= 0 {
		t.Cooldown = def.Cooldown
	}
	if t.RefreshSpec == "" {
		t.RefreshSpec = def.RefreshSpec
	}
	return t
}

// registration is the armed timer of one task: a cron entry for interval and
// cron schedules, a one-shot timer for once schedules.
type registration struct {
	entryID cron.EntryID
	timer   *time.Timer
	at      time.Time
	version uint64
}

// Scheduler owns every task timer plus the solar poll and dispatches tasks
// when they become due.
type Scheduler struct {
	state      *State
	dispatcher *Dispatcher
	solar      *SolarContext
	logger     zerolog.Logger
	location   *time.Location
	timing     Timing
	now        func() time.Time

	cron    *cron.Cron
	entryMu sync.Mutex
	entries map[string]registration
	version uint64
	ctx     context.Context // set by Start, guarded by entryMu
}

// NewScheduler constructs a scheduler with the given dependencies.
func NewScheduler(state *State, dispatcher *Dispatcher, solar *SolarContext, logger zerolog.Logger, location *time.Location, timing Timing) *Scheduler {
	if location == nil {
		location = time.Local
	}
	logger = logger.With().Str("component", "scheduler").Logger()
	cl := cronLogger{log: logger}
	c := cron.New(
		cron.WithParser(cronParser),
		cron.WithLocation(location),
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl)),
	)
	return &Scheduler{
		state:      state,
		dispatcher: dispatcher,
		solar:      solar,
		logger:     logger,
		location:   location,
		timing:     timing.withDefaults(),
		now:        time.Now,
		cron:       c,
		entries:    make(map[string]registration),
	}
}

// Start begins the clock loop: registered timers, the solar poll and the
// daily solar refresh. ctx is used for background dispatches; cancelling it
// does not abort calls already in flight.
func (s *Scheduler) Start(ctx context.Context) error {
	s.entryMu.Lock()
	s.ctx = ctx
	s.entryMu.Unlock()
	s.cron.Schedule(cron.Every(s.timing.PollInterval), cron.FuncJob(func() {
		s.PollSolar(s.now())
	}))
	if s.solar != nil {
		refresh, err := cronParser.Parse(s.timing.RefreshSpec)
		if err != nil {
			return fmt.Errorf("solar refresh spec: %w", err)
		}
		s.cron.Schedule(refresh, cron.FuncJob(s.refreshSolar))
		go s.refreshSolar()
	}
	s.cron.Start()
	s.logger.Info().
		Str("tz", s.location.String()).
		Dur("poll", s.timing.PollInterval).
		Dur("tolerance", s.timing.Tolerance).
		Dur("cooldown", s.timing.Cooldown).
		Msg("scheduler started")
	return nil
}

// Stop stops the cron loop and all one-shot timers. The returned context is
// done once running cron jobs have returned.
func (s *Scheduler) Stop() context.Context {
	s.entryMu.Lock()
	for id, reg := range s.entries {
		if reg.timer != nil {
			reg.timer.Stop()
			delete(s.entries, id)
		}
	}
	s.entryMu.Unlock()
	return s.cron.Stop()
}

// Load restores tasks and history from the store and registers every task.
func (s *Scheduler) Load(ctx context.Context, store TaskStore) error {
	snap, err := store.Load(ctx)
	if err != nil {
		return fmt.Errorf("load tasks: %w", err)
	}
	s.state.Restore(snap)
	s.Sync()
	s.logger.Info().Int("tasks", len(snap.Tasks)).Int("history", len(snap.History)).Msg("tasks loaded")
	return nil
}

// Sync registers every stored task, replacing any existing registration.
func (s *Scheduler) Sync() {
	for _, task := range s.state.List() {
		s.Register(task)
	}
}

// Register resolves the task and installs its timer, cancelling any prior
// registration first. Disabled tasks and rejected schedules end up with no
// timer; solar tasks are picked up by the poll. The resolved trigger is
// returned, or nil for a disabled task.
func (s *Scheduler) Register(task *Task) Trigger {
	s.entryMu.Lock()
	defer s.entryMu.Unlock()
	defer func() { metrics.SetRegisteredTimers(len(s.entries)) }()

	s.removeLocked(task.ID)
	if !task.Enabled {
		return nil
	}
	log := s.logger.With().Str("task_id", task.ID).Str("task", task.DisplayName()).Logger()

	trig := Resolve(task)
	switch t := trig.(type) {
	case IntervalTimer:
		id := s.cron.Schedule(t.schedule(), s.job(task.ID))
		s.entries[task.ID] = registration{entryID: id}
		log.Info().Dur("every", t.Every).Msg("scheduled")
	case CronTimer:
		id := s.cron.Schedule(t.Spec, s.job(task.ID))
		s.entries[task.ID] = registration{entryID: id}
		log.Info().Str("spec", t.Expr).Msg("scheduled")
	case OnceTimer:
		if task.LastRun != nil && !task.LastRun.Before(t.At) {
			log.Debug().Time("run_at", t.At).Msg("once task already ran")
			return trig
		}
		s.armOnceLocked(task.ID, t.At)
		log.Info().Time("run_at", t.At).Msg("scheduled")
	case SolarPredicate:
		log.Info().Str("event", string(t.Event)).Dur("offset", t.Offset).Msg("solar task polled")
	case Rejected:
		log.Warn().Str("reason", t.Reason).Msg("schedule rejected; task stays inert")
	}
	return trig
}

func (s *Scheduler) armOnceLocked(taskID string, at time.Time) {
	s.version++
	ver := s.version
	delay := at.Sub(s.now())
	if delay < 0 {
		delay = 0
	}
	timer := time.AfterFunc(delay, func() {
		s.entryMu.Lock()
		reg, ok := s.entries[taskID]
		if !ok || reg.version != ver {
			s.entryMu.Unlock()
			return
		}
		delete(s.entries, taskID)
		metrics.SetRegisteredTimers(len(s.entries))
		s.entryMu.Unlock()
		s.fire(taskID)
	})
	s.entries[taskID] = registration{timer: timer, at: at, version: ver}
}

// removeIfPresent cancels the task's timer and reports whether one existed.
func (s *Scheduler) removeIfPresent(taskID string) bool {
	s.entryMu.Lock()
	defer s.entryMu.Unlock()
	removed := s.removeLocked(taskID)
	metrics.SetRegisteredTimers(len(s.entries))
	return removed
}

func (s *Scheduler) removeLocked(taskID string) bool {
	reg, ok := s.entries[taskID]
	if !ok {
		return false
	}
	if reg.timer != nil {
		reg.timer.Stop()
	} else {
		s.cron.Remove(reg.entryID)
	}
	delete(s.entries, taskID)
	return true
}

// Registered reports whether the task currently holds a timer.
func (s *Scheduler) Registered(taskID string) bool {
	s.entryMu.Lock()
	defer s.entryMu.Unlock()
	_, ok := s.entries[taskID]
	return ok
}

// NextRun returns the next expected fire time of the task, or nil when none
// is known.
func (s *Scheduler) NextRun(task *Task) *time.Time {
	if !task.Enabled {
		return nil
	}
	s.entryMu.Lock()
	reg, ok := s.entries[task.ID]
	s.entryMu.Unlock()
	if ok {
		if reg.timer != nil {
			at := reg.at
			return &at
		}
		if next := s.cron.Entry(reg.entryID).Next; !next.IsZero() {
			return &next
		}
		if trig, ok := Resolve(task).(TimerSpec); ok {
			next := trig.Next(s.now().In(s.location))
			return &next
		}
		return nil
	}
	if pred, ok := Resolve(task).(SolarPredicate); ok && s.solar != nil {
		if snap := s.solar.Snapshot(); snap != nil {
			target := pred.Target(*snap)
			return &target
		}
	}
	return nil
}

func (s *Scheduler) job(taskID string) cron.Job {
	return cron.FuncJob(func() {
		s.fire(taskID)
	})
}

func (s *Scheduler) fire(taskID string) {
	ctx := context.WithoutCancel(s.ctxOrBackground())
	if _, err := s.dispatcher.DispatchScheduled(ctx, taskID); err != nil {
		s.logger.Debug().Err(err).Str("task_id", taskID).Msg("fired task skipped")
	}
}

// refreshSolar logs its own failures; a failed refresh keeps the old snapshot.
func (s *Scheduler) refreshSolar() {
	_, _ = s.solar.Refresh(s.ctxOrBackground())
}

// PollSolar fires every enabled solar task that is due at now and returns
// the ids it fired. Firings run concurrently; PollSolar waits for them.
func (s *Scheduler) PollSolar(now time.Time) []string {
	if s.solar == nil {
		return nil
	}
	snap := s.solar.Snapshot()
	if snap == nil {
		s.logger.Debug().Msg("no solar snapshot yet; skipping poll")
		return nil
	}
	var due []string
	for _, task := range s.state.List() {
		if !task.Enabled {
			continue
		}
		pred, ok := Resolve(task).(SolarPredicate)
		if !ok {
			continue
		}
		if pred.Due(snap, now, task.LastRun, s.timing.Tolerance, s.timing.Cooldown) {
			due = append(due, task.ID)
		}
	}

	var wg sync.WaitGroup
	for _, id := range due {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			s.logger.Info().Str("task_id", id).Time("now", now).Msg("solar task due")
			metrics.IncSolarFire()
			s.fire(id)
		}(id)
	}
	wg.Wait()
	return due
}

// CreateOrUpdate stores the task and re-registers its trigger. A task without
// an id is new: it gets an id and a creation time.
func (s *Scheduler) CreateOrUpdate(ctx context.Context, task *Task) (*Task, error) {
	if task == nil {
		return nil, errors.New("task is required")
	}
	task = task.Clone()
	if task.ID == "" {
		task.ID = NewID()
	}
	if task.CreatedAt.IsZero() {
		task.CreatedAt = s.now()
	}
	if existing, ok := s.state.Get(task.ID); ok {
		task.CreatedAt = existing.CreatedAt
	}
	s.state.Put(task)
	s.Register(task)
	s.dispatcher.Persist(ctx)
	return task.Clone(), nil
}

// Delete cancels the task's timer and removes it. Deleting an unknown task is
// not an error; the return value reports whether it existed.
func (s *Scheduler) Delete(ctx context.Context, taskID string) bool {
	s.removeIfPresent(taskID)
	if !s.state.Remove(taskID) {
		return false
	}
	s.dispatcher.Persist(ctx)
	s.logger.Info().Str("task_id", taskID).Msg("task deleted")
	return true
}

// Toggle flips the enabled flag and re-registers the task.
func (s *Scheduler) Toggle(ctx context.Context, taskID string) (bool, error) {
	task, ok := s.state.Update(taskID, func(t *Task) {
		t.Enabled = !t.Enabled
	})
	if !ok {
		return false, ErrTaskNotFound
	}
	s.Register(task)
	s.dispatcher.Persist(ctx)
	s.logger.Info().Str("task_id", taskID).Bool("enabled", task.Enabled).Msg("task toggled")
	return task.Enabled, nil
}

// RunNow dispatches the task immediately, regardless of its schedule.
func (s *Scheduler) RunNow(ctx context.Context, taskID string) (ExecutionResult, error) {
	return s.dispatcher.Dispatch(ctx, taskID)
}

// ListHistory returns up to limit of the newest history entries, oldest first.
func (s *Scheduler) ListHistory(limit int) []HistoryEntry {
	return s.state.History(limit)
}

// ListTasks returns every task ordered by creation time.
func (s *Scheduler) ListTasks() []*Task {
	return s.state.List()
}

// GetTask returns a copy of a single task.
func (s *Scheduler) GetTask(taskID string) (*Task, error) {
	task, ok := s.state.Get(taskID)
	if !ok {
		return nil, ErrTaskNotFound
	}
	return task, nil
}

// Solar returns the current solar snapshot, or nil.
func (s *Scheduler) Solar() *SolarSnapshot {
	if s.solar == nil {
		return nil
	}
	return s.solar.Snapshot()
}

func (s *Scheduler) ctxOrBackground() context.Context {
	s.entryMu.Lock()
	defer s.entryMu.Unlock()
	if s.ctx != nil {
		return s.ctx
	}
	return context.Background()
}
