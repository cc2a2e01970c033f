package daemon

import (
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/fridgecal/fridgecal/pkg/types"
)

const (
	defaultLeadDuration = time.Minute * 5 // announce an upcoming session this long before it starts
	preCheckMaxTimes    = 30
	preCheckInterval    = time.Second * 10
	idleWait            = time.Hour * 10000
)

type NotifyFunc func(data any)

// TaskFunc represents a runnable task.
type TaskFunc func() error

// Scheduler runs Task at the times of a cron expression. OnUpcoming fires
// LeadDuration before each run. When PreCheck fails the run is retried every
// preCheckInterval, up to preCheckMaxTimes, and then skipped.
type Scheduler struct {
	OnUpcoming   NotifyFunc // called before running the task
	OnError      NotifyFunc // called on task error
	Task         TaskFunc   // task callback
	PreCheck     TaskFunc   // health / condition check callback
	LeadDuration time.Duration

	parser cron.Parser

	expr     string
	schedule cron.Schedule
	nextRun  time.Time

	mu      sync.Mutex
	running bool

	controlCh chan controlMsg
	stopCh    chan struct{}
}

// internal control kinds (not user visible events)
type controlKind int

const (
	ctrlRecalculate controlKind = iota // timer needs recalculation due to schedule change
	ctrlSkip                           // next run skipped
	ctrlDisable                        // schedule removed
)

func (k controlKind) String() string {
	switch k {
	case ctrlRecalculate:
		return "recalculate"
	case ctrlSkip:
		return "skip"
	case ctrlDisable:
		return "disable"
	default:
		return fmt.Sprintf("controlKind(%d)", int(k))
	}
}

type controlMsg struct {
	kind controlKind
	data any
}

func NewScheduler(task, preCheck TaskFunc, onUpcoming, onError NotifyFunc) *Scheduler {
	if task == nil {
		panic("task function cannot be nil")
	}

	s := &Scheduler{
		OnUpcoming:   onUpcoming,
		OnError:      onError,
		Task:         task,
		PreCheck:     preCheck,
		LeadDuration: defaultLeadDuration,
		parser:       cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
		controlCh:    make(chan controlMsg, 4),
		stopCh:       make(chan struct{}),
	}
	return s
}

func (s *Scheduler) Stop() {
	select {
	case <-s.stopCh: // already closed
	default:
		close(s.stopCh)
	}
}

func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.running = true
	go s.runScheduled()
}

// Validate parses cronExpr without changing the schedule.
func (s *Scheduler) Validate(cronExpr string) error {
	if cronExpr == "" {
		return nil
	}
	_, err := s.parser.Parse(cronExpr)
	return err
}

// Schedule replaces the schedule. An empty expression disables it.
func (s *Scheduler) Schedule(cronExpr string) error {
	if cronExpr == "" {
		s.Disable()
		return nil
	}

	sh, err := s.parser.Parse(cronExpr)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.expr = cronExpr
	running := s.running
	if !running {
		s.schedule = sh
		s.nextRun = sh.Next(time.Now())
	}
	s.mu.Unlock()

	if running {
		s.trySendControl(ctrlRecalculate, sh)
	}
	return nil
}

// Disable removes the schedule. A run already in progress is not affected.
func (s *Scheduler) Disable() {
	s.mu.Lock()
	s.expr = ""
	s.schedule = nil
	s.nextRun = time.Time{}
	running := s.running
	s.mu.Unlock()

	if running {
		s.trySendControl(ctrlDisable, nil)
	}
}

// Skip skips the next scheduled run.
func (s *Scheduler) Skip() error {
	s.mu.Lock()
	if s.schedule == nil || s.nextRun.IsZero() {
		s.mu.Unlock()
		return fmt.Errorf("no active schedule to skip")
	}
	s.nextRun = s.schedule.Next(s.nextRun)
	running := s.running
	s.mu.Unlock()

	if running {
		s.trySendControl(ctrlSkip, nil)
	}
	return nil
}

func (s *Scheduler) Status() (nextRun time.Time, running bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	nextRun = s.nextRun
	running = s.running
	return
}

// Info returns the schedule as reported over the API.
func (s *Scheduler) Info() types.Schedule {
	s.mu.Lock()
	defer s.mu.Unlock()

	info := types.Schedule{
		Cron:    s.expr,
		Enabled: s.schedule != nil,
	}
	if !s.nextRun.IsZero() {
		next := s.nextRun
		info.NextRun = &next
	}
	return info
}

func (s *Scheduler) runScheduled() {
	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
		logrus.Debug("scheduler stopped")
	}()

	logrus.Debug("scheduler started")

	for s.waitForNextRun() {
	}
}

// waitForNextRun blocks until the next run has been handled or the schedule
// changed. It returns false once the scheduler is stopped.
func (s *Scheduler) waitForNextRun() bool {
	schedule, nextRun := s.snapshot()
	timer := time.NewTimer(s.initialWait(schedule, nextRun))
	defer timer.Stop()

	announced := false
	attempts := 0
	var lastErr error

	for {
		select {
		case <-s.stopCh:
			return false
		case msg := <-s.controlCh:
			s.applyControl(msg)
			return true
		case <-timer.C:
		}

		if schedule == nil || nextRun.IsZero() {
			return true
		}

		log := logrus.WithField("runAt", nextRun.Format(time.DateTime))

		if !announced {
			announced = true
			log.Debug("upcoming scheduled session")
			s.sendNotify(nextRun)
			timer.Reset(max(time.Until(nextRun), 0))
			continue
		}

		log.Debug("running scheduled session")

		if err := s.preCheck(); err != nil {
			// report each distinct failure once
			if lastErr == nil || err.Error() != lastErr.Error() {
				lastErr = err
				s.sendError(fmt.Errorf("precheck failed: %v", err))
			}

			attempts++
			if attempts <= preCheckMaxTimes {
				log.Debugf("precheck failed (%d/%d): %v; retrying in %s", attempts, preCheckMaxTimes, err, preCheckInterval)
				timer.Reset(preCheckInterval)
				continue
			}

			log.WithError(err).Warn("precheck kept failing, skipping scheduled session")
			s.advanceNextRun()
			return true
		}

		go func() {
			if err := s.Task(); err != nil {
				s.sendError(fmt.Errorf("task failed: %v", err))
			}
		}()
		s.advanceNextRun()
		return true
	}
}

func (s *Scheduler) preCheck() error {
	if s.PreCheck == nil {
		return nil
	}
	return s.PreCheck()
}

func (s *Scheduler) applyControl(msg controlMsg) {
	logrus.WithFields(logrus.Fields{
		"kind": msg.kind,
		"data": msg.data,
	}).Debug("received control msg")

	if msg.kind != ctrlRecalculate {
		return
	}

	sh := msg.data.(cron.Schedule)
	s.mu.Lock()
	s.schedule = sh
	s.nextRun = sh.Next(time.Now())
	s.mu.Unlock()
}

func (s *Scheduler) initialWait(schedule cron.Schedule, nextRun time.Time) time.Duration {
	if schedule == nil || nextRun.IsZero() {
		return idleWait
	}
	return max(time.Until(nextRun)-s.LeadDuration, 0)
}

func (s *Scheduler) snapshot() (cron.Schedule, time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.schedule, s.nextRun
}

func (s *Scheduler) advanceNextRun() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.schedule == nil {
		return
	}
	s.nextRun = s.schedule.Next(s.nextRun)
}

func (s *Scheduler) sendNotify(runAt time.Time) {
	if s.OnUpcoming == nil {
		return
	}

	go s.OnUpcoming(runAt)
}

func (s *Scheduler) sendError(err error) {
	if s.OnError == nil {
		return
	}

	go s.OnError(err)
}

func (s *Scheduler) trySendControl(kind controlKind, data any) {
	select {
	case s.controlCh <- controlMsg{kind: kind, data: data}:
	default:
	}
}
