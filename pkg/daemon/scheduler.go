package daemon

import (
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// TaskFunc represents a runnable task.
type TaskFunc func() error

// Scheduler drives periodic autosave snapshots of the open project. It
// accepts standard cron expressions (with an optional seconds field) and
// runs the task in its own goroutine so a slow save never blocks the
// timer loop. An empty schedule disables autosave entirely.
type Scheduler struct {
	Task    TaskFunc        // task callback
	OnError func(err error) // called on task error

	parser cron.Parser

	schedule cron.Schedule
	nextRun  time.Time

	mu      sync.Mutex
	running bool

	recalcCh chan cron.Schedule
	stopCh   chan struct{}
}

func NewScheduler(task TaskFunc, onError func(err error)) *Scheduler {
	if task == nil {
		panic("task function cannot be nil")
	}

	return &Scheduler{
		Task:     task,
		OnError:  onError,
		parser:   cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
		recalcCh: make(chan cron.Schedule, 1),
		stopCh:   make(chan struct{}),
	}
}

func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.running = true
	go s.run()
}

func (s *Scheduler) Stop() {
	select {
	case <-s.stopCh: // already closed
	default:
		close(s.stopCh)
	}
}

// Schedule replaces the active cron expression. An empty expression
// clears the schedule so the loop parks until a new one arrives.
func (s *Scheduler) Schedule(cronExpr string) error {
	var sh cron.Schedule
	if cronExpr != "" {
		parsed, err := s.parser.Parse(cronExpr)
		if err != nil {
			return fmt.Errorf("invalid cron expression %q: %v", cronExpr, err)
		}
		sh = parsed
	}

	s.mu.Lock()
	running := s.running
	if !running {
		s.schedule = sh
		if sh != nil {
			s.nextRun = sh.Next(time.Now())
		} else {
			s.nextRun = time.Time{}
		}
	}
	s.mu.Unlock()

	if running {
		select {
		case s.recalcCh <- sh:
		default:
		}
	}
	return nil
}

func (s *Scheduler) Status() (nextRun time.Time, running bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nextRun, s.running
}

func (s *Scheduler) run() {
	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
		logrus.Debug("autosave scheduler stopped")
	}()

	logrus.Debug("autosave scheduler started")

	for {
		schedule, nextRun := s.snapshot()
		var timer *time.Timer
		if schedule == nil || nextRun.IsZero() {
			timer = time.NewTimer(time.Hour * 10000) // parked
		} else {
			wait := time.Until(nextRun)
			if wait < 0 {
				wait = 0
			}
			timer = time.NewTimer(wait)
		}

		select {
		case <-timer.C:
			if schedule == nil || nextRun.IsZero() {
				continue
			}
			logrus.Debugf("running autosave at %s", nextRun.Format(time.DateTime))
			go func() {
				if err := s.Task(); err != nil {
					s.sendError(fmt.Errorf("autosave failed: %v", err))
				}
			}()
			s.advanceNextRun()
		case sh := <-s.recalcCh:
			timer.Stop()
			s.mu.Lock()
			s.schedule = sh
			if sh != nil {
				s.nextRun = sh.Next(time.Now())
			} else {
				s.nextRun = time.Time{}
			}
			s.mu.Unlock()
		case <-s.stopCh:
			timer.Stop()
			return
		}
	}
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

func (s *Scheduler) sendError(err error) {
	if s.OnError == nil {
		return
	}
	go s.OnError(err)
}
