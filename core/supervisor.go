package core

// Service supervisor: spawns node services under a harness that tracks task
// state, health samples and restarts. Restart rates are bounded both over
// the process lifetime and within a rolling window; exceeding either
// promotes the task to Critical and leaves it Failed.

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	MaxRestartAttempts  = 5
	RestartBackoffBase  = time.Second
	RestartBackoffMax   = 60 * time.Second
	HealthWindowSize    = 100
	MaxRestartsInWindow = 5
	RestartRateWindow   = 60 * time.Second
)

// RestartPolicy governs what happens when a task body returns.
type RestartPolicy uint8

const (
	RestartNever RestartPolicy = iota
	RestartAlways
	RestartOnFailure
	RestartExponentialBackoff
)

// TaskState is the lifecycle state of a supervised task.
type TaskState uint8

const (
	TaskPending TaskState = iota
	TaskStarting
	TaskRunning
	TaskStopping
	TaskStopped
	TaskFailed
	TaskTerminated
)

func (s TaskState) String() string {
	switch s {
	case TaskPending:
		return "pending"
	case TaskStarting:
		return "starting"
	case TaskRunning:
		return "running"
	case TaskStopping:
		return "stopping"
	case TaskStopped:
		return "stopped"
	case TaskFailed:
		return "failed"
	case TaskTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// HealthClassification grades a task.
type HealthClassification uint8

const (
	HealthHealthy HealthClassification = iota
	HealthDegraded
	HealthCritical
)

func (h HealthClassification) String() string {
	switch h {
	case HealthHealthy:
		return "healthy"
	case HealthDegraded:
		return "degraded"
	case HealthCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// TaskHealth is a point-in-time snapshot of a supervised task.
type TaskHealth struct {
	Name            string               `json:"name"`
	State           TaskState            `json:"state"`
	RestartCount    uint32               `json:"restart_count"`
	LastError       string               `json:"last_error,omitempty"`
	UptimeSecs      uint64               `json:"uptime_secs"`
	HealthScore     float64              `json:"health_score"`
	Classification  HealthClassification `json:"classification"`
	RestartsInWindow uint32              `json:"restarts_in_window"`
}

// TaskFunc is a supervised task body. It should call RecordSample
// periodically and return nil on clean exit.
type TaskFunc func(ctx context.Context, task *SupervisedTask) error

// SupervisedTask carries the harness-visible state of one task.
type SupervisedTask struct {
	name   string
	policy RestartPolicy

	mu                sync.Mutex
	state             TaskState
	restartCount      uint32
	lastError         string
	lastStateChange   time.Time
	healthSamples     []bool
	healthScore       float64
	restartTimestamps []time.Time
	classification    HealthClassification
}

func newSupervisedTask(name string, policy RestartPolicy) *SupervisedTask {
	return &SupervisedTask{
		name:            name,
		policy:          policy,
		state:           TaskPending,
		lastStateChange: time.Now(),
		healthScore:     1.0,
		classification:  HealthHealthy,
	}
}

// Name returns the task name.
func (t *SupervisedTask) Name() string { return t.name }

func (t *SupervisedTask) setState(state TaskState) {
	t.mu.Lock()
	t.state = state
	t.lastStateChange = time.Now()
	t.mu.Unlock()
}

// RecordSample feeds a health observation into the bounded ring.
func (t *SupervisedTask) RecordSample(healthy bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.healthSamples = append(t.healthSamples, healthy)
	if len(t.healthSamples) > HealthWindowSize {
		t.healthSamples = t.healthSamples[1:]
	}
	t.updateHealthScoreLocked()
	t.updateClassificationLocked()
}

func (t *SupervisedTask) updateHealthScoreLocked() {
	if len(t.healthSamples) == 0 {
		t.healthScore = 1.0
		return
	}
	healthy := 0
	for _, h := range t.healthSamples {
		if h {
			healthy++
		}
	}
	t.healthScore = float64(healthy) / float64(len(t.healthSamples))
}

func (t *SupervisedTask) restartsInWindowLocked() uint32 {
	cutoff := time.Now().Add(-RestartRateWindow)
	n := uint32(0)
	for _, ts := range t.restartTimestamps {
		if ts.After(cutoff) {
			n++
		}
	}
	return n
}

func (t *SupervisedTask) recordRestartLocked() {
	now := time.Now()
	t.restartTimestamps = append(t.restartTimestamps, now)
	cutoff := now.Add(-RestartRateWindow)
	trimmed := t.restartTimestamps[:0]
	for _, ts := range t.restartTimestamps {
		if ts.After(cutoff) {
			trimmed = append(trimmed, ts)
		}
	}
	t.restartTimestamps = trimmed
	t.restartCount++
	t.updateClassificationLocked()
}

func (t *SupervisedTask) updateClassificationLocked() {
	switch {
	case t.restartsInWindowLocked() >= MaxRestartsInWindow,
		t.healthScore < 0.3,
		t.restartCount >= MaxRestartAttempts:
		t.classification = HealthCritical
	case t.healthScore < 0.7, t.restartCount > 2:
		t.classification = HealthDegraded
	default:
		t.classification = HealthHealthy
	}
}

func (t *SupervisedTask) recordError(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lastError = err.Error()
	t.healthSamples = append(t.healthSamples, false)
	if len(t.healthSamples) > HealthWindowSize {
		t.healthSamples = t.healthSamples[1:]
	}
	t.updateHealthScoreLocked()
	t.updateClassificationLocked()
}

// Health snapshots the task.
func (t *SupervisedTask) Health() TaskHealth {
	t.mu.Lock()
	defer t.mu.Unlock()
	uptime := uint64(0)
	if t.state == TaskRunning {
		uptime = uint64(time.Since(t.lastStateChange).Seconds())
	}
	return TaskHealth{
		Name:             t.name,
		State:            t.state,
		RestartCount:     t.restartCount,
		LastError:        t.lastError,
		UptimeSecs:       uptime,
		HealthScore:      t.healthScore,
		Classification:   t.classification,
		RestartsInWindow: t.restartsInWindowLocked(),
	}
}

// ServiceSupervisor owns the task descriptors and their goroutines.
type ServiceSupervisor struct {
	mu    sync.RWMutex
	tasks map[string]*SupervisedTask
	wg    sync.WaitGroup

	cancel context.CancelFunc
}

// NewServiceSupervisor builds an empty supervisor.
func NewServiceSupervisor() *ServiceSupervisor {
	return &ServiceSupervisor{tasks: make(map[string]*SupervisedTask)}
}

// Spawn registers and starts a task under the harness.
func (s *ServiceSupervisor) Spawn(ctx context.Context, name string, policy RestartPolicy, body TaskFunc) *SupervisedTask {
	task := newSupervisedTask(name, policy)
	s.mu.Lock()
	s.tasks[name] = task
	s.mu.Unlock()

	s.wg.Add(1)
	go s.harness(ctx, task, body)
	return task
}

// runBody invokes the task body converting panics into errors.
func runBody(ctx context.Context, task *SupervisedTask, body TaskFunc) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task %s panicked: %v", task.name, r)
		}
	}()
	return body(ctx, task)
}

func (s *ServiceSupervisor) harness(ctx context.Context, task *SupervisedTask, body TaskFunc) {
	defer s.wg.Done()

	for {
		task.setState(TaskStarting)
		task.setState(TaskRunning)
		logrus.Infof("service %s running", task.name)

		err := runBody(ctx, task, body)

		if ctx.Err() != nil {
			task.setState(TaskTerminated)
			logrus.Infof("service %s terminated", task.name)
			return
		}

		if err == nil {
			if task.policy != RestartAlways {
				task.setState(TaskStopped)
				logrus.Infof("service %s stopped", task.name)
				return
			}
		} else {
			task.recordError(err)
			logrus.Warnf("service %s exited: %v", task.name, err)
		}

		if task.policy == RestartNever {
			task.setState(TaskFailed)
			return
		}

		task.mu.Lock()
		exceeded := task.restartCount >= MaxRestartAttempts ||
			task.restartsInWindowLocked() >= MaxRestartsInWindow
		if exceeded {
			task.classification = HealthCritical
			task.mu.Unlock()
			task.setState(TaskFailed)
			logrus.Errorf("service %s exceeded restart limits, giving up", task.name)
			return
		}
		task.recordRestartLocked()
		restarts := task.restartCount
		task.mu.Unlock()

		if task.policy == RestartExponentialBackoff {
			delay := RestartBackoffBase << (restarts - 1)
			if delay > RestartBackoffMax {
				delay = RestartBackoffMax
			}
			select {
			case <-ctx.Done():
				task.setState(TaskTerminated)
				return
			case <-time.After(delay):
			}
		}
		logrus.Infof("restarting service %s (attempt %d)", task.name, restarts)
	}
}

// Task returns a registered task by name.
func (s *ServiceSupervisor) Task(name string) (*SupervisedTask, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tasks[name]
	return t, ok
}

// Statuses snapshots all registered tasks.
func (s *ServiceSupervisor) Statuses() []TaskHealth {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]TaskHealth, 0, len(s.tasks))
	for _, t := range s.tasks {
		out = append(out, t.Health())
	}
	return out
}

// AnyCritical reports whether any task is in the Critical classification.
func (s *ServiceSupervisor) AnyCritical() bool {
	for _, h := range s.Statuses() {
		if h.Classification == HealthCritical {
			return true
		}
	}
	return false
}

// Wait blocks until all harness goroutines have exited.
func (s *ServiceSupervisor) Wait() { s.wg.Wait() }
