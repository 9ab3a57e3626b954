package platform

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// RestartPolicy decides whether a background task that returned is started
// again.
type RestartPolicy string

const (
	// RestartPermanent restarts after any return.
	RestartPermanent RestartPolicy = "permanent"
	// RestartTransient restarts only after an error, e.g. an unplugged
	// MIDI device.
	RestartTransient RestartPolicy = "transient"
	// RestartTemporary never restarts.
	RestartTemporary RestartPolicy = "temporary"
)

type Policy struct {
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	BackoffFactor  float64
	// MaxRestarts of 0 means unlimited.
	MaxRestarts int
}

type TaskSpec struct {
	Name    string
	Restart RestartPolicy
}

type TaskStatus struct {
	Name            string        `json:"name"`
	RestartPolicy   RestartPolicy `json:"restart_policy"`
	RestartCount    int           `json:"restart_count"`
	LastError       string        `json:"last_error,omitempty"`
	PermanentFailed bool          `json:"permanent_failed"`
}

type Hooks struct {
	OnTaskRestart          func(name string, err error, restartCount int)
	OnTaskPermanentFailure func(name string, err error, restartCount int)
}

func defaultPolicy() Policy {
	return Policy{
		InitialBackoff: 100 * time.Millisecond,
		MaxBackoff:     5 * time.Second,
		BackoffFactor:  2.0,
	}
}

func normalizePolicy(policy Policy) Policy {
	def := defaultPolicy()
	if policy.InitialBackoff <= 0 {
		policy.InitialBackoff = def.InitialBackoff
	}
	if policy.MaxBackoff <= 0 {
		policy.MaxBackoff = def.MaxBackoff
	}
	if policy.MaxBackoff < policy.InitialBackoff {
		policy.MaxBackoff = policy.InitialBackoff
	}
	if policy.BackoffFactor < 1 {
		policy.BackoffFactor = def.BackoffFactor
	}
	if policy.MaxRestarts < 0 {
		policy.MaxRestarts = 0
	}
	return policy
}

// Supervisor runs the performance's background tasks (preference drain,
// listeners, metrics endpoint) and restarts them with exponential backoff.
type Supervisor struct {
	policy Policy
	hooks  Hooks
	logger *slog.Logger

	mu       sync.Mutex
	tasks    map[string]*task
	finished map[string]TaskStatus
}

type task struct {
	cancel context.CancelFunc
	done   chan struct{}
	spec   TaskSpec

	restartCount    int
	lastErr         error
	permanentFailed bool
}

func NewSupervisor(policy Policy, hooks Hooks, logger *slog.Logger) *Supervisor {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Supervisor{
		policy:   normalizePolicy(policy),
		hooks:    hooks,
		logger:   logger,
		tasks:    make(map[string]*task),
		finished: make(map[string]TaskStatus),
	}
}

// Start runs a permanent task.
func (s *Supervisor) Start(ctx context.Context, name string, run func(ctx context.Context) error) error {
	return s.StartSpec(ctx, TaskSpec{Name: name, Restart: RestartPermanent}, run)
}

// StartSpec runs a task until ctx is done or the task is stopped by name.
func (s *Supervisor) StartSpec(ctx context.Context, spec TaskSpec, run func(ctx context.Context) error) error {
	if spec.Name == "" {
		return errors.New("task name is required")
	}
	if run == nil {
		return errors.New("task runner is required")
	}
	switch spec.Restart {
	case RestartPermanent, RestartTransient, RestartTemporary:
	default:
		spec.Restart = RestartPermanent
	}

	s.mu.Lock()
	if _, exists := s.tasks[spec.Name]; exists {
		s.mu.Unlock()
		return fmt.Errorf("task already running: %s", spec.Name)
	}
	delete(s.finished, spec.Name)
	taskCtx, cancel := context.WithCancel(ctx)
	t := &task{cancel: cancel, done: make(chan struct{}), spec: spec}
	s.tasks[spec.Name] = t
	s.mu.Unlock()

	s.logger.Debug("task started", "task", spec.Name, "restart", spec.Restart)
	go s.runTask(taskCtx, t, run)
	return nil
}

func (s *Supervisor) runTask(ctx context.Context, t *task, run func(ctx context.Context) error) {
	name := t.spec.Name
	defer func() {
		s.mu.Lock()
		if current, ok := s.tasks[name]; ok && current == t {
			if t.permanentFailed || t.restartCount > 0 || t.lastErr != nil {
				s.finished[name] = statusOf(t)
			}
			delete(s.tasks, name)
		}
		s.mu.Unlock()
		close(t.done)
	}()

	backoff := s.policy.InitialBackoff
	for {
		err := run(ctx)
		if ctx.Err() != nil {
			return
		}
		if !shouldRestart(t.spec.Restart, err) {
			if err != nil {
				s.mu.Lock()
				t.lastErr = err
				s.mu.Unlock()
				s.logger.Warn("task finished with error", "task", name, "error", err)
			}
			return
		}

		s.mu.Lock()
		t.lastErr = err
		restarts := t.restartCount
		s.mu.Unlock()
		if s.policy.MaxRestarts > 0 && restarts >= s.policy.MaxRestarts {
			s.mu.Lock()
			t.permanentFailed = true
			s.mu.Unlock()
			s.logger.Error("task failed permanently", "task", name, "error", err, "restarts", restarts)
			if s.hooks.OnTaskPermanentFailure != nil {
				go s.hooks.OnTaskPermanentFailure(name, err, restarts)
			}
			return
		}

		restarts++
		s.mu.Lock()
		t.restartCount = restarts
		s.mu.Unlock()
		s.logger.Warn("restarting task", "task", name, "error", err, "restart", restarts, "backoff", backoff)
		if s.hooks.OnTaskRestart != nil {
			s.hooks.OnTaskRestart(name, err, restarts)
		}

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
		backoff = time.Duration(float64(backoff) * s.policy.BackoffFactor)
		if backoff > s.policy.MaxBackoff {
			backoff = s.policy.MaxBackoff
		}
	}
}

func shouldRestart(policy RestartPolicy, err error) bool {
	switch policy {
	case RestartTransient:
		return err != nil
	case RestartTemporary:
		return false
	default:
		return true
	}
}

func statusOf(t *task) TaskStatus {
	return TaskStatus{
		Name:            t.spec.Name,
		RestartPolicy:   t.spec.Restart,
		RestartCount:    t.restartCount,
		LastError:       errString(t.lastErr),
		PermanentFailed: t.permanentFailed,
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// Stop cancels one task and waits for it to return.
func (s *Supervisor) Stop(name string) {
	s.mu.Lock()
	t, ok := s.tasks[name]
	delete(s.finished, name)
	s.mu.Unlock()
	if !ok {
		return
	}
	t.cancel()
	<-t.done
}

// StopAll cancels every task and waits for all of them to return.
func (s *Supervisor) StopAll() {
	s.mu.Lock()
	tasks := make([]*task, 0, len(s.tasks))
	for _, t := range s.tasks {
		tasks = append(tasks, t)
	}
	s.mu.Unlock()

	for _, t := range tasks {
		t.cancel()
	}
	for _, t := range tasks {
		<-t.done
	}
}

// Tasks lists the running tasks by name.
func (s *Supervisor) Tasks() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	names := make([]string, 0, len(s.tasks))
	for name := range s.tasks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Children reports running tasks and finished tasks that restarted or failed.
func (s *Supervisor) Children() []TaskStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]TaskStatus, 0, len(s.tasks)+len(s.finished))
	for _, t := range s.tasks {
		out = append(out, statusOf(t))
	}
	for name, status := range s.finished {
		if _, active := s.tasks[name]; active {
			continue
		}
		out = append(out, status)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
