// Package scheduler runs the server's named background tickers.
package scheduler

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// Scheduler runs named periodic tasks. Registering a name again replaces the
// earlier task; Stop halts everything at once.
type Scheduler struct {
	mu     sync.Mutex
	tasks  map[string]chan struct{}
	logger *zap.Logger
	stopCh chan struct{}
}

func New(logger *zap.Logger) *Scheduler {
	return &Scheduler{
		tasks:  make(map[string]chan struct{}),
		stopCh: make(chan struct{}),
		logger: logger,
	}
}

// AddTicker runs fn every interval until the scheduler stops or the name is
// registered again.
func (s *Scheduler) AddTicker(name string, interval time.Duration, fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if stop, ok := s.tasks[name]; ok {
		close(stop)
	}
	stop := make(chan struct{})
	s.tasks[name] = stop

	go s.run(name, interval, fn, stop)
	s.logger.Info("ticker registered",
		zap.String("name", name), zap.Duration("interval", interval))
}

func (s *Scheduler) run(name string, interval time.Duration, fn func(), stop chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.invoke(name, fn)
		case <-stop:
			return
		case <-s.stopCh:
			return
		}
	}
}

// invoke shields the ticker goroutine from a panicking task.
func (s *Scheduler) invoke(name string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("ticker panicked",
				zap.String("ticker", name), zap.Any("recover", r))
		}
	}()
	fn()
}

// Stop halts every ticker. Safe to call more than once.
func (s *Scheduler) Stop() {
	select {
	case <-s.stopCh:
	default:
		close(s.stopCh)
	}
}

// ListTickers names the registered tickers, for the metrics endpoint.
func (s *Scheduler) ListTickers() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.tasks))
	for name := range s.tasks {
		names = append(names, name)
	}
	return names
}
