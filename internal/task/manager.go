// Package task manages the lifecycle of the goroutines backing one ASTM
// connection: the protocol loop, the accept loop (passive mode), and the
// connect-retry loop (active mode).
//
// It mirrors the teacher's hsms.TaskManager but is trimmed to the generic
// start/stop/wait surface the bridge needs; the SECS-message-shaped
// StartSender/StartRecvDataMsg variants have no analogue here, since the
// bridge's transport deals in raw bytes and assembled ASTM records rather
// than typed SECS-II messages.
package task

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sysmex-bridge/astmhl7/logger"
)

// Func performs one unit of work within a goroutine managed by a Manager.
// Return true to keep running, false to stop.
type Func func() bool

// CancelFunc is invoked when a managed goroutine exits, to release resources
// associated with it.
type CancelFunc func()

// Manager starts, stops, and waits for the goroutines belonging to a single
// connection. Stopping the parent context signals every running task.
type Manager struct {
	pctx   context.Context
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	logger logger.Logger
	count  atomic.Int32
	mu     sync.RWMutex
	taskMu sync.RWMutex
}

// NewManager creates a Manager whose tasks are cancelled when ctx is done.
func NewManager(ctx context.Context, l logger.Logger) *Manager {
	mgr := &Manager{pctx: ctx, logger: l}
	mgr.ctx, mgr.cancel = context.WithCancel(ctx)

	return mgr
}

func (mgr *Manager) getContext() context.Context {
	mgr.mu.RLock()
	defer mgr.mu.RUnlock()

	return mgr.ctx
}

// Start launches fn in a managed goroutine under the given name, looping it
// until it returns false or the manager's context is cancelled.
func (mgr *Manager) Start(name string, fn Func) error {
	mgr.logger.Debug("task: starting", "name", name)

	starter, err := mgr.newStarter(name)
	if err != nil {
		return err
	}

	starter.run(func() {
		mgr.loop(fn)
	})

	return starter.wait()
}

// StartOnce launches fn once in a managed goroutine, calling cancel (if
// non-nil) when it returns.
func (mgr *Manager) StartOnce(name string, fn func(), cancel CancelFunc) error {
	mgr.logger.Debug("task: starting once", "name", name)

	starter, err := mgr.newStarter(name)
	if err != nil {
		return err
	}

	starter.run(func() {
		if cancel != nil {
			defer cancel()
		}

		fn()
	})

	return starter.wait()
}

func (mgr *Manager) loop(fn Func) {
	defer func() {
		if r := recover(); r != nil {
			mgr.logger.Error("task: panic in loop", "panic", r)
		}
	}()

	for {
		ctx := mgr.getContext()
		select {
		case <-ctx.Done():
			return
		default:
			if !fn() {
				return
			}
		}
	}
}

// Stop cancels every goroutine started on this manager.
func (mgr *Manager) Stop() {
	mgr.mu.Lock()
	if mgr.cancel != nil {
		mgr.cancel()
	}
	mgr.mu.Unlock()
}

// Wait blocks until all started goroutines have returned, then rearms the
// manager with a fresh context derived from the original parent so it can
// be reused for the connection's next lifecycle.
func (mgr *Manager) Wait() {
	mgr.taskMu.Lock()
	defer mgr.taskMu.Unlock()

	mgr.wg.Wait()

	mgr.mu.Lock()
	mgr.ctx, mgr.cancel = context.WithCancel(mgr.pctx)
	mgr.mu.Unlock()
}

// Count returns the number of currently running goroutines.
func (mgr *Manager) Count() int {
	return int(mgr.count.Load())
}

type starter struct {
	mgr     *Manager
	name    string
	started chan error
}

func (mgr *Manager) newStarter(name string) (*starter, error) {
	ctx := mgr.getContext()

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("task: manager already stopped")
	default:
	}

	return &starter{mgr: mgr, name: name, started: make(chan error, 1)}, nil
}

func (s *starter) run(body func()) {
	s.mgr.taskMu.RLock()
	defer s.mgr.taskMu.RUnlock()

	s.mgr.wg.Add(1)

	go func() {
		defer s.mgr.wg.Done()

		func() {
			defer func() {
				if r := recover(); r != nil {
					s.started <- fmt.Errorf("task: panic during startup: %v", r)
				}
			}()

			s.mgr.count.Add(1)
			s.started <- nil
		}()

		defer func() {
			s.mgr.count.Add(-1)
			s.mgr.logger.Debug("task: terminated", "name", s.name, "taskCount", s.mgr.Count())
		}()

		body()
	}()
}

func (s *starter) wait() error {
	ctx := s.mgr.getContext()

	select {
	case err := <-s.started:
		if err != nil {
			s.mgr.wg.Done()

			return fmt.Errorf("task: failed to start %s: %w", s.name, err)
		}

		return nil

	case <-time.After(5 * time.Second):
		return fmt.Errorf("task: timeout waiting for %s to start", s.name)

	case <-ctx.Done():
		return fmt.Errorf("task: context cancelled while starting %s", s.name)
	}
}
