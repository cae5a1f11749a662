// Package scope runs a node's long-lived tasks as one unit: a shared cancellation signal,
// the first failure cancels every sibling, and Run returns only after all tasks have exited.
package scope

import (
	"context"
	"fmt"
	"sync"

	"github.com/mezonai/certsync/exception"
	"github.com/mezonai/certsync/logx"
	"golang.org/x/sync/errgroup"
)

type Task func(ctx context.Context) error

type Scope struct {
	mainCtx context.Context
	main    *errgroup.Group

	bgCtx context.Context
	bg    sync.WaitGroup

	cancel   context.CancelFunc
	errOnce  sync.Once
	firstErr error
}

// Run executes root inside a new scope. Background tasks are cancelled once root and
// every task spawned with Spawn have returned.
func Run(ctx context.Context, root func(ctx context.Context, s *Scope) error) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	main, mainCtx := errgroup.WithContext(ctx)
	bgCtx, bgCancel := context.WithCancel(mainCtx)
	defer bgCancel()

	s := &Scope{
		mainCtx: mainCtx,
		main:    main,
		bgCtx:   bgCtx,
		cancel:  cancel,
	}

	s.Spawn("root", func(ctx context.Context) error { return root(ctx, s) })

	mainErr := main.Wait()
	bgCancel()
	s.bg.Wait()

	if s.firstErr != nil {
		return s.firstErr
	}
	return mainErr
}

// Spawn starts a task the scope waits for
func (s *Scope) Spawn(name string, task Task) {
	s.main.Go(func() error {
		return s.record(name, guard(name, task)(s.mainCtx))
	})
}

// SpawnBg starts a task that is cancelled when the main tasks are done.
// A failing background task still cancels the whole scope.
func (s *Scope) SpawnBg(name string, task Task) {
	s.bg.Add(1)
	go func() {
		defer s.bg.Done()
		if err := s.record(name, guard(name, task)(s.bgCtx)); err != nil {
			s.cancel()
		}
	}()
}

func (s *Scope) record(name string, err error) error {
	if err == nil {
		return nil
	}
	s.errOnce.Do(func() {
		logx.Error("SCOPE", fmt.Sprintf("task %s failed: %v", name, err))
		s.firstErr = fmt.Errorf("%s: %w", name, err)
	})
	return err
}

func guard(name string, task Task) Task {
	return func(ctx context.Context) error {
		return exception.Capture(name, func() error { return task(ctx) })
	}
}
