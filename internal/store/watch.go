package store

import (
	"context"
	"fmt"

	"handy/internal/watcher"
)

// Watch polls for changes whenever the database or its write-ahead log
// settles after a write, so commits from other processes reach
// subscribers. It returns once the watch is running; the watch stops when
// ctx is done or the store is closed.
func (s *Store) Watch(ctx context.Context) error {
	if s.isClosed() {
		return ErrClosed
	}
	w, err := watcher.New([]string{s.path, s.path + "-wal"}, s.debounce)
	if err != nil {
		return fmt.Errorf("watch %s: %w", s.path, err)
	}
	if err := w.Start(); err != nil {
		return fmt.Errorf("watch %s: %w", s.path, err)
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer w.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-s.closed:
				return
			case ev, ok := <-w.Events():
				if !ok {
					return
				}
				n, err := s.Poll(ctx)
				if err != nil {
					s.logger.Warn("change poll failed", "path", ev.Path, "error", err)
					continue
				}
				if n > 0 {
					s.metrics.RecordStoreReload()
					s.logger.Debug("external change detected", "path", ev.Path, "commits", n)
				}
			case err, ok := <-w.Errors():
				if !ok {
					return
				}
				s.logger.Warn("database watch error", "error", err)
			}
		}
	}()
	return nil
}
