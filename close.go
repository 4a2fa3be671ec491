package streamcache

// Close saves the range index one last time, closes the data file and
// releases the writer lock. It is safe to call more than once.
func (s *Store) Close() error {
	s.lk.Lock()
	defer s.lk.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	err := s.index.save()

	if s.local != nil {
		if cerr := s.local.Close(); err == nil {
			err = cerr
		}
		s.local = nil
	}
	s.initialized = false

	if uerr := s.lock.Unlock(); err == nil {
		err = uerr
	}
	return err
}

// Shutdown cancels every outstanding network fetch, fails pending requests
// with ErrInvalidated, waits for queued cache writes to land and closes the
// store. Later calls to Submit return ErrInvalidated. Shutdown is safe to
// call more than once.
func (c *Coordinator) Shutdown() error {
	c.lk.Lock()
	if c.invalidated {
		c.lk.Unlock()
		return nil
	}
	c.invalidated = true
	c.cancel()

	for id, r := range c.requests {
		c.detachTask(r)
		delete(c.requests, id)
		r.finish(ErrInvalidated)
	}
	c.observe(Event{Kind: EventShutdown})
	c.lk.Unlock()

	// running tasks notice they were detached and exit
	c.tasks.Wait()
	c.writer.close()

	c.obsLk.Lock()
	c.observer = nil
	c.obsLk.Unlock()

	return c.store.Close()
}
