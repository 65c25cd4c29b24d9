package session

import (
	"github.com/Kokkini/MimicRL/types"
)

// yield is the cooperation point threaded through the collector and trainers.
// It parks the run loop while a pause is requested and converts a stop
// request into ErrStopped, which unwinds the loop at the current boundary.
func (s *Session) yield() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for s.pauseReq && !s.stopReq {
		if s.state == Running {
			s.state = Paused
			s.cond.Broadcast()
			s.log.Info().Msg("paused")
		}
		s.cond.Wait()
	}
	if s.stopReq {
		return types.ErrStopped
	}
	if s.state == Paused {
		s.state = Running
		s.cond.Broadcast()
		s.log.Info().Msg("resumed")
	}
	return nil
}

// Pause asks the run loop to park at its next yield point and returns once it
// has. Pausing an already paused session is a no-op; a session that finishes
// or is resumed while the request is pending returns without error.
func (s *Session) Pause() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.state {
	case Running:
	case Paused:
		return nil
	default:
		return &LifecycleError{Op: "pause", State: s.state}
	}
	s.pauseReq = true
	s.cond.Broadcast()
	for s.pauseReq && s.state == Running && !s.stopReq {
		s.cond.Wait()
	}
	return nil
}

// Resume clears a pause, whether the loop has already parked or the request
// is still pending. Resuming a running session is a no-op.
func (s *Session) Resume() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.state {
	case Running, Paused:
	default:
		return &LifecycleError{Op: "resume", State: s.state}
	}
	s.pauseReq = false
	s.cond.Broadcast()
	return nil
}

// Stop asks the run loop to unwind and waits for it to finish, including the
// final checkpoint. Stop overrides a pause; stopping a stopped session just
// waits for the loop to drain.
func (s *Session) Stop() error {
	s.mu.Lock()
	switch s.state {
	case Running, Paused, Stopped:
	default:
		s.mu.Unlock()
		return &LifecycleError{Op: "stop", State: s.state}
	}
	s.stopReq = true
	s.cond.Broadcast()
	s.mu.Unlock()
	<-s.done
	return nil
}
