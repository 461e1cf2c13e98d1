package orchestrator

import (
	"context"
)

// envelope pairs an Event with a channel the sender waits on for the
// handler's result, giving dispatch a synchronous call shape while the
// mailbox goroutine still processes one event at a time.
type envelope struct {
	event  Event
	respCh chan error
}

// mailbox is the per-session actor: a buffered channel plus the single
// goroutine draining it. Replacing a shared dictionary with one mailbox
// per session_id removes the need for a global lock and makes the
// ordering guarantee (events for one session_id are linearized) explicit
// in the type rather than an implied locking discipline.
type mailbox struct {
	ch chan envelope
}

func (s *Service) runMailbox(sessionID string, mb *mailbox) {
	for env := range mb.ch {
		err := s.handleEvent(context.Background(), sessionID, env.event)
		env.respCh <- err
		if te, ok := env.event.(endedTerminalEvent); ok && te.terminal() {
			s.removeMailbox(sessionID)
			return
		}
	}
}

func (s *Service) removeMailbox(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if mb, ok := s.mailboxes[sessionID]; ok {
		close(mb.ch)
		delete(s.mailboxes, sessionID)
	}
}

// endedTerminalEvent is implemented by events whose handling always ends
// the session's mailbox lifetime, so runMailbox knows to tear down after
// processing them.
type endedTerminalEvent interface {
	terminal() bool
}

// dispatch enqueues event on sessionID's mailbox and blocks for its
// result, or ctx's cancellation, whichever comes first.
//
// The lookup-or-create and the channel send happen in the same critical
// section as removeMailbox's close-and-delete, so a mailbox can never be
// closed out from under a send that already has a reference to it: by
// the time removeMailbox can run, any dispatch that found this mailbox
// has already either finished sending into it or given up on ctx, and
// the next dispatch for this session_id will find no map entry and
// start a fresh mailbox instead of reusing the closed one.
func (s *Service) dispatch(ctx context.Context, sessionID string, event Event) error {
	respCh := make(chan error, 1)

	s.mu.Lock()
	mb, ok := s.mailboxes[sessionID]
	if !ok {
		mb = &mailbox{ch: make(chan envelope, 32)}
		s.mailboxes[sessionID] = mb
		go s.runMailbox(sessionID, mb)
	}
	select {
	case mb.ch <- envelope{event: event, respCh: respCh}:
	case <-ctx.Done():
		s.mu.Unlock()
		return ctx.Err()
	}
	s.mu.Unlock()

	select {
	case err := <-respCh:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
