package zenllm

import (
	"context"
	"io"
	"sync"
	"time"
)

// ResponseStream is a lazy, single-pass, forward-only sequence of events
// produced by exactly one committed provider attempt. It is owned by a
// single consumer; only Close may be called from another goroutine.
type ResponseStream struct {
	mu sync.Mutex

	engine      *fallbackEngine
	open        streamOpenFunc
	ctx         context.Context
	cancelAll   context.CancelFunc
	promptChars int

	// Fallback loop position.
	choiceIdx int
	attemptN  int
	failures  []ChoiceFailure

	// Current attempt transport.
	ch            <-chan StreamEvent
	attemptCtx    context.Context
	attemptCancel context.CancelFunc
	watchdog      *time.Timer
	pending       ProviderChoice

	// Committed state. committed refers to the current choice; once true,
	// its failures no longer trigger fallback unless mid-stream switching
	// is allowed.
	committed bool
	provider  string
	model     string
	parts     []ContentPart
	usage     *Usage
	finish    *FinishReason
	raw       map[string]interface{}

	done   bool
	closed bool
	err    error

	finalized bool
	final     *Response
	finalErr  error
}

// Committed reports whether the stream has locked in a provider choice.
func (s *ResponseStream) Committed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.committed
}

// Provider returns the committed provider identifier, empty before commitment.
func (s *ResponseStream) Provider() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.provider
}

// Model returns the committed model identifier, empty before commitment.
func (s *ResponseStream) Model() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.model
}

// Next returns the next event. It returns io.EOF at the natural end of the
// stream, and the terminal error on every call after a failure or Close.
func (s *ResponseStream) Next() (*Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.next()
}

func (s *ResponseStream) next() (*Event, error) {
	for {
		if s.err != nil {
			return nil, s.err
		}
		if s.done {
			return nil, io.EOF
		}
		if s.closed {
			s.err = &AbortError{SDKError: SDKError{Message: "stream is closed"}}
			return nil, s.err
		}

		if s.ch == nil {
			if err := s.ensureOpen(); err != nil {
				s.err = err
				s.teardownAttempt()
				return nil, s.err
			}
		}

		ev, ok := <-s.ch
		if !ok {
			// Transport ended without a finish frame.
			s.handleFailure(&NetworkError{SDKError: SDKError{
				Message: "stream ended before completion",
			}})
			continue
		}

		switch ev.Type {
		case StreamStart:
			// Any frame received from the transport commits the choice,
			// including a metadata-only one.
			s.commit(ev)

		case StreamText:
			s.commit(ev)
			s.parts = append(s.parts, Text(ev.Text))
			return &Event{Kind: EventText, Text: ev.Text}, nil

		case StreamImage:
			s.commit(ev)
			s.parts = append(s.parts, ContentPart{Kind: ContentImage, Image: ev.Image})
			return &Event{Kind: EventImage, Image: ev.Image}, nil

		case StreamFinish:
			s.commit(ev)
			if ev.FinishReason != nil {
				fr := *ev.FinishReason
				s.finish = &fr
			}
			s.done = true
			s.teardownAttempt()
			return nil, io.EOF

		case StreamError:
			s.handleFailure(ev.Err)
		}
	}
}

// commit locks in the pending choice on the first frame received from its
// transport and folds any metadata the frame carries.
func (s *ResponseStream) commit(ev StreamEvent) {
	if !s.committed {
		s.committed = true
		s.provider = s.pending.Provider
		s.model = s.pending.Model
		if s.watchdog != nil {
			s.watchdog.Stop()
			s.watchdog = nil
		}
	}
	if ev.Usage != nil {
		u := *ev.Usage
		s.usage = &u
	}
	if ev.Raw != nil {
		s.raw = ev.Raw
	}
}

// handleFailure reacts to a transport failure. Before commitment the
// fallback loop retries or advances exactly as in the blocking path; after
// commitment behavior depends on AllowMidStreamSwitch.
func (s *ResponseStream) handleFailure(cause error) {
	// Sample before teardown cancels the attempt context.
	timedOut := s.attemptTimedOut()
	s.teardownAttempt()

	if ctxErr := s.ctx.Err(); ctxErr != nil && !s.closed {
		s.err = &AbortError{SDKError: SDKError{Message: "stream cancelled", Cause: ctxErr}}
		return
	}
	if s.closed {
		s.err = &AbortError{SDKError: SDKError{Message: "stream is closed"}}
		return
	}

	if cause == nil {
		cause = &NetworkError{SDKError: SDKError{Message: "stream failed"}}
	}
	if timedOut {
		cause = &TimeoutError{SDKError: SDKError{Message: "attempt exceeded retry timeout", Cause: cause}}
	}

	if s.committed {
		if !s.engine.cfg.AllowMidStreamSwitch {
			s.finish = &FinishReason{Reason: "error"}
			s.err = &StreamInterruptedError{
				SDKError: SDKError{Message: "stream interrupted after commitment", Cause: cause},
				Provider: s.provider,
				Model:    s.model,
			}
			return
		}
		// Mid-stream switch: advance to the next choice. Events already
		// yielded stay; usage attribution restarts with the new provider.
		s.failures = append(s.failures, ChoiceFailure{
			Provider: s.pending.Provider,
			Model:    s.pending.Model,
			Class:    Classify(cause),
			Err:      cause,
		})
		s.committed = false
		s.usage = nil
		s.raw = nil
		s.choiceIdx++
		s.attemptN = 0
		return
	}

	class := Classify(cause)
	if class == FatalLocal {
		s.err = cause
		return
	}

	s.attemptN++
	if class == NonRetryableClient || s.attemptN >= s.engine.cfg.Retry.MaxAttempts {
		s.failures = append(s.failures, ChoiceFailure{
			Provider: s.pending.Provider,
			Model:    s.pending.Model,
			Class:    class,
			Err:      cause,
		})
		s.choiceIdx++
		s.attemptN = 0
	}
}

// ensureOpen drives the fallback loop until a transport channel is open.
// Returns the terminal error when the chain is exhausted, a fatal error
// occurs, or the caller cancels. Caller holds s.mu.
func (s *ResponseStream) ensureOpen() error {
	for s.ch == nil {
		if s.choiceIdx >= len(s.engine.cfg.Chain) {
			if s.committed || len(s.parts) > 0 {
				s.finish = &FinishReason{Reason: "error"}
				return &StreamInterruptedError{
					SDKError: SDKError{
						Message: "stream interrupted and all remaining choices failed",
						Cause:   &ChainError{Failures: s.failures},
					},
					Provider: s.provider,
					Model:    s.model,
				}
			}
			return &ChainError{Failures: s.failures}
		}

		choice := s.engine.cfg.Chain[s.choiceIdx]
		if s.attemptN > 0 {
			if err := s.engine.wait(s.ctx, s.engine.cfg.Retry.Delay(s.attemptN-1)); err != nil {
				return err
			}
		}

		attemptCtx, cancel := context.WithCancel(s.ctx)
		s.attemptCtx = attemptCtx
		s.attemptCancel = cancel
		s.watchdog = time.AfterFunc(s.engine.cfg.Retry.Timeout, cancel)
		s.pending = choice

		ch, err := s.open(attemptCtx, choice)
		if err != nil {
			s.teardownAttempt()
			if ctxErr := s.ctx.Err(); ctxErr != nil {
				return &AbortError{SDKError: SDKError{Message: "stream cancelled", Cause: ctxErr}}
			}
			class := Classify(err)
			if class == FatalLocal {
				return err
			}
			s.attemptN++
			if class == NonRetryableClient || s.attemptN >= s.engine.cfg.Retry.MaxAttempts {
				s.failures = append(s.failures, ChoiceFailure{
					Provider: choice.Provider,
					Model:    choice.Model,
					Class:    class,
					Err:      err,
				})
				s.choiceIdx++
				s.attemptN = 0
			}
			continue
		}
		s.ch = ch
	}
	return nil
}

// attemptTimedOut reports whether the current attempt was cancelled by the
// retry timeout watchdog rather than by the caller.
func (s *ResponseStream) attemptTimedOut() bool {
	return s.attemptCtx != nil && s.attemptCtx.Err() != nil && s.ctx.Err() == nil && !s.committed
}

// teardownAttempt releases the current attempt's transport.
func (s *ResponseStream) teardownAttempt() {
	if s.watchdog != nil {
		s.watchdog.Stop()
		s.watchdog = nil
	}
	if s.attemptCancel != nil {
		s.attemptCancel()
		s.attemptCancel = nil
	}
	s.ch = nil
}

// Close releases the underlying transport and makes further iteration fail.
// It is idempotent and safe to call from another goroutine.
func (s *ResponseStream) Close() error {
	// Cancel first so a Next blocked in a read or backoff wait unblocks
	// without waiting for the lock.
	s.cancelAll()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.teardownAttempt()
	if !s.done && s.finish == nil {
		s.finish = &FinishReason{Reason: "incomplete"}
	}
	return nil
}

// Finalize collapses the stream's event history into one normalized
// Response. Remaining events are drained first unless the stream is closed
// or already failed. Repeated calls return the same Response. A stream that
// never produced an event yields an EmptyStreamError.
func (s *ResponseStream) Finalize() (*Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.finalized {
		return s.final, s.finalErr
	}

	if !s.closed && !s.done && s.err == nil {
		for {
			if _, err := s.next(); err != nil {
				break
			}
		}
	}

	s.finalized = true

	if len(s.parts) == 0 {
		s.finalErr = &EmptyStreamError{SDKError: SDKError{
			Message: "stream produced no events",
		}}
		if s.err != nil {
			s.finalErr = &EmptyStreamError{SDKError: SDKError{
				Message: "stream produced no events",
				Cause:   s.err,
			}}
		}
		return nil, s.finalErr
	}

	finish := FinishReason{Reason: "stop"}
	switch {
	case s.finish != nil:
		finish = *s.finish
	case s.err != nil:
		finish = FinishReason{Reason: "error"}
	case s.closed && !s.done:
		finish = FinishReason{Reason: "incomplete"}
	}

	usage := s.finalUsage()
	raw := s.raw
	if raw == nil {
		raw = map[string]interface{}{
			"synthesized": true,
			"provider":    s.provider,
			"model":       s.model,
		}
	}

	parts := make([]ContentPart, len(s.parts))
	copy(parts, s.parts)

	s.final = &Response{
		Provider:     s.provider,
		Model:        s.model,
		Message:      Message{Role: RoleAssistant, Content: parts},
		FinishReason: finish,
		Usage:        usage,
		Raw:          raw,
	}
	return s.final, nil
}

// finalUsage returns the provider-reported usage when one arrived, otherwise
// an approximation from observed character counts (chars/4).
func (s *ResponseStream) finalUsage() Usage {
	if s.usage != nil {
		u := *s.usage
		if u.TotalTokens == 0 {
			u.TotalTokens = u.InputTokens + u.OutputTokens
		}
		return u
	}

	completionChars := 0
	for _, part := range s.parts {
		if part.Kind == ContentText {
			completionChars += len(part.Text)
		}
	}
	u := Usage{
		InputTokens:  approxTokensFromChars(s.promptChars),
		OutputTokens: approxTokensFromChars(completionChars),
		Estimated:    true,
	}
	u.TotalTokens = u.InputTokens + u.OutputTokens
	return u
}

func approxTokensFromChars(chars int) int {
	if chars <= 0 {
		return 0
	}
	return (chars + 3) / 4
}
