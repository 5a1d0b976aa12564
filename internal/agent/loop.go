package agent

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/nowwhat/placeagent/internal/budget"
	"github.com/nowwhat/placeagent/internal/capability"
	"github.com/nowwhat/placeagent/internal/telemetry"
)

// invalidLoopLimit terminates a session after this many consecutive invalid
// requests from the oracle.
const invalidLoopLimit = 3

// capabilityTerminate is intercepted before dispatch: requesting it is the
// same as a terminate decision.
const capabilityTerminate = "terminate"

// Loop drives one session through the orchestration state machine. It is
// the only component that mutates the session.
type Loop struct {
	dispatcher *capability.Dispatcher
	oracle     DecisionOracle
	budget     budget.Config
	logger     *log.Logger
	telemetry  *telemetry.Telemetry
	now        func() time.Time
}

// NewLoop wires a loop. The budget is validated here so a misconfigured
// ceiling fails before any session starts.
func NewLoop(dispatcher *capability.Dispatcher, oracle DecisionOracle, b budget.Config, logger *log.Logger, tel *telemetry.Telemetry) (*Loop, error) {
	if err := b.Validate(); err != nil {
		return nil, fmt.Errorf("budget config: %w", err)
	}
	if logger == nil {
		logger = log.New(log.Writer(), "[ORCHESTRATOR] ", log.LstdFlags)
	}
	if tel == nil {
		tel = telemetry.Nop()
	}
	return &Loop{
		dispatcher: dispatcher,
		oracle:     oracle,
		budget:     b,
		logger:     logger,
		telemetry:  tel,
		now:        time.Now,
	}, nil
}

// Run executes the session until termination and returns the aggregated
// result. The whole-session deadline cancels in-flight capability calls;
// such calls are recorded as timed-out failures and counted, then the next
// budget check terminates the session.
func (l *Loop) Run(ctx context.Context, s *Session) (map[string]interface{}, error) {
	deadline := l.budget.Deadline(s.StartedAt)
	ctx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	l.logger.Printf("session %s started: query=%q", s.ID, s.Query)

	invalidStreak := 0
	for !s.Terminated {
		// Budget check comes before every decision, including the first.
		if ok, reason := l.budget.Check(s.usage(), l.now()); !ok {
			l.logger.Printf("session %s budget exhausted: %s", s.ID, reason)
			s.terminate(ReasonBudgetExhausted, reason)
			break
		}

		decision, usage, err := l.oracle.Decide(ctx, s, l.budget.MaxCalls, l.budget.MaxEntities, deadline)
		l.telemetry.Decision()
		s.AddTokens(usage)
		if err != nil {
			// The oracle is the loop's one unrecoverable dependency: without
			// a decision there is no next state.
			return nil, fmt.Errorf("session %s: %w", s.ID, err)
		}
		s.recordDecision(decision)

		if decision.Capability == capabilityTerminate {
			decision.Terminate = true
			if decision.Result == nil {
				if payload, ok := decision.Arguments["result"].(map[string]interface{}); ok {
					decision.Result = payload
				}
			}
		}
		if decision.Terminate {
			s.FinalResult = decision.Result
			s.terminate(ReasonExplicit, "")
			break
		}

		desc, err := l.dispatcher.Validate(decision.Capability, decision.Arguments)
		if err != nil {
			s.recordInvalid(decision.Capability, decision.Arguments, err)
			invalidStreak++
			if invalidStreak >= invalidLoopLimit {
				l.logger.Printf("session %s: %d consecutive invalid requests", s.ID, invalidStreak)
				s.terminate(ReasonInvalidLoop, "")
				break
			}
			if errors.Is(err, capability.ErrUnknownCapability) {
				l.logger.Printf("session %s: unknown capability %q", s.ID, decision.Capability)
				s.terminate(ReasonInvalidCapability, "")
				break
			}
			// Schema-invalid arguments are recoverable and not counted as a
			// call; the oracle sees the rejection in the history.
			continue
		}
		invalidStreak = 0

		start := l.now()
		outcome, derr := l.dispatcher.Dispatch(ctx, desc, decision.Arguments)
		elapsed := l.now().Sub(start)
		switch {
		case derr == nil:
			s.recordDispatch(desc.Name, decision.Arguments, StatusSuccess, outcome.Attempts, elapsed, nil)
			s.mergeResult(desc.Name, decision.Arguments, outcome.Result)
		case errors.Is(derr, context.DeadlineExceeded) || errors.Is(derr, context.Canceled):
			s.recordDispatch(desc.Name, decision.Arguments, StatusTimeout, outcome.Attempts, elapsed, derr)
		default:
			// Exhausted its attempt cap; non-fatal, the loop continues.
			s.recordDispatch(desc.Name, decision.Arguments, StatusFailure, outcome.Attempts, elapsed, derr)
		}
	}

	l.telemetry.SessionDone(s.TerminationReason)
	l.logger.Printf("session %s terminated: reason=%s calls=%d entities=%d",
		s.ID, s.TerminationReason, s.CallCount, len(s.Entities))
	return Aggregate(s), nil
}
