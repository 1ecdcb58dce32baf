package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime/debug"
	"strings"

	"codexec/internal/executor/compare"
	"codexec/internal/executor/profile"
	"codexec/internal/executor/result"
	"codexec/internal/executor/workspace"
	appErr "codexec/pkg/errors"
	"codexec/pkg/utils/contextkey"
	"codexec/pkg/utils/logger"

	"github.com/docker/go-units"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// strategy runs the test cases of one session on a particular backend.
type strategy interface {
	name() string
	// prepare runs once before any test case. A non-nil outcome fails every
	// test case with it; an error aborts the session.
	prepare(ctx context.Context) (*result.Outcome, error)
	runTest(ctx context.Context, index int, tc TestCase) result.Outcome
	cleanup(ctx context.Context)
}

type session struct {
	id       string
	exec     *Executor
	lang     profile.LanguageSpec
	code     string
	tests    []TestCase
	ws       workspace.Layout
	strategy strategy
}

func newSession(e *Executor, lang profile.LanguageSpec, code string, tests []TestCase) *session {
	id := uuid.NewString()
	s := &session{
		id:    id,
		exec:  e,
		lang:  lang,
		code:  code,
		tests: tests,
		ws:    workspace.New(e.cfg.ScratchDir, id),
	}
	switch {
	case lang.ID == profile.SQL:
		s.strategy = &sqlStrategy{s: s}
	case lang.ID == profile.JavaScript && e.cfg.IsolateJavaScript:
		s.strategy = &isolateStrategy{s: s}
	default:
		s.strategy = &processStrategy{s: s}
	}
	return s
}

func (s *session) run(ctx context.Context) ([]TestResult, error) {
	ctx = contextkey.WithSession(ctx, s.id, string(s.lang.ID))
	languageID := string(s.lang.ID)

	if err := s.ws.Ensure(); err != nil {
		logger.Error(ctx, "prepare workspace failed", zap.String("dir", s.ws.Dir()), zap.Error(err))
		s.purge(ctx)
		return nil, appErr.Wrapf(err, appErr.WorkspaceSetupFailed, "prepare workspace failed")
	}
	defer s.purge(ctx)

	s.exec.metrics.SessionStarted(ctx, languageID)
	defer s.exec.metrics.SessionFinished(ctx, languageID)

	logger.Info(ctx, "execution session started",
		zap.Int("tests", len(s.tests)),
		zap.String("runner", s.strategy.name()),
	)
	defer s.strategy.cleanup(ctx)

	results := make([]TestResult, len(s.tests))
	shared, err := s.prepare(ctx)
	if err != nil {
		return nil, err
	}
	if shared != nil {
		logger.Info(ctx, "session failed before running tests", zap.String("error", shared.Error))
		for i, tc := range s.tests {
			results[i] = assemble(tc, *shared)
		}
		return results, nil
	}

	if s.exec.cfg.Parallelism <= 1 {
		for i, tc := range s.tests {
			results[i] = s.runOne(ctx, i, tc)
		}
	} else {
		var g errgroup.Group
		g.SetLimit(s.exec.cfg.Parallelism)
		for i, tc := range s.tests {
			i, tc := i, tc
			g.Go(func() error {
				results[i] = s.runOne(ctx, i, tc)
				return nil
			})
		}
		_ = g.Wait()
	}

	logger.Info(ctx, "execution session finished", zap.Int("passed", countPassed(results)), zap.Int("tests", len(results)))
	return results, nil
}

func (s *session) prepare(ctx context.Context) (out *result.Outcome, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			logger.Error(ctx, "session prepare panicked", zap.Any("panic", rec), zap.ByteString("stack", debug.Stack()))
			out, err = &result.Outcome{Error: fmt.Sprintf("internal error: %v", rec)}, nil
		}
	}()
	return s.strategy.prepare(ctx)
}

// runOne never fails: internal errors and panics become the test's error.
func (s *session) runOne(ctx context.Context, index int, tc TestCase) (res TestResult) {
	ctx = contextkey.WithTestIndex(ctx, index)
	defer func() {
		if rec := recover(); rec != nil {
			logger.Error(ctx, "test case panicked", zap.Any("panic", rec), zap.ByteString("stack", debug.Stack()))
			res = assemble(tc, result.Outcome{Error: fmt.Sprintf("internal error: %v", rec)})
		}
	}()

	out := s.runWithSlot(ctx, index, tc)
	res = assemble(tc, out)
	s.exec.metrics.ObserveRun(ctx, string(s.lang.ID), string(res.Status()), res.ExecutionTimeMs, out.MemoryKB)
	logger.Debug(ctx, "test case finished",
		zap.String("status", string(res.Status())),
		zap.Int64("time_ms", res.ExecutionTimeMs),
	)
	return res
}

func (s *session) runWithSlot(ctx context.Context, index int, tc TestCase) result.Outcome {
	if ctx.Err() != nil {
		return cancelledOutcome()
	}
	if err := s.exec.pool.acquire(ctx); err != nil {
		return cancelledOutcome()
	}
	defer s.exec.pool.release()
	return s.strategy.runTest(ctx, index, tc)
}

func (s *session) purge(ctx context.Context) {
	if err := s.ws.Purge(); err != nil {
		logger.Warn(ctx, "remove session workspace failed", zap.String("dir", s.ws.Dir()), zap.Error(err))
	}
}

// token namespaces generated identifiers, such as Java class names.
func (s *session) token() string {
	return strings.ReplaceAll(s.id, "-", "")
}

func assemble(tc TestCase, out result.Outcome) TestResult {
	res := TestResult{
		ID:              tc.ID,
		Input:           tc.Input,
		Expected:        tc.Expected,
		IsHidden:        tc.IsHidden,
		ExecutionTimeMs: out.TimeMs,
		TimedOut:        out.TimedOut,
		Cancelled:       out.Cancelled,
	}
	if out.Failed() {
		msg := out.Error
		res.Error = &msg
	} else {
		res.Actual = out.Actual
		res.Passed = compare.Equal(out.Actual, tc.Expected)
	}
	if out.MemoryKB > 0 {
		used := units.BytesSize(float64(out.MemoryKB) * 1024)
		res.MemoryUsed = &used
	}
	return res
}

func cancelledOutcome() result.Outcome {
	return result.Outcome{Error: appErr.Cancelled.Message(), Cancelled: true}
}

func countPassed(results []TestResult) int {
	n := 0
	for _, r := range results {
		if r.Passed {
			n++
		}
	}
	return n
}

func encodeInput(input any) ([]byte, error) {
	data, err := json.Marshal(input)
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.HarnessError, "invalid input")
	}
	return data, nil
}
