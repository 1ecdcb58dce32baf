package executor

import (
	"context"
	"time"

	"codexec/internal/executor/harness"
	"codexec/internal/executor/result"
	"codexec/internal/executor/runner"
	"codexec/internal/executor/sqlexec"
	appErr "codexec/pkg/errors"
	"codexec/pkg/utils/logger"

	"go.uber.org/zap"
)

// processStrategy runs every test case as a child process or container.
type processStrategy struct {
	s        *session
	artifact harness.Artifact
}

func (p *processStrategy) name() string {
	return "process:" + p.s.exec.engine.Mode()
}

func (p *processStrategy) prepare(ctx context.Context) (*result.Outcome, error) {
	s := p.s
	art, err := harness.Prepare(s.lang, s.code, s.token())
	if err != nil {
		return &result.Outcome{Error: err.Error()}, nil
	}
	for name, content := range art.Files {
		if err := s.ws.WriteSource(name, content); err != nil {
			logger.Error(ctx, "write source failed", zap.String("file", name), zap.Error(err))
			return nil, appErr.Wrapf(err, appErr.WorkspaceSetupFailed, "write source failed")
		}
	}
	p.artifact = art

	if !s.lang.CompileEnabled {
		return nil, nil
	}

	if err := s.exec.pool.acquire(ctx); err != nil {
		out := cancelledOutcome()
		return &out, nil
	}
	defer s.exec.pool.release()

	compileRes, err := s.exec.runner.Compile(ctx, runner.CompileRequest{
		SessionID: s.id,
		Language:  s.lang,
		Artifact:  art,
		Workspace: s.ws,
		Policy:    s.exec.cfg.Policy,
	})
	if err != nil {
		logger.Warn(ctx, "compile failed to run", zap.Error(err))
		return &result.Outcome{Error: err.Error()}, nil
	}
	if !compileRes.OK {
		logger.Debug(ctx, "compilation failed", zap.Int("exit_code", compileRes.ExitCode))
		return &result.Outcome{
			Error:     compileRes.Error,
			TimedOut:  compileRes.TimedOut,
			Cancelled: ctx.Err() != nil,
		}, nil
	}
	return nil, nil
}

func (p *processStrategy) runTest(ctx context.Context, index int, tc TestCase) result.Outcome {
	s := p.s
	data, err := encodeInput(tc.Input)
	if err != nil {
		return result.Outcome{Error: err.Error()}
	}
	inputPath, err := s.ws.WriteInput(index, data)
	if err != nil {
		logger.Warn(ctx, "write test input failed", zap.Error(err))
		return result.Outcome{Error: err.Error()}
	}

	out, err := s.exec.runner.Run(ctx, runner.RunRequest{
		SessionID: s.id,
		TestIndex: index,
		Language:  s.lang,
		Artifact:  p.artifact,
		Workspace: s.ws,
		InputPath: inputPath,
		Policy:    s.exec.cfg.Policy,
	})
	if err != nil {
		if ctx.Err() != nil {
			return cancelledOutcome()
		}
		logger.Warn(ctx, "run test case failed", zap.Error(err))
		return result.Outcome{Error: err.Error()}
	}
	return out
}

func (p *processStrategy) cleanup(ctx context.Context) {
	if ctx.Err() == nil {
		return
	}
	// The engine already kills the in-flight run on cancellation; this
	// catches anything started in the window before the watcher fired.
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
	defer cancel()
	if err := p.s.exec.engine.KillSession(cctx, p.s.id); err != nil {
		logger.Warn(ctx, "kill session failed", zap.Error(err))
	}
}

// isolateStrategy runs javascript inside the in-process VM.
type isolateStrategy struct {
	s *session
}

func (i *isolateStrategy) name() string { return "isolate" }

func (i *isolateStrategy) prepare(ctx context.Context) (*result.Outcome, error) {
	return nil, nil
}

func (i *isolateStrategy) runTest(ctx context.Context, index int, tc TestCase) result.Outcome {
	return i.s.exec.isolate.Run(ctx, i.s.code, tc.Input, i.s.exec.cfg.Policy.Timeout)
}

func (i *isolateStrategy) cleanup(ctx context.Context) {}

// sqlStrategy gates the query and runs it against a per-test schema.
type sqlStrategy struct {
	s    *session
	sess *sqlexec.Session
}

func (q *sqlStrategy) name() string { return "sql" }

func (q *sqlStrategy) prepare(ctx context.Context) (*result.Outcome, error) {
	if err := harness.CheckSQL(q.s.code); err != nil {
		logger.Info(ctx, "sql submission rejected", zap.String("reason", err.Error()))
		return &result.Outcome{Error: err.Error()}, nil
	}
	if q.s.exec.sql == nil {
		return &result.Outcome{Error: "SQL execution is not implemented"}, nil
	}
	q.sess = q.s.exec.sql.NewSession(q.s.id, q.s.exec.cfg.Policy.Timeout)
	return nil, nil
}

func (q *sqlStrategy) runTest(ctx context.Context, index int, tc TestCase) result.Outcome {
	return q.sess.Run(ctx, index, q.s.code, tc.Input)
}

func (q *sqlStrategy) cleanup(ctx context.Context) {
	if q.sess == nil {
		return
	}
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
	defer cancel()
	start := time.Now()
	if err := q.sess.Close(cctx); err != nil {
		logger.Warn(ctx, "drop sql schemas failed", zap.Error(err), zap.Duration("elapsed", time.Since(start)))
	}
}
