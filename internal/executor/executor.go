package executor

import (
	"context"
	stderrors "errors"
	"io"
	"time"

	"codexec/internal/executor/engine"
	"codexec/internal/executor/isolate"
	"codexec/internal/executor/observer"
	"codexec/internal/executor/profile"
	"codexec/internal/executor/runner"
	"codexec/internal/executor/sqlexec"
	appErr "codexec/pkg/errors"
	"codexec/pkg/utils/logger"

	"go.uber.org/zap"
)

const sqlConnectTimeout = 10 * time.Second

// Executor is the entry point for running submissions. It is safe for
// concurrent use; sessions share only the pool and the scratch root.
type Executor struct {
	cfg     Config
	langs   *profile.Registry
	engine  engine.Engine
	runner  runner.Runner
	isolate *isolate.Runner
	sql     *sqlexec.Executor
	metrics observer.MetricsRecorder
	pool    *pool
	closers []io.Closer
}

type options struct {
	engine    engine.Engine
	dockerAPI engine.ContainerAPI
	metrics   observer.MetricsRecorder
	sql       *sqlexec.Executor
}

// Option customizes an Executor.
type Option func(*options)

// WithEngine replaces the engine built from Config.Mode.
func WithEngine(eng engine.Engine) Option {
	return func(o *options) { o.engine = eng }
}

// WithDockerAPI supplies the container API used in sandboxed mode.
func WithDockerAPI(api engine.ContainerAPI) Option {
	return func(o *options) { o.dockerAPI = api }
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m observer.MetricsRecorder) Option {
	return func(o *options) { o.metrics = m }
}

// WithSQLExecutor supplies a ready SQL executor instead of connecting to Config.SQL.DSN.
func WithSQLExecutor(s *sqlexec.Executor) Option {
	return func(o *options) { o.sql = s }
}

// New builds an Executor from cfg.
func New(cfg Config, opts ...Option) (*Executor, error) {
	cfg = cfg.withDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if o.metrics == nil {
		o.metrics = observer.NoopMetricsRecorder{}
	}

	e := &Executor{
		cfg:     cfg,
		langs:   profile.NewRegistry(cfg.Languages),
		metrics: o.metrics,
		pool:    newPool(cfg.PoolSize),
		isolate: isolate.New(),
	}

	eng, err := e.buildEngine(o)
	if err != nil {
		e.Close()
		return nil, err
	}
	e.engine = eng
	e.runner = runner.NewRunnerWithObserver(eng, o.metrics)

	switch {
	case o.sql != nil:
		e.sql = o.sql
	case cfg.SQL.Enabled():
		ctx, cancel := context.WithTimeout(context.Background(), sqlConnectTimeout)
		defer cancel()
		sqlExec, err := sqlexec.New(ctx, cfg.SQL)
		if err != nil {
			e.Close()
			return nil, err
		}
		e.sql = sqlExec
		e.closers = append(e.closers, sqlExec)
	}

	logger.Info(context.Background(), "executor ready",
		zap.String("mode", eng.Mode()),
		zap.Int("pool_size", cfg.PoolSize),
		zap.Int("parallelism", cfg.Parallelism),
		zap.Bool("isolate_javascript", cfg.IsolateJavaScript),
		zap.Bool("sql_enabled", e.sql != nil),
	)
	return e, nil
}

func (e *Executor) buildEngine(o options) (engine.Engine, error) {
	if o.engine != nil {
		return o.engine, nil
	}
	switch e.cfg.Mode {
	case engine.ModeSandboxed:
		api := o.dockerAPI
		if api == nil {
			cli, err := engine.NewDockerClient(e.cfg.Docker)
			if err != nil {
				return nil, err
			}
			e.closers = append(e.closers, cli)
			api = cli
		}
		return engine.NewDockerEngine(api, e.cfg.Docker)
	default:
		eng, err := engine.NewDirectEngine(e.cfg.Direct)
		if err != nil {
			return nil, appErr.Wrapf(err, appErr.ExecutorUnavailable, "create direct engine failed")
		}
		return eng, nil
	}
}

// Close releases the docker client and database pool owned by the executor.
func (e *Executor) Close() error {
	var errs []error
	for _, c := range e.closers {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	e.closers = nil
	return stderrors.Join(errs...)
}

// Languages lists the supported language ids.
func (e *Executor) Languages() []LanguageID {
	return e.langs.IDs()
}

// Execute runs code against every test case and returns one result per
// test case, index-aligned with testCases. Only setup-class failures
// (unsupported language, oversized submission, workspace creation) are
// returned as errors; everything else lands in a TestResult.
func (e *Executor) Execute(ctx context.Context, code string, language LanguageID, testCases []TestCase) ([]TestResult, error) {
	lang, err := e.langs.Get(profile.ParseLanguageID(string(language)))
	if err != nil {
		return nil, err
	}
	if len(code) > e.cfg.MaxCodeBytes {
		return nil, appErr.Newf(appErr.CodeTooLarge, "code exceeds %d bytes", e.cfg.MaxCodeBytes)
	}
	if len(testCases) > e.cfg.MaxTestCases {
		return nil, appErr.Newf(appErr.TooManyTestCases, "at most %d test cases are allowed", e.cfg.MaxTestCases)
	}
	if len(testCases) == 0 {
		return []TestResult{}, nil
	}

	s := newSession(e, lang, code, testCases)
	return s.run(ctx)
}
