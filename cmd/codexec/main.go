// Command codexec runs one submission read as JSON and prints the per-test
// results as JSON on stdout.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"codexec/internal/executor"
	"codexec/internal/executor/observer"
	appErr "codexec/pkg/errors"
	"codexec/pkg/utils/contextkey"
	"codexec/pkg/utils/logger"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// Submission is the CLI input document.
type Submission struct {
	Code      string              `json:"code"`
	Language  executor.LanguageID `json:"language"`
	TestCases []executor.TestCase `json:"test_cases"`
}

type errorOutput struct {
	Error   string                 `json:"error"`
	Code    int                    `json:"code"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// Exit codes. A rejected submission is the caller's problem, anything else
// is ours.
const (
	exitFailure  = 1
	exitRejected = 2
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "", "Path to config file")
	submissionPath := flag.String("submission", "-", "Path to submission JSON, - for stdin")
	traceID := flag.String("trace-id", "", "Trace id attached to every log line")
	flag.Parse()

	appCfg, err := loadAppConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load app config failed: %v\n", err)
		return exitFailure
	}

	if err := logger.Init(appCfg.Logger); err != nil {
		fmt.Fprintf(os.Stderr, "init logger failed: %v\n", err)
		return exitFailure
	}
	defer func() {
		_ = logger.Sync()
	}()

	execCfg, err := appCfg.toExecutorConfig()
	if err != nil {
		logger.Error(context.Background(), "invalid executor config", zap.Error(err))
		return exitFailure
	}

	registry := prometheus.NewRegistry()
	recorder, err := observer.NewPrometheusRecorder(registry)
	if err != nil {
		logger.Error(context.Background(), "init metrics failed", zap.Error(err))
		return exitFailure
	}

	exec, err := executor.New(execCfg, executor.WithMetrics(recorder))
	if err != nil {
		logger.Error(context.Background(), "init executor failed", zap.Error(err))
		return writeError(os.Stderr, err)
	}
	defer func() {
		_ = exec.Close()
	}()

	sub, err := readSubmission(*submissionPath)
	if err != nil {
		logger.Error(context.Background(), "read submission failed", zap.Error(err))
		return writeError(os.Stderr, err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx = contextkey.WithTraceID(ctx, *traceID)

	results, err := exec.Execute(ctx, sub.Code, sub.Language, sub.TestCases)
	if err != nil {
		logger.Error(ctx, "execute submission failed", zap.Error(err))
		return writeError(os.Stderr, err)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(results); err != nil {
		logger.Error(ctx, "write results failed", zap.Error(err))
		return exitFailure
	}

	if path := appCfg.Metrics.TextfilePath; path != "" {
		if err := prometheus.WriteToTextfile(path, registry); err != nil {
			logger.Warn(ctx, "write metrics textfile failed", zap.String("path", path), zap.Error(err))
		}
	}
	return 0
}

func readSubmission(path string) (Submission, error) {
	var r io.Reader = os.Stdin
	if path != "" && path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return Submission{}, appErr.Wrapf(err, appErr.InvalidParams, "open submission")
		}
		defer f.Close()
		r = f
	}
	return decodeSubmission(r)
}

func decodeSubmission(r io.Reader) (Submission, error) {
	var sub Submission
	if err := json.NewDecoder(r).Decode(&sub); err != nil {
		return Submission{}, appErr.Wrapf(err, appErr.InvalidFormat, "decode submission")
	}
	if sub.Language == "" {
		return Submission{}, appErr.ValidationError("language", "required")
	}
	return sub, nil
}

// writeError prints the error envelope and returns the process exit code.
func writeError(w io.Writer, err error) int {
	appError := appErr.GetError(err)
	out := errorOutput{
		Error:   err.Error(),
		Code:    int(appError.Code),
		Details: appError.Details,
	}
	_ = json.NewEncoder(w).Encode(out)
	if appError.Code.IsSetupClass() {
		return exitRejected
	}
	return exitFailure
}
