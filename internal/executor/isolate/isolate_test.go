package isolate

import (
	"context"
	"reflect"
	"strings"
	"testing"
	"time"
)

func TestRunner(t *testing.T) {
	tests := []struct {
		name       string
		code       string
		input      any
		wantActual any
		wantErr    string
	}{
		{
			name:       "main doubles input",
			code:       "function main(x) { return x * 2; }",
			input:      5,
			wantActual: 10.0,
		},
		{
			name:       "solution fallback with objects",
			code:       "function solution(o) { return { sum: o.a + o.b, list: [o.a, o.b] }; }",
			input:      map[string]any{"a": 1, "b": 2},
			wantActual: map[string]any{"sum": 3.0, "list": []any{1.0, 2.0}},
		},
		{
			name:       "main preferred over solution",
			code:       "function solution() { return 'solution'; } function main() { return 'main'; }",
			input:      nil,
			wantActual: "main",
		},
		{
			name:       "undefined result is null",
			code:       "function main() {}",
			input:      1,
			wantActual: nil,
		},
		{
			name:       "resolved promise",
			code:       "function main(x) { return Promise.resolve(x + 1); }",
			input:      1,
			wantActual: 2.0,
		},
		{
			name:    "rejected promise",
			code:    "function main() { return Promise.reject(new Error('nope')); }",
			input:   1,
			wantErr: "nope",
		},
		{
			name:    "thrown error",
			code:    "function main() { throw new Error('bad'); }",
			input:   1,
			wantErr: "bad",
		},
		{
			name:    "thrown string",
			code:    "function main() { throw 'bad'; }",
			input:   1,
			wantErr: "bad",
		},
		{
			name:    "no entry point",
			code:    "function helper() { return 1; }",
			input:   1,
			wantErr: "no function found (define main or solution)",
		},
		{
			name:    "require is undefined",
			code:    "function main() { return require('fs').readFileSync('/etc/passwd'); }",
			input:   1,
			wantErr: "require is not defined",
		},
		{
			name:    "process is undefined",
			code:    "function main() { return process.env; }",
			input:   1,
			wantErr: "process is not defined",
		},
		{
			name:    "eval is removed",
			code:    "function main() { return eval('1 + 1'); }",
			input:   1,
			wantErr: "eval is not defined",
		},
		{
			name:    "timers are removed",
			code:    "function main() { setTimeout(function () {}, 1); return 1; }",
			input:   1,
			wantErr: "setTimeout is not defined",
		},
		{
			name:       "console is a no-op",
			code:       "function main(x) { console.log('debug', x); return x; }",
			input:      "ok",
			wantActual: "ok",
		},
	}

	r := New()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := r.Run(context.Background(), tt.code, tt.input, time.Second)
			if out.Error != tt.wantErr {
				t.Fatalf("Error = %q, want %q", out.Error, tt.wantErr)
			}
			if !reflect.DeepEqual(out.Actual, tt.wantActual) {
				t.Fatalf("Actual = %#v, want %#v", out.Actual, tt.wantActual)
			}
		})
	}
}

func TestRunnerBlocksFunctionConstructor(t *testing.T) {
	out := New().Run(context.Background(), "function main() { return (function () {}).constructor('return 42')(); }", nil, time.Second)
	if !out.Failed() {
		t.Fatalf("expected an error, got actual %#v", out.Actual)
	}
}

func TestRunnerSyntaxError(t *testing.T) {
	out := New().Run(context.Background(), "function main( { return 1; }", nil, time.Second)
	if !out.Failed() || out.TimedOut {
		t.Fatalf("expected a syntax error, got %+v", out)
	}
}

func TestRunnerTimeout(t *testing.T) {
	start := time.Now()
	out := New().Run(context.Background(), "function main() { while (true) {} }", nil, 200*time.Millisecond)
	if !out.TimedOut || out.Error != "execution timeout exceeded" {
		t.Fatalf("expected timeout, got %+v", out)
	}
	if time.Since(start) > 2*time.Second {
		t.Fatalf("timeout was not enforced promptly")
	}
}

func TestRunnerCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(100 * time.Millisecond)
		cancel()
	}()
	out := New().Run(ctx, "function main() { for (;;) {} }", nil, 10*time.Second)
	if !out.Cancelled || out.Error != "execution cancelled" {
		t.Fatalf("expected cancellation, got %+v", out)
	}
}

func TestRunnerFreshVMPerRun(t *testing.T) {
	r := New()
	first := r.Run(context.Background(), "var counter = 1; function main() { return counter; }", nil, time.Second)
	second := r.Run(context.Background(), "function main() { return typeof counter; }", nil, time.Second)
	if first.Actual != 1.0 {
		t.Fatalf("first run = %+v", first)
	}
	if s, _ := second.Actual.(string); !strings.EqualFold(s, "undefined") {
		t.Fatalf("state leaked between runs: %+v", second)
	}
}
