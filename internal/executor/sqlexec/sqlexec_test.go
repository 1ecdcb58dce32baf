package sqlexec

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	appErr "codexec/pkg/errors"

	"github.com/lib/pq"
)

func TestParseSetup(t *testing.T) {
	tests := []struct {
		name    string
		input   any
		want    []string
		wantErr bool
	}{
		{"nil", nil, nil, false},
		{"string", "CREATE TABLE t (id int);", []string{"CREATE TABLE t (id int);"}, false},
		{"object with list", map[string]any{"setup": []any{"CREATE TABLE t (id int)", "INSERT INTO t VALUES (1)"}}, []string{"CREATE TABLE t (id int)", "INSERT INTO t VALUES (1)"}, false},
		{"object with string", map[string]any{"setup": "CREATE TABLE t (id int)"}, []string{"CREATE TABLE t (id int)"}, false},
		{"object without setup", map[string]any{}, nil, false},
		{"non-string statement", map[string]any{"setup": []any{1}}, nil, true},
		{"number", 42.0, nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseSetup(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Fatalf("got %#v, want %#v", got, tt.want)
			}
		})
	}
}

func TestSchemaName(t *testing.T) {
	s := NewWithDB(nil, 0).NewSession("3F2504E0-4F89-11D3-9A0C-0305E82C3301", 0)
	want := "sess_3f2504e04f8911d39a0c0305e82c3301_t7"
	if got := s.SchemaName(7); got != want {
		t.Fatalf("SchemaName = %q, want %q", got, want)
	}
	if len(want) > 63 {
		t.Fatalf("schema name exceeds the postgres identifier limit")
	}
}

func TestRoleStatements(t *testing.T) {
	got := roleStatements("sess_ab_t0")
	want := []string{
		`CREATE ROLE "sess_ab_t0" NOLOGIN`,
		`GRANT "sess_ab_t0" TO CURRENT_USER`,
		`GRANT USAGE ON SCHEMA "sess_ab_t0" TO "sess_ab_t0"`,
		`GRANT SELECT ON ALL TABLES IN SCHEMA "sess_ab_t0" TO "sess_ab_t0"`,
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("roleStatements = %q, want %q", got, want)
	}
}

func TestNewWithDBUsesSessionRoles(t *testing.T) {
	if !NewWithDB(nil, 0).sessionRoles {
		t.Fatalf("sessions must run under their own role by default")
	}
}

func TestSessionTimeout(t *testing.T) {
	e := NewWithDB(nil, 3*time.Second)
	if got := e.NewSession("a", time.Second).timeout; got != time.Second {
		t.Fatalf("shorter session timeout should win, got %v", got)
	}
	if got := e.NewSession("a", 0).timeout; got != 3*time.Second {
		t.Fatalf("zero session timeout should keep executor default, got %v", got)
	}
}

func TestNormalize(t *testing.T) {
	if got := normalize([]byte("12.50"), true); got != 12.5 {
		t.Fatalf("numeric = %#v", got)
	}
	if got := normalize([]byte("abc"), false); got != "abc" {
		t.Fatalf("text = %#v", got)
	}
	if got := normalize(int64(3), false); got != int64(3) {
		t.Fatalf("int = %#v", got)
	}
	ts := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	if got := normalize(ts, false); got != "2024-01-02T03:04:05Z" {
		t.Fatalf("time = %#v", got)
	}
}

func TestFailure(t *testing.T) {
	ctx := context.Background()

	out := failure(ctx, "", &pq.Error{Code: codeQueryCanceled, Message: "canceling statement due to statement timeout"})
	if !out.TimedOut || out.Error != "execution timeout exceeded" {
		t.Fatalf("timeout = %+v", out)
	}

	out = failure(ctx, "setup failed", &pq.Error{Code: "42P01", Message: `relation "users" does not exist`})
	if out.Error != `setup failed: relation "users" does not exist` {
		t.Fatalf("pq error = %+v", out)
	}

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	out = failure(cancelled, "", errors.New("driver: bad connection"))
	if !out.Cancelled || out.Error != "execution cancelled" {
		t.Fatalf("cancel = %+v", out)
	}
}

func TestNewWithoutDSN(t *testing.T) {
	_, err := New(context.Background(), Config{})
	if !appErr.Is(err, appErr.NotImplemented) {
		t.Fatalf("expected NotImplemented, got %v", err)
	}
	if err.Error() != "SQL execution is not implemented" {
		t.Fatalf("unexpected message %q", err.Error())
	}
}
