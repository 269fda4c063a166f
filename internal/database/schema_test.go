package database

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

type fakeRow struct {
	val bool
	err error
}

func (r fakeRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	*(dest[0].(*bool)) = r.val
	return nil
}

type fakeQuerier struct {
	timescale bool
	failOn    string
	execs     []string
}

func (q *fakeQuerier) Exec(_ context.Context, sql string, _ ...any) (pgconn.CommandTag, error) {
	q.execs = append(q.execs, sql)
	if q.failOn != "" && strings.Contains(sql, q.failOn) {
		return pgconn.CommandTag{}, errors.New("boom")
	}
	return pgconn.NewCommandTag("CREATE TABLE"), nil
}

func (q *fakeQuerier) QueryRow(_ context.Context, _ string, _ ...any) pgx.Row {
	return fakeRow{val: q.timescale}
}

func TestEnsureSchema_PlainPostgres(t *testing.T) {
	q := &fakeQuerier{}
	if err := EnsureSchema(context.Background(), q, nil); err != nil {
		t.Fatalf("EnsureSchema() error = %v", err)
	}
	if len(q.execs) != 2 {
		t.Fatalf("executed %d statements, want 2", len(q.execs))
	}
	if !strings.Contains(q.execs[0], "price_observations") || !strings.Contains(q.execs[1], "block_observations") {
		t.Errorf("unexpected statements: %v", q.execs)
	}
}

func TestEnsureSchema_Timescale(t *testing.T) {
	q := &fakeQuerier{timescale: true}
	if err := EnsureSchema(context.Background(), q, nil); err != nil {
		t.Fatalf("EnsureSchema() error = %v", err)
	}
	if len(q.execs) != 4 {
		t.Fatalf("executed %d statements, want 4", len(q.execs))
	}
	for _, stmt := range q.execs[2:] {
		if !strings.Contains(stmt, "create_hypertable") {
			t.Errorf("statement %q is not a hypertable call", stmt)
		}
	}
}

func TestEnsureSchema_ExecError(t *testing.T) {
	q := &fakeQuerier{failOn: "block_observations"}
	err := EnsureSchema(context.Background(), q, nil)
	if err == nil || !strings.Contains(err.Error(), "create table") {
		t.Errorf("EnsureSchema() error = %v, want create table failure", err)
	}
}
