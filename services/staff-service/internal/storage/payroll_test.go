package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/modernmen/shopfront/services/staff-service/internal/payroll"
)

// valuesRow scans fixed values into the destinations by type.
type valuesRow []any

func (r valuesRow) Scan(dest ...any) error {
	if len(dest) != len(r) {
		return fmt.Errorf("scan: %d destinations for %d values", len(dest), len(r))
	}
	for i, d := range dest {
		switch d := d.(type) {
		case *string:
			*d = r[i].(string)
		case *int64:
			*d = r[i].(int64)
		case *float64:
			*d = r[i].(float64)
		case *time.Time:
			*d = r[i].(time.Time)
		case **time.Time:
			*d = nil
		default:
			return fmt.Errorf("scan: unsupported destination %T", d)
		}
	}
	return nil
}

type recordingQuerier struct {
	sql  string
	args []any
	row  pgx.Row
}

func (q *recordingQuerier) Exec(context.Context, string, ...any) (pgconn.CommandTag, error) {
	return pgconn.CommandTag{}, errors.New("unexpected exec")
}

func (q *recordingQuerier) Query(context.Context, string, ...any) (pgx.Rows, error) {
	return nil, errors.New("unexpected query")
}

func (q *recordingQuerier) QueryRow(_ context.Context, sql string, args ...any) pgx.Row {
	q.sql, q.args = sql, args
	return q.row
}

func TestUpsertPayrollStoresRates(t *testing.T) {
	created := time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)
	q := &recordingQuerier{row: valuesRow{"pr-1", payroll.StatusPending, created}}
	res := payroll.Compute(payroll.Input{RegularHours: 40, OvertimeHours: 2, HourlyRateCents: 2500})

	rec, ok, err := (&Repository{}).UpsertPayroll(context.Background(), q, "t1", PayrollRecord{StylistID: "s1", Result: res})
	if err != nil || !ok || rec.ID != "pr-1" {
		t.Fatalf("unexpected result %+v ok=%v err=%v", rec, ok, err)
	}
	if !strings.Contains(q.sql, "regular_rate_cents = EXCLUDED.regular_rate_cents") {
		t.Fatal("regeneration must refresh the stored rates")
	}
	if q.args[6] != int64(2500) || q.args[7] != int64(3750) {
		t.Fatalf("expected rates 2500 and 3750 stored, got %v and %v", q.args[6], q.args[7])
	}
}

func TestScanPayrollUsesStoredRates(t *testing.T) {
	if strings.Contains(payrollColumns, "s.hourly_rate_cents") || strings.Contains(payrollColumns, "s.overtime_rate_cents") {
		t.Fatal("payroll rates must come from the record, not the stylist")
	}
	day := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	row := valuesRow{
		"pr-1", "s1", "Lena", day, day.AddDate(0, 0, 13), payroll.StatusApproved, "", nil, day,
		40.0, 2.0, int64(2000), int64(3500), int64(80000), int64(7000), int64(0), int64(87000),
		int64(10440), int64(4350), int64(5394), int64(1262), int64(65554),
	}
	p, err := scanPayroll(row)
	if err != nil {
		t.Fatal(err)
	}
	if p.RegularRateCents != 2000 || p.OvertimeRateCents != 3500 {
		t.Fatalf("unexpected rates %d/%d", p.RegularRateCents, p.OvertimeRateCents)
	}
	if p.DeductionsCents != 10440+4350+5394+1262 {
		t.Fatalf("unexpected deductions %d", p.DeductionsCents)
	}
}
