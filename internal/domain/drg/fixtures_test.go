package drg

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// =========== Fixtures ===========

func afibRow() Row {
	return Row{
		ID:                 "FM1",
		Code:               "FM19",
		Name:               "心房颤动介入治疗",
		MainDiagnosesText:  "I48.000 阵发性心房颤动[房颤,心房纤颤,AF]",
		MainProceduresText: "37.9000x001 经皮左心耳封堵术",
		Weight:             decimal.RequireFromString("2.3456"),
		InsurancePayment:   decimal.RequireFromString("35210.5"),
	}
}

func pregnancyRow() Row {
	return Row{
		ID:                 "OR1",
		Code:               "OR15",
		Name:               "妊娠期高血压",
		MainDiagnosesText:  "O13.x00 妊娠[妊娠引起的]高血压\r\nO14.900 子痫前期",
		MainProceduresText: "/",
		Weight:             decimal.RequireFromString("0.8"),
		InsurancePayment:   decimal.RequireFromString("6400"),
	}
}

func singleAfibCatalog() *Catalog {
	p := NewParser(zerolog.Nop())
	rec := NewRecord("FM1", RecordMeta{Code: "FM19", Name: "心房颤动介入治疗"},
		p.ParseDiagnoses("I48.000 阵发性心房颤动"),
		p.ParseProcedures("37.9000x001 经皮左心耳封堵术"))
	return NewCatalog("v1", time.Now(), []*Record{rec})
}

// =========== Mock Record Store ===========

type mockRecordStore struct {
	mu    sync.Mutex
	rows  []Row
	err   error
	delay time.Duration
	calls int
}

func newMockRecordStore(rows ...Row) *mockRecordStore {
	return &mockRecordStore{rows: rows}
}

func (m *mockRecordStore) FetchAllDrgRows(ctx context.Context) ([]Row, error) {
	m.mu.Lock()
	rows, err, delay := m.rows, m.err, m.delay
	m.calls++
	m.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	out := make([]Row, len(rows))
	copy(out, rows)
	return out, nil
}

func (m *mockRecordStore) setRows(rows ...Row) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows = rows
}

func (m *mockRecordStore) setErr(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

func (m *mockRecordStore) setDelay(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delay = d
}

var errStoreDown = errors.New("store unavailable")

// fixedClock returns the same instant on every call.
func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

// =========== Mock Notifier ===========

type mockNotifier struct {
	mu       sync.Mutex
	versions []string
	err      error
}

func (m *mockNotifier) NotifyReload(_ context.Context, version string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.versions = append(m.versions, version)
	return m.err
}

func (m *mockNotifier) notified() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return copyStrings(m.versions)
}
