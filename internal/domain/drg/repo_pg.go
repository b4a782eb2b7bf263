package drg

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

type txStarter interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

type recordStorePG struct{ pool txStarter }

// NewRecordStorePG reads the catalog from the drg_catalog table.
func NewRecordStorePG(pool *pgxpool.Pool) RecordStore { return &recordStorePG{pool: pool} }

const fetchAllDrgRowsSQL = `SELECT COALESCE(id::text, ''), COALESCE(drg_code, ''), COALESCE(drg_name, ''),
        COALESCE(main_diagnoses, ''), COALESCE(main_procedures, ''),
        COALESCE(weight::text, '0'), COALESCE(insurance_payment::text, '0')
 FROM drg_catalog
 ORDER BY row_id`

// FetchAllDrgRows reads every row inside one repeatable-read, read-only transaction so
// the catalog is a consistent point-in-time view.
func (r *recordStorePG) FetchAllDrgRows(ctx context.Context) ([]Row, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("drg catalog begin: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, "SET TRANSACTION ISOLATION LEVEL REPEATABLE READ READ ONLY"); err != nil {
		return nil, fmt.Errorf("drg catalog isolation: %w", err)
	}

	rows, err := tx.Query(ctx, fetchAllDrgRowsSQL)
	if err != nil {
		return nil, fmt.Errorf("drg catalog query: %w", err)
	}
	defer rows.Close()

	var results []Row
	for rows.Next() {
		var row Row
		var weight, payment string
		if err := rows.Scan(&row.ID, &row.Code, &row.Name, &row.MainDiagnosesText, &row.MainProceduresText, &weight, &payment); err != nil {
			return nil, fmt.Errorf("drg catalog scan: %w", err)
		}
		if row.Weight, err = decimal.NewFromString(weight); err != nil {
			return nil, fmt.Errorf("drg %s weight %q: %w", row.ID, weight, err)
		}
		if row.InsurancePayment, err = decimal.NewFromString(payment); err != nil {
			return nil, fmt.Errorf("drg %s insurance payment %q: %w", row.ID, payment, err)
		}
		results = append(results, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("drg catalog rows: %w", err)
	}
	return results, tx.Commit(ctx)
}
