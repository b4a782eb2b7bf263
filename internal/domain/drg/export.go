package drg

import (
	"fmt"
	"io"
	"os"

	"github.com/parquet-go/parquet-go"
)

// Entry kinds written to the export.
const (
	KindDiagnosis = "diagnosis"
	KindProcedure = "procedure"
)

// ExportRow is one catalog entry in the flattened Parquet export.
type ExportRow struct {
	DrgID            string   `parquet:"drg_id"`
	DrgCode          string   `parquet:"drg_code"`
	DrgName          string   `parquet:"drg_name"`
	Weight           string   `parquet:"weight"`
	InsurancePayment string   `parquet:"insurance_payment"`
	Kind             string   `parquet:"kind"`
	Code             string   `parquet:"code"`
	Name             string   `parquet:"name"`
	Aliases          []string `parquet:"aliases,list"`
	CatalogVersion   string   `parquet:"catalog_version"`
}

// ExportRows flattens a snapshot into one row per diagnosis and procedure entry.
func ExportRows(catalog *Catalog) []ExportRow {
	if catalog == nil {
		return []ExportRow{}
	}
	var rows []ExportRow
	for _, r := range catalog.records {
		base := ExportRow{
			DrgID:            r.id,
			DrgCode:          r.code,
			DrgName:          r.name,
			Weight:           r.weight.String(),
			InsurancePayment: r.insurancePayment.StringFixed(2),
			CatalogVersion:   catalog.version,
		}
		for _, d := range r.diagnoses {
			row := base
			row.Kind = KindDiagnosis
			row.Code = d.code
			row.Name = d.name
			row.Aliases = copyStrings(d.aliases)
			rows = append(rows, row)
		}
		for _, p := range r.procedures {
			row := base
			row.Kind = KindProcedure
			row.Code = p.code
			row.Name = p.name
			row.Aliases = []string{}
			rows = append(rows, row)
		}
	}
	if rows == nil {
		rows = []ExportRow{}
	}
	return rows
}

// WriteParquet writes the snapshot to w as Snappy-compressed Parquet and returns the
// number of rows written. A nil catalog returns ErrNoCatalog and writes nothing.
func WriteParquet(w io.Writer, catalog *Catalog) (int, error) {
	if catalog == nil {
		return 0, ErrNoCatalog
	}
	rows := ExportRows(catalog)
	writer := parquet.NewGenericWriter[ExportRow](w,
		parquet.Compression(&parquet.Snappy),
	)
	if len(rows) > 0 {
		if _, err := writer.Write(rows); err != nil {
			return 0, fmt.Errorf("failed to write parquet rows: %w", err)
		}
	}
	if err := writer.Close(); err != nil {
		return 0, fmt.Errorf("failed to close parquet writer: %w", err)
	}
	return len(rows), nil
}

// ExportParquet writes the snapshot to a file at path.
func ExportParquet(catalog *Catalog, path string) (int, error) {
	if catalog == nil {
		return 0, ErrNoCatalog
	}
	file, err := os.Create(path)
	if err != nil {
		return 0, fmt.Errorf("failed to create parquet file: %w", err)
	}
	n, err := WriteParquet(file, catalog)
	if err != nil {
		file.Close()
		return 0, err
	}
	if err := file.Close(); err != nil {
		return 0, fmt.Errorf("failed to close parquet file: %w", err)
	}
	return n, nil
}
