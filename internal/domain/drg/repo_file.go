package drg

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// catalogFile is the on-disk layout read by FileRecordStore:
//
//	drgs:
//	  - id: "1"
//	    code: FR23
//	    name: 心房颤动
//	    weight: "1.25"
//	    insurance_payment: "18000.00"
//	    main_diagnoses: |
//	      I48.000 阵发性心房颤动[房颤,AF]
//	    main_procedures: /
type catalogFile struct {
	Drgs []Row `yaml:"drgs"`
}

// FileRecordStore reads the catalog from a YAML file each time rows are fetched, so an
// edited file is picked up on the next reload.
type FileRecordStore struct {
	path string
}

// NewFileRecordStore creates a store backed by the YAML file at path.
func NewFileRecordStore(path string) *FileRecordStore {
	return &FileRecordStore{path: filepath.Clean(path)}
}

// Path returns the file the store reads.
func (s *FileRecordStore) Path() string { return s.path }

func (s *FileRecordStore) FetchAllDrgRows(ctx context.Context) ([]Row, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	content, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("read drg catalog file: %w", err)
	}
	return DecodeCatalogYAML(content)
}

// DecodeCatalogYAML decodes a catalog file body.
func DecodeCatalogYAML(content []byte) ([]Row, error) {
	var f catalogFile
	if err := yaml.Unmarshal(content, &f); err != nil {
		return nil, fmt.Errorf("decode drg catalog file: %w", err)
	}
	return f.Drgs, nil
}
