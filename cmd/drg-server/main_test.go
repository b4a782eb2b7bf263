package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/parquet-go/parquet-go"
	"github.com/rs/zerolog"

	"github.com/ehr/drg/internal/config"
	"github.com/ehr/drg/internal/domain/drg"
	"github.com/ehr/drg/internal/platform/broadcast"
	"github.com/ehr/drg/internal/platform/db"
)

const testCatalogYAML = `drgs:
  - id: FM1
    code: FM19
    name: 心房颤动介入治疗
    weight: "2.3456"
    insurance_payment: "35210.50"
    main_diagnoses: I48.000 阵发性心房颤动[房颤,心房纤颤,AF]
    main_procedures: 37.9000x001 经皮左心耳封堵术
  - id: OR1
    code: OR15
    name: 妊娠期高血压
    weight: "0.8"
    insurance_payment: "6400"
    main_diagnoses: O14.900 子痫前期
    main_procedures: /
`

const testPatientJSON = `{
  "diagnoses": [{"code": "I48.000", "name": "阵发性心房颤动"}],
  "procedures": [{"code": "37.9000x001", "name": "经皮左心耳封堵术"}]
}`

func writeTestCatalog(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	if err := os.WriteFile(path, []byte(testCatalogYAML), 0o600); err != nil {
		t.Fatalf("write catalog: %v", err)
	}
	return path
}

func setTestEnv(t *testing.T, env string) {
	t.Helper()
	t.Setenv("ENV", env)
	t.Setenv("CATALOG_FILE", writeTestCatalog(t))
	t.Setenv("DATABASE_URL", "")
	t.Setenv("REDIS_URL", "")
	t.Setenv("LOG_LEVEL", "error")
	t.Setenv("AUTH_SIGNING_KEY", "0123456789abcdef0123456789abcdef")
}

func testConfig(t *testing.T, env string) *config.Config {
	t.Helper()
	setTestEnv(t, env)
	cfg, err := loadConfig()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	return cfg
}

func testServer(t *testing.T, env string) *httptestServer {
	t.Helper()
	cfg := testConfig(t, env)
	svc, cleanup, err := buildService(t.Context(), cfg, zerolog.Nop(), broadcast.Nop{})
	if err != nil {
		t.Fatalf("build service: %v", err)
	}
	t.Cleanup(cleanup)
	return &httptestServer{handler: newServer(cfg, svc, nil, zerolog.Nop())}
}

type httptestServer struct {
	handler http.Handler
}

func (s *httptestServer) do(method, target, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

// ---------------------------------------------------------------------------
// readPatient
// ---------------------------------------------------------------------------

func TestReadPatient_FromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "patient.json")
	if err := os.WriteFile(path, []byte(testPatientJSON), 0o600); err != nil {
		t.Fatal(err)
	}
	p, err := readPatient(path, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(p.Diagnoses) != 1 || p.Procedures[0].Code != "37.9000x001" {
		t.Errorf("unexpected patient %+v", p)
	}
}

func TestReadPatient_FromStdin(t *testing.T) {
	p, err := readPatient("-", strings.NewReader(testPatientJSON))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Diagnoses[0].Name != "阵发性心房颤动" {
		t.Errorf("unexpected diagnosis %+v", p.Diagnoses[0])
	}
}

func TestReadPatient_UnknownField(t *testing.T) {
	if _, err := readPatient("-", strings.NewReader(`{"diagnosis": []}`)); err == nil {
		t.Error("expected error for unknown field")
	}
}

func TestReadPatient_MissingFile(t *testing.T) {
	if _, err := readPatient(filepath.Join(t.TempDir(), "nope.json"), nil); err == nil {
		t.Error("expected error for missing file")
	}
}

// ---------------------------------------------------------------------------
// config and logger
// ---------------------------------------------------------------------------

func TestLoadConfig_RejectsMissingCatalogSource(t *testing.T) {
	setTestEnv(t, "development")
	t.Setenv("CATALOG_FILE", "")
	if _, err := loadConfig(); err == nil {
		t.Error("expected validation error without a catalog source")
	}
}

func TestNewLogger_Level(t *testing.T) {
	cfg := &config.Config{Env: "production", LogLevel: "warn"}
	var buf bytes.Buffer
	logger := newLogger(cfg, &buf)

	logger.Info().Msg("hidden")
	logger.Warn().Msg("shown")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Error("expected info to be filtered at warn level")
	}
	var entry map[string]interface{}
	if err := json.Unmarshal([]byte(strings.TrimSpace(out)), &entry); err != nil {
		t.Fatalf("expected one JSON line, got %q: %v", out, err)
	}
	if entry["service"] != "drg" || entry["message"] != "shown" {
		t.Errorf("unexpected entry %v", entry)
	}
}

func TestOpenStore_PrefersFile(t *testing.T) {
	cfg := &config.Config{CatalogFile: "catalog.yaml", DatabaseURL: "postgres://unused"}
	store, pool, err := openStore(t.Context(), cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if pool != nil {
		t.Error("expected no pool for the file store")
	}
	if fs, ok := store.(*drg.FileRecordStore); !ok || fs.Path() != "catalog.yaml" {
		t.Errorf("expected file store, got %T", store)
	}
}

// ---------------------------------------------------------------------------
// HTTP server
// ---------------------------------------------------------------------------

func TestServer_Health(t *testing.T) {
	srv := testServer(t, "development")
	rec := srv.do(http.MethodGet, "/health", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["status"] != "ok" || body["records"] != float64(2) {
		t.Errorf("unexpected body %v", body)
	}
	if rec.Header().Get("X-Request-ID") == "" {
		t.Error("expected request id header")
	}
}

func TestServer_MatchDevAuth(t *testing.T) {
	srv := testServer(t, "development")
	rec := srv.do(http.MethodPost, "/api/v1/drg/match", testPatientJSON)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp drg.MatchResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.CatalogVersion == "" {
		t.Error("expected catalog version")
	}
	if len(resp.PrimaryDiagnoses) != 1 || resp.PrimaryDiagnoses[0] != "阵发性心房颤动" {
		t.Errorf("unexpected diagnoses %v", resp.PrimaryDiagnoses)
	}
	if len(resp.PrimaryProcedures) != 1 || resp.PrimaryProcedures[0] != "经皮左心耳封堵术" {
		t.Errorf("unexpected procedures %v", resp.PrimaryProcedures)
	}
}

func TestServer_ReloadDevAuth(t *testing.T) {
	srv := testServer(t, "development")
	rec := srv.do(http.MethodPost, "/api/v1/drg/catalog/reload", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestServer_OversizedChunkedBodyIs413(t *testing.T) {
	t.Setenv("BODY_LIMIT", "1K")
	srv := testServer(t, "development")

	var sb strings.Builder
	sb.WriteString(`{"diagnoses": [`)
	for i := 0; i < 100; i++ {
		if i > 0 {
			sb.WriteString(",")
		}
		sb.WriteString(`{"code": "I48.000", "name": "阵发性心房颤动"}`)
	}
	sb.WriteString(`], "procedures": []}`)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/drg/match", strings.NewReader(sb.String()))
	req.Header.Set("Content-Type", "application/json")
	req.ContentLength = -1
	rec := httptest.NewRecorder()
	srv.handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("expected 413, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestServer_RequiresTokenOutsideDev(t *testing.T) {
	srv := testServer(t, "production")
	rec := srv.do(http.MethodPost, "/api/v1/drg/match", testPatientJSON)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", rec.Code)
	}
	// health stays open
	if rec := srv.do(http.MethodGet, "/health", ""); rec.Code != http.StatusOK {
		t.Errorf("expected health 200, got %d", rec.Code)
	}
}

// ---------------------------------------------------------------------------
// commands
// ---------------------------------------------------------------------------

func TestMatchCmd(t *testing.T) {
	setTestEnv(t, "development")

	cmd := matchCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetIn(strings.NewReader(testPatientJSON))
	cmd.SetArgs([]string{"--patient", "-"})
	if err := cmd.ExecuteContext(t.Context()); err != nil {
		t.Fatalf("match: %v", err)
	}

	var resp drg.MatchResponse
	if err := json.Unmarshal(out.Bytes(), &resp); err != nil {
		t.Fatalf("decode %q: %v", out.String(), err)
	}
	if len(resp.PrimaryDiagnoses) != 1 {
		t.Errorf("unexpected result %+v", resp)
	}
}

func TestMatchCmd_Explain(t *testing.T) {
	setTestEnv(t, "development")

	cmd := matchCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetIn(strings.NewReader(testPatientJSON))
	cmd.SetArgs([]string{"--explain"})
	if err := cmd.ExecuteContext(t.Context()); err != nil {
		t.Fatalf("match --explain: %v", err)
	}

	var exp drg.Explanation
	if err := json.Unmarshal(out.Bytes(), &exp); err != nil {
		t.Fatalf("decode %q: %v", out.String(), err)
	}
	if len(exp.Matches) != 1 || exp.Matches[0].DrgID != "FM1" {
		t.Errorf("unexpected matches %+v", exp.Matches)
	}
}

func TestCatalogStatsCmd(t *testing.T) {
	setTestEnv(t, "development")

	cmd := catalogCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"stats"})
	if err := cmd.ExecuteContext(t.Context()); err != nil {
		t.Fatalf("catalog stats: %v", err)
	}

	var info drg.CatalogInfo
	if err := json.Unmarshal(out.Bytes(), &info); err != nil {
		t.Fatalf("decode %q: %v", out.String(), err)
	}
	if info.RecordCount != 2 || info.LastLoad.Diagnoses != 2 || info.LastLoad.Procedures != 1 {
		t.Errorf("unexpected info %+v", info)
	}
}

func TestCatalogExportCmd(t *testing.T) {
	setTestEnv(t, "development")
	path := filepath.Join(t.TempDir(), "catalog.parquet")

	cmd := catalogCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"export", "--out", path})
	if err := cmd.ExecuteContext(t.Context()); err != nil {
		t.Fatalf("catalog export: %v", err)
	}

	rows, err := parquet.ReadFile[drg.ExportRow](path)
	if err != nil {
		t.Fatalf("read parquet: %v", err)
	}
	if len(rows) != 3 {
		t.Errorf("expected 3 rows, got %d", len(rows))
	}
	if !strings.Contains(out.String(), "Wrote 3 entries") {
		t.Errorf("unexpected output %q", out.String())
	}
}

func TestCatalogExportCmd_RequiresOut(t *testing.T) {
	cmd := catalogCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"export"})
	if err := cmd.ExecuteContext(t.Context()); err == nil {
		t.Error("expected error without --out")
	}
}

func TestPrintMigrationStatus(t *testing.T) {
	at := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	var buf bytes.Buffer
	printMigrationStatus(&buf, []db.MigrationStatus{
		{Version: 1, Name: "001_drg_catalog.sql", Applied: true, AppliedAt: &at},
		{Version: 2, Name: "002_next.sql"},
	})

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 4 {
		t.Fatalf("expected header, rule and 2 rows, got %d lines", len(lines))
	}
	if !strings.Contains(lines[2], "applied") || !strings.Contains(lines[2], "2026-03-01 08:00:00") {
		t.Errorf("unexpected applied row %q", lines[2])
	}
	if !strings.Contains(lines[3], "pending") {
		t.Errorf("unexpected pending row %q", lines[3])
	}
}
