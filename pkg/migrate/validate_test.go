package migrate

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644))
}

func TestValidateDirRejectsBadFiles(t *testing.T) {
	dir := t.TempDir()
	require.Error(t, ValidateDir(dir), "empty dir")

	writeFile(t, dir, "bad-name.sql", "-- +goose Up\n-- +goose Down\n")
	require.ErrorContains(t, ValidateDir(dir), "invalid migration filename")
}

func TestValidateDirDetectsUnbalancedStatements(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "20260101000000_a.sql", "-- +goose Up\n-- +goose StatementBegin\nSELECT 1;\n-- +goose Down\n")
	require.ErrorContains(t, ValidateDir(dir), "StatementBegin")
}

func TestCreateSQLMigrationRoundTrips(t *testing.T) {
	dir := t.TempDir()
	path, err := CreateSQLMigration(dir, "Add Payout Index!")
	require.NoError(t, err)
	require.Regexp(t, `\d{14}_add_payout_index\.sql$`, path)
	require.NoError(t, ValidateDir(dir))
}
