package commands

import (
	"bytes"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/SiriusScan/patch-intel/patchintel/slogger"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm/logger"
)

func TestRootHasSubcommands(t *testing.T) {
	root := &cobra.Command{Use: "patchintel"}
	root.AddCommand(NewServeCommand(), NewIngestCommand(), NewWorkerCommand(), NewTriggerCommand(), NewNVDBackfillCommand(), NewDBCheckCommand())

	for _, name := range []string{"serve", "ingest", "worker", "trigger", "nvd-backfill", "db-check"} {
		cmd, _, err := root.Find([]string{name})
		require.NoError(t, err, name)
		assert.Equal(t, name, cmd.Name())
	}
}

func testEnv(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("PATCHINTEL_DB_DRIVER", "sqlite")
	t.Setenv("PATCHINTEL_DB_DSN", filepath.Join(dir, "cli.db")+"?_foreign_keys=on")
	t.Setenv("PATCHINTEL_VALKEY_ADDR", "")
	t.Setenv("PATCHINTEL_FEED_URL", "")
	t.Setenv("PATCHINTEL_SCRAPE_ENABLED", "false")
	return dir
}

func TestIngestFromFile(t *testing.T) {
	dir := testEnv(t)
	path := filepath.Join(dir, "feed.json")
	body := `[{"vendor":"Microsoft","product":"Windows 10","fixed_version":"22H2","vulnerabilities_fixed":["CVE-2023-21768"]},"not a record"]`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	cmd := NewIngestCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"--file", path})
	err := cmd.Execute()
	assert.Error(t, err, "non-object elements fail the whole load")

	body = `[{"vendor":"Microsoft","product":"Windows 10","fixed_version":"22H2","vulnerabilities_fixed":["CVE-2023-21768"]},null]`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	out.Reset()
	cmd = NewIngestCommand()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"--file", path})
	require.NoError(t, cmd.Execute())
	assert.Contains(t, out.String(), "total=2 inserted=1 skipped=0 failed=1")
}

func TestIngestRequiresSource(t *testing.T) {
	testEnv(t)
	cmd := NewIngestCommand()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{})
	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "PATCHINTEL_FEED_URL")
}

func TestInvalidConfigIsFatal(t *testing.T) {
	testEnv(t)
	t.Setenv("PATCHINTEL_DB_DRIVER", "oracle")
	cmd := NewIngestCommand()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"--file", "x.json"})
	assert.Error(t, cmd.Execute())
}

func TestDBCheck(t *testing.T) {
	testEnv(t)
	cmd := NewDBCheckCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{})
	require.NoError(t, cmd.Execute())
	assert.Equal(t, "sqlite database ready: 0 patches, 0 vulnerabilities, 0 platforms\n", out.String())
}

func TestGormLogLevelFollowsLogLevel(t *testing.T) {
	t.Cleanup(func() { slogger.New(io.Discard, "info", "text") })

	slogger.New(io.Discard, "debug", "text")
	assert.True(t, slogger.IsDebug())
	assert.Equal(t, logger.Info, gormLogLevel())

	slogger.New(io.Discard, "warn", "text")
	assert.Equal(t, slog.LevelWarn, slogger.Level())
	assert.Equal(t, logger.Warn, gormLogLevel())
}
