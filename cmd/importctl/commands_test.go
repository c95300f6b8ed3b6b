package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/pointsimport/internal/config"
	"github.com/JonMunkholm/pointsimport/internal/importer"
)

func memoryLoader() (*config.Config, error) {
	return &config.Config{
		Ledger: config.LedgerConfig{
			Backend:      config.BackendMemory,
			SeedAccounts: []string{"user123", "user456"},
		},
		Import: config.ImportConfig{
			MaxConcurrent:    1,
			MaxWaitTime:      time.Second,
			Timeout:          time.Minute,
			Workers:          1,
			DefaultDelimiter: ",",
		},
	}, nil
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd(memoryLoader)
	var out, errOut bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestRun_TextReport(t *testing.T) {
	path := writeFile(t, "points.csv", "userId,points,note\nuser123,100,Bonus\nghost,5,\n")

	out, err := execute(t, "run", path)

	assert.ErrorIs(t, err, errImportFailed)
	assert.Contains(t, out, "completed with errors")
	assert.Contains(t, out, "processed: 2  succeeded: 1  failed: 1")
	assert.Contains(t, out, "ghost")
	assert.Contains(t, out, importer.MsgAccountNotFound)
}

func TestRun_JSONReport(t *testing.T) {
	path := writeFile(t, "points.txt", "user123;10\nuser456;20\n")

	out, err := execute(t, "run", path, "--format", "json", "--delimiter", ";", "--skip-first-row=false", "--workers", "2")

	require.NoError(t, err)
	var report importer.ImportReport
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.True(t, report.Success)
	assert.Equal(t, 2, report.SuccessCount)
	assert.NotEmpty(t, report.ImportID)
}

func TestRun_FatalReport(t *testing.T) {
	path := writeFile(t, "empty.csv", "")

	out, err := execute(t, "run", path)

	assert.ErrorIs(t, err, errImportFailed)
	assert.Contains(t, out, "failed")
	assert.Contains(t, out, "could not process file: empty file")
	assert.Contains(t, out, "The uploaded file is empty (Code: FILE005). Upload a file with at least one data row")
}

func TestErrorLine(t *testing.T) {
	_, err := execute(t, "run", writeFile(t, "points.csv", "x"), "--kind", "pdf")
	require.ErrorIs(t, err, importer.ErrUnsupportedKind)

	line := errorLine(err)
	assert.Contains(t, line, "File type is not supported (Code: FILE002)")
	assert.Contains(t, line, err.Error())

	_, err = execute(t, "run", writeFile(t, "points.csv", ""), "--format", "yaml")
	require.Error(t, err)
	assert.Equal(t, `Error: unknown --format "yaml"`, errorLine(err))
}

func TestRun_BadArguments(t *testing.T) {
	path := writeFile(t, "points.csv", "userId,points\n")

	_, err := execute(t, "run", path, "--format", "yaml")
	assert.ErrorContains(t, err, "unknown --format")

	_, err = execute(t, "run", path, "--kind", "pdf")
	assert.ErrorIs(t, err, importer.ErrUnsupportedKind)

	_, err = execute(t, "run", filepath.Join(t.TempDir(), "missing.csv"))
	assert.ErrorContains(t, err, "read ")

	_, err = execute(t, "run")
	assert.Error(t, err)
}

func TestHistory_Header(t *testing.T) {
	out, err := execute(t, "history", "--limit", "5")

	require.NoError(t, err)
	assert.Contains(t, out, "ID")
	assert.Contains(t, out, "PROCESSED")
}

func TestMigrate_NeedsPostgres(t *testing.T) {
	_, err := execute(t, "migrate")

	assert.ErrorContains(t, err, "LEDGER_BACKEND=postgres")
}
