package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// runCLI executes the root command with args in a temp working directory and
// returns stdout.
func runCLI(t *testing.T, dir string, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append([]string{"--config", filepath.Join(dir, "vellum.yaml")}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func initDB(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	_, err := runCLI(t, dir, "init", "--dir", dir)
	require.NoError(t, err)
	return dir
}

func TestInitCreatesConfigAndBranch(t *testing.T) {
	dir := initDB(t)

	_, err := os.Stat(filepath.Join(dir, "vellum.yaml"))
	require.NoError(t, err)
	_, err = os.Stat(filepath.Join(dir, "vellum.db"))
	require.NoError(t, err)

	out, err := runCLI(t, dir, "branch", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "* main")
}

func TestInitRefusesExistingConfig(t *testing.T) {
	dir := initDB(t)

	_, err := runCLI(t, dir, "init", "--dir", dir)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestBranchLifecycle(t *testing.T) {
	dir := initDB(t)

	_, err := runCLI(t, dir, "branch", "add", "dev")
	require.NoError(t, err)

	out, err := runCLI(t, dir, "branch", "list", "--format", "json")
	require.NoError(t, err)

	var resp Response
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)

	// main has a child now and cannot be deleted.
	_, err = runCLI(t, dir, "branch", "rm", "main")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	_, err = runCLI(t, dir, "branch", "rm", "dev")
	require.NoError(t, err)
}

func TestAddFindSaveLog(t *testing.T) {
	dir := initDB(t)

	docPath := filepath.Join(dir, "doc.json")
	docJSON := `{
		"id": "doc-1",
		"class_name": "person",
		"created_at": "2024-03-01T12:00:00Z",
		"property_groups": {"info": {"name": "ada"}}
	}`
	require.NoError(t, os.WriteFile(docPath, []byte(docJSON), 0o644))

	_, err := runCLI(t, dir, "add", docPath, "-m", "first")
	require.NoError(t, err)

	out, err := runCLI(t, dir, "find", "-q", `[{"field":"info.name","operation":"exact_string","param1":"ada"}]`)
	require.NoError(t, err)
	assert.Contains(t, out, "doc-1")
	assert.Contains(t, out, "1 document(s)")

	out, err = runCLI(t, dir, "log")
	require.NoError(t, err)
	assert.Contains(t, out, "snapshot")
	assert.Contains(t, out, "(main/CURRENT)")

	_, err = runCLI(t, dir, "rm", "doc-1", "-m", "removed")
	require.NoError(t, err)

	out, err = runCLI(t, dir, "find")
	require.NoError(t, err)
	assert.Contains(t, out, "0 document(s)")

	out, err = runCLI(t, dir, "find", "--all-history")
	require.NoError(t, err)
	assert.Contains(t, out, "doc-1")
}

func TestSaveWithNothingOpenFails(t *testing.T) {
	dir := initDB(t)

	_, err := runCLI(t, dir, "save", "empty")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
}

func TestInvalidFormatRejected(t *testing.T) {
	dir := initDB(t)

	_, err := runCLI(t, dir, "branch", "list", "--format", "xml")
	require.Error(t, err)
}

func TestGetExitCode(t *testing.T) {
	assert.Equal(t, ExitSuccess, GetExitCode(nil))
	assert.Equal(t, ExitFailure, GetExitCode(assert.AnError))
	assert.Equal(t, ExitCommandError, GetExitCode(NewExitError(ExitCommandError, "boom")))
}
