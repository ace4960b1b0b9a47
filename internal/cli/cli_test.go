package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veil-org/veil/pkg/config"
	verrors "github.com/veil-org/veil/pkg/errors"
	"github.com/veil-org/veil/pkg/tracking"
)

const helperEnv = "VEIL_HELPER_PROCESS"

// TestHelperProcess is the command tracked by the run tests. It only acts
// when started by one of them.
func TestHelperProcess(t *testing.T) {
	if os.Getenv(helperEnv) != "1" {
		return
	}
	args := os.Args
	for len(args) > 0 && args[0] != "--" {
		args = args[1:]
	}
	if len(args) < 2 {
		os.Exit(2)
	}
	switch args[1] {
	case "exit":
		code, _ := strconv.Atoi(args[2])
		os.Exit(code)
	case "env":
		fmt.Println(os.Getenv(args[2]))
	}
	os.Exit(0)
}

func helperCommand(t *testing.T, args ...string) []string {
	t.Helper()
	t.Setenv(helperEnv, "1")
	return append([]string{os.Args[0], "-test.run=TestHelperProcess", "--"}, args...)
}

func writeTestConfig(t *testing.T) string {
	t.Helper()
	cfg := config.Default()
	cfg.Repo.Disabled = true
	path := filepath.Join(t.TempDir(), "veil.yaml")
	require.NoError(t, cfg.Save(path))
	return path
}

// executeCommand runs the command tree with args and returns captured output.
func executeCommand(t *testing.T, args ...string) (*App, string, error) {
	t.Helper()
	app := New()
	t.Cleanup(func() { _ = app.Close(context.Background()) })

	root := app.Command()
	var buf bytes.Buffer
	root.SetOut(&buf)
	root.SetErr(&buf)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return app, buf.String(), err
}

func runArgs(t *testing.T, uri string, extra ...string) []string {
	t.Helper()
	return append([]string{"--config", writeTestConfig(t), "--tracking-uri", uri, "--log-level", "error", "run"}, extra...)
}

func memoryStore(t *testing.T, app *App, uri string) *tracking.MemoryStore {
	t.Helper()
	require.NotNil(t, app.fluent)
	store, ok := app.fluent.Registry().MemoryStoreFor(uri)
	require.True(t, ok)
	return store
}

// -----------------------------------------------------------------------------
// Root / version / config
// -----------------------------------------------------------------------------

func TestRootCommand_Subcommands(t *testing.T) {
	root := New().Command()
	assert.Equal(t, "veil", root.Use)

	names := map[string]bool{}
	for _, c := range root.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"run", "repo-info", "config", "version"} {
		assert.True(t, names[want], "missing subcommand %q", want)
	}
}

func TestVersion(t *testing.T) {
	_, out, err := executeCommand(t, "version")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "veil "+Version))
}

func TestConfigInitAndShow(t *testing.T) {
	path := filepath.Join(t.TempDir(), "veil.yaml")

	_, out, err := executeCommand(t, "config", "init", path)
	require.NoError(t, err)
	assert.Contains(t, out, "Config initialized at: "+path)

	_, out, err = executeCommand(t, "--config", path, "config", "init")
	require.NoError(t, err)
	assert.Contains(t, out, "Config already exists")

	_, out, err = executeCommand(t, "--config", path, "--tracking-uri", "memory://shown", "--experiment", "shown", "config", "show")
	require.NoError(t, err)
	assert.Contains(t, out, "tracking_uri: memory://shown")
	assert.Contains(t, out, "experiment_name: shown")
}

func TestConfig_ExplicitPathMustExist(t *testing.T) {
	_, _, err := executeCommand(t, "--config", filepath.Join(t.TempDir(), "missing.yaml"), "config", "show")
	assert.True(t, verrors.IsCode(err, verrors.ErrConfigNotFound))
}

func TestConfig_InvalidFlagValue(t *testing.T) {
	_, _, err := executeCommand(t, "--config", writeTestConfig(t), "--tracking-uri", "nowhere", "config", "show")
	assert.True(t, verrors.IsCode(err, verrors.ErrValidationInvalidURI))
}

// -----------------------------------------------------------------------------
// Run
// -----------------------------------------------------------------------------

func TestRun_RecordsSessionAndChildRun(t *testing.T) {
	cmd := helperCommand(t, "exit", "0")
	args := runArgs(t, "memory://cli",
		"--session", "sweep",
		"--session-tag", "team=ml",
		"--name", "step",
		"--tag", "stage=dev",
		"--param", "lr=0.1",
		"--param", "epochs=3",
		"--log-param", "lr",
		"--")
	app, out, err := executeCommand(t, append(args, cmd...)...)
	require.NoError(t, err)

	store := memoryStore(t, app, "memory://cli")
	sessions := store.RunsNamed("sweep")
	require.Len(t, sessions, 1)
	children := store.RunsNamed("step")
	require.Len(t, children, 1)

	session, child := sessions[0], children[0]
	assert.Equal(t, tracking.StatusFinished, session.Info.Status)
	assert.Equal(t, tracking.StatusFinished, child.Info.Status)
	assert.Equal(t, session.Info.ID, child.ParentID())
	assert.Equal(t, map[string]string{"lr": "0.1"}, child.Params)
	assert.Equal(t, "ml", child.Tags["team"])
	assert.Equal(t, "dev", child.Tags["stage"])

	assert.Contains(t, out, "Runs recorded in memory://cli")
	assert.Contains(t, out, child.Info.ID)
}

func TestRun_DefaultNameAndAllParams(t *testing.T) {
	cmd := helperCommand(t, "exit", "0")
	app, _, err := executeCommand(t, append(runArgs(t, "memory://names", "--param", "a=1", "--param", "b=2", "--"), cmd...)...)
	require.NoError(t, err)

	store := memoryStore(t, app, "memory://names")
	children := store.RunsNamed(filepath.Base(os.Args[0]))
	require.Len(t, children, 1)
	assert.Equal(t, map[string]string{"a": "1", "b": "2"}, children[0].Params)
}

func TestRun_NoParams(t *testing.T) {
	cmd := helperCommand(t, "exit", "0")
	app, _, err := executeCommand(t, append(runArgs(t, "memory://noparams", "--name", "step", "--param", "a=1", "--no-params", "--"), cmd...)...)
	require.NoError(t, err)

	child := memoryStore(t, app, "memory://noparams").RunsNamed("step")[0]
	assert.Empty(t, child.Params)
}

func TestRun_PropagatesExitCode(t *testing.T) {
	cmd := helperCommand(t, "exit", "3")
	app, _, err := executeCommand(t, append(runArgs(t, "memory://fail", "--name", "step", "--"), cmd...)...)
	require.Error(t, err)

	var exitErr *ExitError
	require.True(t, errors.As(err, &exitErr))
	assert.Equal(t, 3, exitErr.Code)

	store := memoryStore(t, app, "memory://fail")
	assert.Equal(t, tracking.StatusFailed, store.RunsNamed("step")[0].Info.Status)
	assert.Equal(t, tracking.StatusFailed, store.RunsNamed("veil")[0].Info.Status)
}

func TestRun_ChildSeesRunEnvironment(t *testing.T) {
	cmd := helperCommand(t, "env", "MLFLOW_RUN_ID")
	app, out, err := executeCommand(t, append(runArgs(t, "memory://env", "--name", "step", "--"), cmd...)...)
	require.NoError(t, err)

	child := memoryStore(t, app, "memory://env").RunsNamed("step")[0]
	assert.True(t, strings.HasPrefix(out, child.Info.ID+"\n"), "output: %q", out)
}

func TestRun_Disabled(t *testing.T) {
	cmd := helperCommand(t, "env", "MLFLOW_RUN_ID")
	args := []string{"--config", writeTestConfig(t), "--tracking-uri", "memory://off", "--log-level", "error", "--disable", "run", "--"}
	app, out, err := executeCommand(t, append(args, cmd...)...)
	require.NoError(t, err)

	assert.Equal(t, "\n", out)
	if store, ok := app.fluent.Registry().MemoryStoreFor("memory://off"); ok {
		assert.Empty(t, store.Runs())
	}
}

func TestRun_InvalidPair(t *testing.T) {
	_, _, err := executeCommand(t, runArgs(t, "memory://bad", "--param", "novalue", "--", "true")...)
	require.Error(t, err)
	assert.True(t, verrors.IsCode(err, verrors.ErrCommandInvalidArgs))
}

func TestRun_CommandNotFound(t *testing.T) {
	app, _, err := executeCommand(t, runArgs(t, "memory://missing", "--name", "step", "--", filepath.Join(t.TempDir(), "no-such-binary"))...)
	require.Error(t, err)
	assert.True(t, verrors.IsCode(err, verrors.ErrCommandFailed))
	assert.Equal(t, tracking.StatusFailed, memoryStore(t, app, "memory://missing").RunsNamed("step")[0].Info.Status)
}

func TestParsePairs(t *testing.T) {
	got, err := parsePairs("tag", []string{"a=1", "b=x=y", "c="})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"a": "1", "b": "x=y", "c": ""}, got)

	got, err = parsePairs("tag", nil)
	require.NoError(t, err)
	assert.Nil(t, got)

	_, err = parsePairs("tag", []string{"=1"})
	assert.True(t, verrors.IsCode(err, verrors.ErrCommandInvalidArgs))
}

// -----------------------------------------------------------------------------
// Repo info
// -----------------------------------------------------------------------------

func TestRepoInfo_NotARepository(t *testing.T) {
	dir := t.TempDir()
	_, out, err := executeCommand(t, "--config", writeTestConfig(t), "--log-level", "error", "repo-info", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "No repository metadata found")

	_, out, err = executeCommand(t, "--config", writeTestConfig(t), "--log-level", "error", "repo-info", "-o", "json", dir)
	require.NoError(t, err)
	var decoded map[string]string
	require.NoError(t, json.Unmarshal([]byte(out), &decoded))
	assert.Equal(t, "", decoded["commit"])

	_, _, err = executeCommand(t, "--config", writeTestConfig(t), "repo-info", "-o", "xml", dir)
	assert.True(t, verrors.IsCode(err, verrors.ErrCommandInvalidArgs))
}

func TestLogFormat(t *testing.T) {
	assert.Equal(t, "json", logFormat("JSON", os.Stderr))
	assert.Equal(t, "json", logFormat("", &bytes.Buffer{}))
	assert.Equal(t, "text", logFormat("text", &bytes.Buffer{}))
}
