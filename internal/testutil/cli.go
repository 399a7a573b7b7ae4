package testutil

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"hubcache/cmd/hubcache/cmd"
)

// Identity and clock used by CLITest unless overridden.
const (
	DefaultUser = "user-1"
	DefaultHub  = "hub-1"
)

// FixedNow is the clock every CLITest command runs at.
var FixedNow = time.Date(2024, time.March, 15, 12, 0, 0, 0, time.UTC)

// testConfig keeps desktop alerts off and sends alerts to a log in the test dir.
const testConfig = `# test config
notifications:
  page_size: %d
  alerts:
    enabled: true
    desktop:
      enabled: false
    log:
      enabled: true
      path: %s
  reminders:
    enabled: true
    window: 1h
`

// CLITest provides a test helper for running CLI commands in isolation.
type CLITest struct {
	t          *testing.T
	cfg        *cmd.Config
	tmpDir     string
	configPath string
	dbPath     string
	logPath    string
	userID     string
	hubID      string
}

// NewCLITest creates a CLI test helper with its own database, config file
// and XDG directories, signed in as DefaultUser in DefaultHub.
func NewCLITest(t *testing.T) *CLITest {
	return NewCLITestWithPageSize(t, 20)
}

// NewCLITestWithPageSize is NewCLITest with notifications.page_size set.
func NewCLITestWithPageSize(t *testing.T, pageSize int) *CLITest {
	t.Helper()

	tmpDir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(tmpDir, "config"))
	t.Setenv("XDG_DATA_HOME", filepath.Join(tmpDir, "data"))

	c := &CLITest{
		t:          t,
		cfg:        &cmd.Config{NoPrompt: true, Now: func() time.Time { return FixedNow }},
		tmpDir:     tmpDir,
		configPath: filepath.Join(tmpDir, "config.yaml"),
		dbPath:     filepath.Join(tmpDir, "hub.db"),
		logPath:    filepath.Join(tmpDir, "alerts.log"),
		userID:     DefaultUser,
		hubID:      DefaultHub,
	}
	c.SetFullConfig(fmt.Sprintf(testConfig, pageSize, c.logPath))
	return c
}

// AsUser returns a helper sharing the database and config, signed in as userID.
func (c *CLITest) AsUser(userID string) *CLITest {
	other := *c
	cfg := *c.cfg
	other.cfg = &cfg
	other.userID = userID
	return &other
}

// InHub returns a helper sharing the database and config, with hubID active.
// An empty hubID leaves the hub unset.
func (c *CLITest) InHub(hubID string) *CLITest {
	other := *c
	cfg := *c.cfg
	other.cfg = &cfg
	other.hubID = hubID
	return &other
}

// SetInput feeds prompt answers to subsequent commands and turns prompting on.
func (c *CLITest) SetInput(input string) {
	c.cfg.In = strings.NewReader(input)
	c.cfg.NoPrompt = false
}

// Config returns the CLI config for test customization.
func (c *CLITest) Config() *cmd.Config {
	return c.cfg
}

// TmpDir returns the temporary directory for the test.
func (c *CLITest) TmpDir() string {
	return c.tmpDir
}

// ConfigPath returns the path to the config file.
func (c *CLITest) ConfigPath() string {
	return c.configPath
}

// DBPath returns the path to the database file.
func (c *CLITest) DBPath() string {
	return c.dbPath
}

// LogPath returns the path of the alert log.
func (c *CLITest) LogPath() string {
	return c.logPath
}

// SetFullConfig replaces the entire config file with the given YAML content.
func (c *CLITest) SetFullConfig(yamlContent string) {
	c.t.Helper()

	if err := os.WriteFile(c.configPath, []byte(yamlContent), 0644); err != nil {
		c.t.Fatalf("failed to write config file: %v", err)
	}
}

// args appends the isolation flags after the command's own arguments.
func (c *CLITest) args(args []string) []string {
	out := append([]string{}, args...)
	out = append(out, "--config", c.configPath, "--db", c.dbPath, "--user", c.userID)
	if c.hubID != "" {
		out = append(out, "--hub", c.hubID)
	}
	return out
}

// Execute runs a CLI command with the given arguments and returns stdout, stderr, and exit code.
func (c *CLITest) Execute(args ...string) (stdout, stderr string, exitCode int) {
	c.t.Helper()

	var stdoutBuf, stderrBuf bytes.Buffer
	exitCode = cmd.Execute(c.args(args), &stdoutBuf, &stderrBuf, c.cfg)
	return stdoutBuf.String(), stderrBuf.String(), exitCode
}

// MustExecute runs a CLI command and fails the test if exit code is non-zero.
func (c *CLITest) MustExecute(args ...string) string {
	c.t.Helper()

	stdout, stderr, exitCode := c.Execute(args...)
	if exitCode != 0 {
		c.t.Fatalf("expected exit code 0, got %d: stdout=%s stderr=%s", exitCode, stdout, stderr)
	}
	return stdout
}

// ExecuteAndFail runs a CLI command and fails the test if exit code is zero.
func (c *CLITest) ExecuteAndFail(args ...string) (stdout, stderr string) {
	c.t.Helper()

	stdout, stderr, exitCode := c.Execute(args...)
	if exitCode == 0 {
		c.t.Fatalf("expected non-zero exit code, got 0: stdout=%s", stdout)
	}
	return stdout, stderr
}

// MustExecuteJSON runs a command with --json and decodes its output into v.
func (c *CLITest) MustExecuteJSON(v any, args ...string) {
	c.t.Helper()

	stdout := c.MustExecute(append(args, "--json")...)
	if err := json.Unmarshal([]byte(stdout), v); err != nil {
		c.t.Fatalf("invalid JSON output: %v\n%s", err, stdout)
	}
}

// AssertContains fails the test if output doesn't contain expected string.
func AssertContains(t *testing.T, output, expected string) {
	t.Helper()
	if !strings.Contains(output, expected) {
		t.Errorf("expected output to contain %q, got:\n%s", expected, output)
	}
}

// AssertNotContains fails the test if output contains unexpected string.
func AssertNotContains(t *testing.T, output, unexpected string) {
	t.Helper()
	if strings.Contains(output, unexpected) {
		t.Errorf("expected output NOT to contain %q, got:\n%s", unexpected, output)
	}
}

// AssertExitCode fails the test if exit code doesn't match expected.
func AssertExitCode(t *testing.T, got, want int) {
	t.Helper()
	if got != want {
		t.Errorf("expected exit code %d, got %d", want, got)
	}
}

// AssertResultCode verifies that the output ends with the expected result code.
func AssertResultCode(t *testing.T, output, expectedCode string) {
	t.Helper()
	lines := strings.Split(strings.TrimSpace(output), "\n")
	if len(lines) == 0 {
		t.Errorf("expected result code %q but output is empty", expectedCode)
		return
	}
	lastLine := strings.TrimSpace(lines[len(lines)-1])
	if lastLine != expectedCode {
		t.Errorf("expected result code %q, got %q\nFull output:\n%s", expectedCode, lastLine, output)
	}
}

// Result code constants for convenience.
const (
	ResultActionCompleted = cmd.ResultActionCompleted
	ResultInfoOnly        = cmd.ResultInfoOnly
	ResultError           = cmd.ResultError
)
