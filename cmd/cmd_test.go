// -- cmd/cmd_test.go --
package cmd

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/caliper-cli/api/schemas"
	"github.com/xkilldash9x/caliper-cli/internal/store"
)

// execute runs a fresh command tree with the given args and returns its
// stdout and error.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()

	root := NewRootCommand()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)

	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func writeScenario(t *testing.T, name, body string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestRootCommandWiring(t *testing.T) {
	root := NewRootCommand()

	var names []string
	for _, c := range root.Commands() {
		names = append(names, c.Name())
	}
	assert.Contains(t, names, "run")
	assert.Contains(t, names, "check")
	assert.Contains(t, names, "history")
	assert.Contains(t, names, "version")

	for _, flag := range []string{"config", "log-level", "log-format"} {
		assert.NotNil(t, root.PersistentFlags().Lookup(flag), flag)
	}
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Equal(t, Version+"\n", out)
}

func TestCheckAcceptsValidScenario(t *testing.T) {
	path := writeScenario(t, "smoke.yaml", `
name: smoke
url: https://example.com
budgets:
  LCP: 2500
steps:
  - type: navigate
    url: https://example.com/about
  - type: click
    selector: "#go"
`)

	out, err := execute(t, "check", path)
	require.NoError(t, err)
	assert.Contains(t, out, "ok: smoke (2 steps)")
}

func TestCheckRejectsUnknownStepType(t *testing.T) {
	path := writeScenario(t, "broken.yaml", `
name: broken
url: https://example.com
steps:
  - type: teleport
`)

	_, err := execute(t, "check", path)
	require.Error(t, err)

	var verr *schemas.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, err.Error(), `unknown step type "teleport"`)
}

func TestCheckRejectsUnresolvedVariable(t *testing.T) {
	path := writeScenario(t, "vars.yaml", `
name: vars
url: https://example.com
steps:
  - type: type
    selector: "#user"
    text: ${username}
`)

	_, err := execute(t, "check", path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unresolved variable")

	out, err := execute(t, "check", path, "--var", "username=alice")
	require.NoError(t, err)
	assert.Contains(t, out, "ok: vars (1 steps)")
}

func TestCheckResolvesRelativeURLAgainstBase(t *testing.T) {
	path := writeScenario(t, "relative.yaml", `
name: relative
url: /pricing
steps:
  - type: scroll
`)

	_, err := execute(t, "check", path)
	require.Error(t, err, "a relative url needs a base")

	out, err := execute(t, "check", path, "--base-url", "https://example.com")
	require.NoError(t, err)
	assert.Contains(t, out, "ok: relative")
}

func TestRunRequiresScenarioArgument(t *testing.T) {
	_, err := execute(t, "run")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "arg")
}

func TestHistoryRequiresDatabaseURL(t *testing.T) {
	t.Setenv("CALIPER_DB_URL", "")
	t.Setenv("CALIPER_STORE_DATABASE_URL", "")

	_, err := execute(t, "history")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "CALIPER_DB_URL")
}

func TestParseVars(t *testing.T) {
	t.Parallel()

	vars, err := parseVars([]string{"user=alice", "env=staging", "empty="})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"user": "alice", "env": "staging", "empty": ""}, vars)

	vars, err = parseVars(nil)
	require.NoError(t, err)
	assert.Nil(t, vars)

	_, err = parseVars([]string{"novalue"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "name=value")

	_, err = parseVars([]string{"=value"})
	require.Error(t, err)
}

func TestShortID(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "8a9d2c31", shortID("8a9d2c31-55e2-4f0a-9a63-1f2f6f3c0a11"))
	assert.Equal(t, "tiny", shortID("tiny"))
}

func TestDescribeVCS(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "-", describeVCS(store.RunRow{}))
	assert.Equal(t, "main@aaaaaaaaaa",
		describeVCS(store.RunRow{Commit: strings.Repeat("a", 40), Branch: "main"}))
	assert.Equal(t, "main@aaaaaaaaaa*",
		describeVCS(store.RunRow{Commit: strings.Repeat("a", 40), Branch: "main", Dirty: true}))
	assert.Equal(t, "bbbbbbbbbb",
		describeVCS(store.RunRow{Commit: strings.Repeat("b", 40)}))
}

func TestConfigFromContextMissing(t *testing.T) {
	t.Parallel()

	_, err := configFromContext(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "configuration missing")
}
