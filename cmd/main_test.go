package cmd

import (
	"bytes"
	"context"
	"os"
	"testing"

	"github.com/spf13/cobra"
	"github.com/xkilldash9x/autopilot/internal/config"
	"github.com/xkilldash9x/autopilot/internal/observability"
	"go.uber.org/zap/zapcore"
)

func TestMain(m *testing.M) {
	observability.Initialize(config.LoggerConfig{Level: "fatal", Format: "console", ServiceName: "test"}, zapcore.AddSync(os.Stderr))
	code := m.Run()
	observability.ResetForTest()
	os.Exit(code)
}

// executeCommand runs root with args and returns the combined output.
func executeCommand(t *testing.T, root *cobra.Command, args ...string) (string, error) {
	t.Helper()
	buf := new(bytes.Buffer)
	root.SetOut(buf)
	root.SetErr(buf)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return buf.String(), err
}

// newTestRoot builds a command tree with the run command wired to factory
// and the cache commands wired to provider.
func newTestRoot(factory componentFactory, provider repositoryProvider) *cobra.Command {
	root := NewRootCommand()
	for _, c := range root.Commands() {
		root.RemoveCommand(c)
	}
	root.AddCommand(newRunCmd(factory), newCacheCmd(provider))
	return root
}

// isolate keeps config discovery away from the developer's files.
func isolate(t *testing.T) {
	t.Helper()
	t.Chdir(t.TempDir())
	t.Setenv("HOME", t.TempDir())
}
