package cli

import (
	"bytes"
	"io"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// captureStdout runs fn with os.Stdout redirected and returns what it printed
func captureStdout(t *testing.T, fn func() error) (string, error) {
	t.Helper()

	oldStdout := os.Stdout
	r, w, err := os.Pipe()
	require.NoError(t, err)
	os.Stdout = w

	runErr := fn()

	w.Close()
	os.Stdout = oldStdout

	var buf bytes.Buffer
	_, err = io.Copy(&buf, r)
	require.NoError(t, err)
	return buf.String(), runErr
}

func TestNewRootCommand(t *testing.T) {
	root := NewRootCommand()

	assert.Equal(t, "crew", root.Name)
	assert.NotEmpty(t, root.Description)
	assert.NotNil(t, root.Subcommands)
	assert.NotNil(t, root.Flags)

	expectedCommands := []string{
		"catalog",
		"effective",
		"check",
		"can-manage",
		"can-assign",
		"role-permissions",
		"templates",
		"migrate",
		"issue-token",
	}

	for _, cmdName := range expectedCommands {
		assert.Contains(t, root.Subcommands, cmdName, "Expected subcommand %s to be registered", cmdName)
		assert.NotNil(t, root.Subcommands[cmdName].Run, "Expected subcommand %s to be runnable", cmdName)
	}
	assert.Equal(t, len(expectedCommands), len(root.Subcommands))
}

func TestCommandUsage(t *testing.T) {
	root := NewRootCommand()

	output, err := captureStdout(t, root.usage)
	require.NoError(t, err)

	assert.Contains(t, output, "Usage: crew <command> [args]")
	assert.Contains(t, output, "Commands:")
	for name := range root.Subcommands {
		assert.Contains(t, output, name)
	}
	// sorted listing
	assert.Less(t, strings.Index(output, "can-assign"), strings.Index(output, "migrate"))
}

func TestCommandExecute(t *testing.T) {
	root := NewRootCommand()

	t.Run("no args prints usage", func(t *testing.T) {
		output, err := captureStdout(t, func() error { return root.execute(nil) })
		require.NoError(t, err)
		assert.Contains(t, output, "Usage:")
	})

	t.Run("help flag", func(t *testing.T) {
		for _, flag := range []string{"-h", "--help"} {
			output, err := captureStdout(t, func() error { return root.execute([]string{flag}) })
			require.NoError(t, err)
			assert.Contains(t, output, "Usage:")
		}
	})

	t.Run("unknown command", func(t *testing.T) {
		err := root.execute([]string{"bogus"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unknown command: bogus")
	})

	t.Run("dispatches to subcommand", func(t *testing.T) {
		output, err := captureStdout(t, func() error { return root.execute([]string{"catalog"}) })
		require.NoError(t, err)
		assert.Contains(t, output, "members.manage")
	})

	t.Run("reads process arguments", func(t *testing.T) {
		oldArgs := os.Args
		defer func() { os.Args = oldArgs }()
		os.Args = []string{"crew", "catalog"}

		output, err := captureStdout(t, root.Execute)
		require.NoError(t, err)
		assert.Contains(t, output, "tickets.create")
	})
}
