package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dan-strohschein/qpipe/client"
	"github.com/dan-strohschein/qpipe/testutil"
)

// runCLI executes the root command with args and stdin, returning stdout.
func runCLI(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	colorsEnabled = false

	root := newRootCommand()
	root.AddCommand(newExecCommand(), newVersionCommand())

	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetIn(strings.NewReader(stdin))
	root.SetArgs(args)

	err := root.Execute()
	return out.String(), err
}

func TestVersionCommand(t *testing.T) {
	out, err := runCLI(t, "", "version")
	require.NoError(t, err)
	assert.Equal(t, "qpipe "+client.Version+"\n", out)
}

func TestExec_SingleCommand(t *testing.T) {
	srv := testutil.NewServer(t)

	out, err := runCLI(t, "", "exec", "--addr", srv.Addr(), "PING")
	require.NoError(t, err)
	assert.Contains(t, out, "1) PONG")
	assert.Contains(t, out, "1 commands executed (pipeline)")
}

func TestExec_PipelineFromStdin(t *testing.T) {
	srv := testutil.NewServer(t)

	out, err := runCLI(t, "SET k v\nGET k\nINCR n\n", "exec", "--addr", srv.Addr())
	require.NoError(t, err)
	assert.Contains(t, out, "1) OK")
	assert.Contains(t, out, `2) "v"`)
	assert.Contains(t, out, "3) (integer) 1")
}

func TestExec_TransactionFromFile(t *testing.T) {
	srv := testutil.NewServer(t)

	path := filepath.Join(t.TempDir(), "batch.txt")
	require.NoError(t, os.WriteFile(path, []byte("# transfer\nSET a 10\nINCRBY a 5\n"), 0o600))

	for _, piped := range []bool{false, true} {
		args := []string{"exec", "--addr", srv.Addr(), "--multi", "-f", path}
		if piped {
			args = append(args, "--piped")
		}

		out, err := runCLI(t, "", args...)
		require.NoError(t, err)
		assert.Contains(t, out, "2) (integer) 15")
		assert.Contains(t, out, "(transaction)")
	}

	assert.Equal(t, 2, srv.CallCount("EXEC"))
	value, ok := srv.Get("a")
	assert.True(t, ok)
	assert.Equal(t, "15", value)
}

func TestExec_Errors(t *testing.T) {
	srv := testutil.NewServer(t)

	_, err := runCLI(t, "", "exec", "--addr", srv.Addr())
	assert.EqualError(t, err, "no commands to execute")

	_, err = runCLI(t, "", "exec", "--addr", srv.Addr(), "--watch", "k", "GET", "k")
	assert.EqualError(t, err, "--watch requires --multi")

	_, err = runCLI(t, "SET k 'x\n", "exec", "--addr", srv.Addr())
	assert.ErrorContains(t, err, "cannot split")
}
