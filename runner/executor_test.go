package runner

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/ethereum-optimism/optimism/op-service/testlog"
	"github.com/ethereum/go-ethereum/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethereum-optimism/infra/op-testbridge/testlist"
	"github.com/ethereum-optimism/infra/op-testbridge/types"
)

// fakeGoBinary writes a script standing in for the go tool
func fakeGoBinary(t *testing.T, body string) string {
	if runtime.GOOS == "windows" {
		t.Skip("shell scripts are not supported on windows")
	}
	path := filepath.Join(t.TempDir(), "go")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0755))
	return path
}

func TestExecutor_BuildTestArgs(t *testing.T) {
	e := &Executor{Timeout: time.Minute}
	assert.Equal(t,
		[]string{"test", "-json", "-count", "1", "-timeout", "1m0s", "-run", "^TestA$", "example.com/pkg"},
		e.buildTestArgs(testlist.Entry{Package: "example.com/pkg", Test: "TestA"}))

	e = &Executor{}
	assert.Equal(t,
		[]string{"test", "-json", "-count", "1", "./pkg"},
		e.buildTestArgs(testlist.Entry{Package: "./pkg"}))
}

func TestExecutor_StreamsStdout(t *testing.T) {
	script := `echo "$@" >&2
echo '{"Action":"run","Package":"example.com/pkg","Test":"TestA"}'
echo '{"Action":"fail","Package":"example.com/pkg","Test":"TestA"}'
exit 1
`
	e := &Executor{
		GoBinary: fakeGoBinary(t, script),
		WorkDir:  t.TempDir(),
		Log:      testlog.Logger(t, log.LevelDebug),
	}
	rec := &types.Recorder{}
	tr := NewTranslator(rec, testlog.Logger(t, log.LevelDebug))

	err := e.Execute(context.Background(), testlist.Entry{Package: "example.com/pkg"}, tr.Consume)
	require.NoError(t, err, "exit code 1 means failing tests")
	assert.Equal(t, []types.ResultType{types.TestStarted, types.TestFailure, types.TestFinished}, rec.Types())
}

func TestExecutor_AbnormalExit(t *testing.T) {
	e := &Executor{
		GoBinary: fakeGoBinary(t, "echo 'flag provided but not defined' >&2\nexit 2\n"),
		Log:      testlog.Logger(t, log.LevelDebug),
	}
	err := e.Execute(context.Background(), testlist.Entry{Package: "example.com/pkg"}, func(r io.Reader) error {
		_, err := io.Copy(io.Discard, r)
		return err
	})

	var execErr *ExecError
	require.ErrorAs(t, err, &execErr)
	assert.Equal(t, 2, execErr.ExitCode)
	assert.Contains(t, execErr.Stderr, "flag provided but not defined")
	assert.Contains(t, err.Error(), "stderr:")
}

func TestExecutor_MissingBinary(t *testing.T) {
	e := &Executor{GoBinary: filepath.Join(t.TempDir(), "does-not-exist")}
	err := e.Execute(context.Background(), testlist.Entry{Package: "example.com/pkg"}, func(io.Reader) error { return nil })

	var execErr *ExecError
	require.ErrorAs(t, err, &execErr)
	assert.ErrorContains(t, err, "failed to start")
}

func TestExecutor_EmptyPackage(t *testing.T) {
	e := &Executor{}
	require.Error(t, e.Execute(context.Background(), testlist.Entry{}, nil))
}

func TestTailBuffer(t *testing.T) {
	b := newTailBuffer(4)
	_, _ = b.Write([]byte("ab"))
	assert.False(t, b.Truncated())
	_, _ = b.Write([]byte("cdef"))
	assert.Equal(t, "cdef", b.String())
	assert.True(t, b.Truncated())
}
