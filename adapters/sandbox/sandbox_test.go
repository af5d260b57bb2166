package sandbox

import (
	"context"
	"io"
	"os"
	"os/exec"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/layer-3/prover/core"
	"github.com/layer-3/prover/ports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func launchShell(t *testing.T, script string) *execution {
	t.Helper()
	s := &ProcessSandbox{}
	exe, err := s.Launch(context.Background(), core.LaunchSpec{
		Name:    "test",
		Command: []string{"/bin/sh", "-c", script},
	})
	require.NoError(t, err)
	return exe.(*execution)
}

func waitDone(t *testing.T, e *execution) {
	t.Helper()
	select {
	case <-e.Done():
	case <-time.After(10 * time.Second):
		t.Fatal("process did not exit")
	}
}

func TestProcessSandboxEcho(t *testing.T) {
	e := launchShell(t, "cat")
	_, err := io.WriteString(e.Stdin(), `{"ok":true}`)
	require.NoError(t, err)
	require.NoError(t, e.Stdin().Close())

	waitDone(t, e)
	result := e.Result()
	assert.Equal(t, 0, result.ExitCode)
	assert.Equal(t, `{"ok":true}`, string(result.Stdout))
	require.NoError(t, e.Terminate(context.Background()))
}

func TestProcessSandboxExitCode(t *testing.T) {
	e := launchShell(t, "echo failing >&2; exit 3")
	e.Stdin().Close()

	waitDone(t, e)
	result := e.Result()
	assert.Equal(t, 3, result.ExitCode)
	assert.Equal(t, "failing\n", string(result.Stderr))
	assert.NoError(t, result.Err)
}

func TestProcessSandboxTerminateKillsGroup(t *testing.T) {
	e := launchShell(t, "sleep 30 & sleep 30; wait")
	pid := e.cmd.Process.Pid

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, e.Terminate(ctx))

	select {
	case <-e.Done():
	default:
		t.Fatal("terminate returned before the process was reaped")
	}

	// The whole process group is gone once orphans are reaped.
	assert.Eventually(t, func() bool {
		return syscall.Kill(-pid, 0) == syscall.ESRCH
	}, 5*time.Second, 50*time.Millisecond)

	// Terminate is idempotent.
	require.NoError(t, e.Terminate(ctx))
}

func TestProcessSandboxScratchDirRemoved(t *testing.T) {
	e := launchShell(t, "pwd")
	e.Stdin().Close()
	waitDone(t, e)

	dir := strings.TrimSpace(string(e.Result().Stdout))
	require.NotEmpty(t, dir)
	require.NoError(t, e.Terminate(context.Background()))

	_, err := os.Stat(dir)
	assert.True(t, os.IsNotExist(err))
}

func TestProcessSandboxEnvironmentIsMinimal(t *testing.T) {
	t.Setenv("PROVER_SECRET_FOR_TEST", "leak")
	s := &ProcessSandbox{}
	exe, err := s.Launch(context.Background(), core.LaunchSpec{
		Name:    "env",
		Command: []string{"/bin/sh", "-c", "env"},
		Env:     map[string]string{"WORKLOAD_MODE": "fast"},
	})
	require.NoError(t, err)
	exe.Stdin().Close()
	<-exe.Done()

	out := string(exe.Result().Stdout)
	assert.NotContains(t, out, "PROVER_SECRET_FOR_TEST")
	assert.Contains(t, out, "WORKLOAD_MODE=fast")
	require.NoError(t, exe.Terminate(context.Background()))
}

func TestProcessSandboxLaunchFailure(t *testing.T) {
	s := &ProcessSandbox{}
	_, err := s.Launch(context.Background(), core.LaunchSpec{
		Name:    "missing",
		Command: []string{"/nonexistent/workload"},
	})
	assert.Error(t, err)
}

func TestCappedBuffer(t *testing.T) {
	b := newCappedBuffer(4)
	n, err := b.Write([]byte("abc"))
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	n, err = b.Write([]byte("defg"))
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	assert.Equal(t, "abcd", string(b.Bytes()))
	assert.True(t, b.Truncated())
}

func TestProcessSandboxStdoutLimit(t *testing.T) {
	s := &ProcessSandbox{MaxStdout: 4}
	exe, err := s.Launch(context.Background(), core.LaunchSpec{
		Name:    "test",
		Command: []string{"/bin/sh", "-c", `printf '{"ok":true}'`},
	})
	require.NoError(t, err)
	e := exe.(*execution)
	require.NoError(t, e.Stdin().Close())
	defer e.Terminate(context.Background())

	waitDone(t, e)
	result := e.Result()
	assert.Equal(t, 0, result.ExitCode)
	assert.True(t, result.Truncated)
	assert.Equal(t, `{"ok`, string(result.Stdout))
}

func TestClassifyRuntimeExit(t *testing.T) {
	tests := []struct {
		name       string
		exitCode   int
		wantLaunch bool
	}{
		{"success", 0, false},
		{"workload failure", 1, false},
		{"runtime failure", 125, true},
		{"command not executable", 126, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := ports.ExecutionResult{ExitCode: tt.exitCode, Stderr: []byte("Error: image not known\n")}
			classifyRuntimeExit(&result)
			if tt.wantLaunch {
				assert.ErrorIs(t, result.Err, core.ErrLaunchFailed)
				assert.Contains(t, result.Err.Error(), "image not known")
			} else {
				assert.NoError(t, result.Err)
			}
		})
	}
}

func TestContainerArgs(t *testing.T) {
	s := &ContainerSandbox{Runtime: "docker"}
	args := s.Args(core.LaunchSpec{
		Name:   "prover-1",
		Image:  "docker.io/library/alpine:3",
		Env:    map[string]string{"B": "2", "A": "1"},
		Limits: core.ResourceLimits{MemoryMB: 512, CPUs: 1.5, PidsLimit: 64},
	})
	joined := strings.Join(args, " ")

	assert.Equal(t, []string{"run", "--rm", "-i", "--name", "prover-1"}, args[:5])
	assert.Contains(t, joined, "--network=none")
	assert.Contains(t, joined, "--read-only")
	assert.Contains(t, joined, "--cap-drop=ALL")
	assert.Contains(t, joined, "--memory=512m")
	assert.Contains(t, joined, "--cpus=1.5")
	assert.Contains(t, joined, "--pids-limit=64")
	assert.Contains(t, joined, "-e A=1 -e B=2")
	assert.Equal(t, "docker.io/library/alpine:3", args[len(args)-1])
}

func TestBwrapArgs(t *testing.T) {
	s := &BwrapSandbox{ReadOnlyBinds: []string{"/opt/workload"}}
	args := s.Args(core.LaunchSpec{Command: []string{"/opt/workload/run"}})
	joined := strings.Join(args, " ")

	assert.Contains(t, joined, "--unshare-all")
	assert.Contains(t, joined, "--die-with-parent")
	assert.Contains(t, joined, "--clearenv")
	assert.Contains(t, joined, "--ro-bind /opt/workload /opt/workload")
	assert.Equal(t, []string{"--", "/opt/workload/run"}, args[len(args)-2:])
}

func TestBwrapSandboxEcho(t *testing.T) {
	if _, err := exec.LookPath("bwrap"); err != nil {
		t.Skip("bwrap not available")
	}
	if err := exec.Command("bwrap", "--unshare-all", "--ro-bind", "/", "/", "true").Run(); err != nil {
		t.Skipf("bwrap cannot create namespaces here: %v", err)
	}

	s := &BwrapSandbox{}
	exe, err := s.Launch(context.Background(), core.LaunchSpec{
		Name:    "bwrap-echo",
		Command: []string{"/bin/sh", "-c", "cat"},
	})
	require.NoError(t, err)
	io.WriteString(exe.Stdin(), "hello")
	exe.Stdin().Close()
	<-exe.Done()

	assert.Equal(t, 0, exe.Result().ExitCode)
	assert.Equal(t, "hello", string(exe.Result().Stdout))
	require.NoError(t, exe.Terminate(context.Background()))
}

func TestContainerSandboxEcho(t *testing.T) {
	runtime := os.Getenv("PROVER_TEST_CONTAINER_RUNTIME")
	if runtime == "" {
		t.Skip("PROVER_TEST_CONTAINER_RUNTIME not set")
	}

	s := &ContainerSandbox{Runtime: runtime}
	exe, err := s.Launch(context.Background(), core.LaunchSpec{
		Name:    "prover-test-echo",
		Image:   "docker.io/library/busybox:latest",
		Command: []string{"cat"},
	})
	require.NoError(t, err)
	io.WriteString(exe.Stdin(), `{"ok":true}`)
	exe.Stdin().Close()
	<-exe.Done()

	assert.Equal(t, `{"ok":true}`, string(exe.Result().Stdout))
	require.NoError(t, exe.Terminate(context.Background()))
}
