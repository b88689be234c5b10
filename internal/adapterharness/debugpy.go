package adapterharness

import (
	"context"
	"fmt"
	"os"
	"os/exec"

	"go.uber.org/zap"
)

// DebugPyServer wraps a debugpy adapter child process listening on a
// TCP port: a plain "python -m debugpy" invocation rather than a
// library binding, since no Go binding exists for debugpy (it is
// itself a Python package).
type DebugPyServer struct {
	cmd    *exec.Cmd
	cancel context.CancelFunc
	log    *zap.Logger
}

// DebugPyConfig configures the spawned process.
type DebugPyConfig struct {
	// Port is the TCP port debugpy listens on for the DAP connection.
	Port int
	// Script is the Python program to run under the debugger.
	Script string
	// WorkingDir is the process's working directory.
	WorkingDir string
	// WaitForClient mirrors debugpy's --wait-for-client: the script
	// doesn't start running until a client attaches.
	WaitForClient bool
}

// StartDebugPy launches "python -m debugpy --listen <port> [--wait-for-client] <script>"
// and returns once the process has been started. Stop must be called to
// release it.
func StartDebugPy(cfg DebugPyConfig, log *zap.Logger) (*DebugPyServer, error) {
	if log == nil {
		log = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())

	args := []string{"-m", "debugpy", "--listen", fmt.Sprintf("%d", cfg.Port)}
	if cfg.WaitForClient {
		args = append(args, "--wait-for-client")
	}
	args = append(args, cfg.Script)

	cmd := exec.CommandContext(ctx, "python", args...)
	cmd.Dir = cfg.WorkingDir
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	if err := cmd.Start(); err != nil {
		cancel()
		return nil, fmt.Errorf("adapterharness: start debugpy: %w", err)
	}

	d := &DebugPyServer{cmd: cmd, cancel: cancel, log: log}
	d.log.Info("debugpy adapter started", zap.Int("port", cfg.Port), zap.String("script", cfg.Script))

	go func() {
		if err := cmd.Wait(); err != nil {
			d.log.Warn("debugpy process exited", zap.Error(err))
		}
	}()
	return d, nil
}

// Stop terminates the debugpy child process.
func (d *DebugPyServer) Stop() error {
	d.cancel()
	if d.cmd.Process == nil {
		return nil
	}
	if err := d.cmd.Process.Kill(); err != nil {
		return fmt.Errorf("adapterharness: kill debugpy: %w", err)
	}
	return nil
}
