// Package adapterharness spins up a real debug adapter process for
// local testing and the example CLI's -harness flag. It is not part of
// the importable library surface: the core itself never spawns an
// adapter, it only ever consumes a ready endpoint.
package adapterharness

import (
	"fmt"
	"net"

	"github.com/go-delve/delve/service"
	"github.com/go-delve/delve/service/debugger"
	"github.com/go-delve/delve/service/rpccommon"
	"go.uber.org/zap"
)

// DelveServer wraps a headless delve server listening for DAP frames,
// built directly from github.com/go-delve/delve's service packages
// rather than shelling out to the dlv binary, so the harness works
// without dlv on PATH.
type DelveServer struct {
	listener net.Listener
	server   *rpccommon.Server
	log      *zap.Logger
}

// DelveConfig configures the spawned server.
type DelveConfig struct {
	// Addr is the host:port to listen on, e.g. "127.0.0.1:2345".
	Addr string
	// Binary is the already-built program to debug.
	Binary string
	// WorkingDir is the debuggee's working directory.
	WorkingDir string
}

// StartDelve starts a headless delve server in the background. Stop
// must be called to release the listener and debugged process.
func StartDelve(cfg DelveConfig, log *zap.Logger) (*DelveServer, error) {
	if log == nil {
		log = zap.NewNop()
	}
	l, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		return nil, fmt.Errorf("adapterharness: listen on %s: %w", cfg.Addr, err)
	}

	debuggerConfig := debugger.Config{
		WorkingDir:     cfg.WorkingDir,
		Backend:        "default",
		Foreground:     false,
		CheckGoVersion: true,
	}

	srv := rpccommon.NewServer(&service.Config{
		Listener:    l,
		Debugger:    debuggerConfig,
		AcceptMulti: true,
		APIVersion:  2,
		ProcessArgs: []string{cfg.Binary},
	})

	d := &DelveServer{listener: l, server: srv, log: log}

	go func() {
		if err := srv.Run(); err != nil {
			d.log.Error("delve server exited", zap.Error(err))
		}
	}()
	d.log.Info("delve headless server started", zap.String("addr", cfg.Addr), zap.String("binary", cfg.Binary))
	return d, nil
}

// Addr returns the listener's bound address.
func (d *DelveServer) Addr() net.Addr { return d.listener.Addr() }

// Stop shuts the server and its listener down.
func (d *DelveServer) Stop() error {
	if err := d.server.Stop(); err != nil {
		return fmt.Errorf("adapterharness: stop delve server: %w", err)
	}
	return d.listener.Close()
}
