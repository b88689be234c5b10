// Command dapclient connects to a debug adapter, runs the initialize /
// launch / configurationDone handshake, sets any requested breakpoints,
// and prints events as they arrive. It is a thin demonstration of
// pkg/debugger, not a full debugger UI.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"dapcore/internal/adapterharness"
	"dapcore/pkg/debugger"
	"dapcore/pkg/transport"
)

func main() {
	var (
		lang        string
		addr        string
		program     string
		breakpoints string
		harness     bool
		stopOnEntry bool
	)
	flag.StringVar(&lang, "lang", "debugpy", "adapter language: debugpy or delve")
	flag.StringVar(&addr, "addr", "127.0.0.1:2345", "adapter TCP address")
	flag.StringVar(&program, "program", "", "program or script to launch")
	flag.StringVar(&breakpoints, "breakpoints", "", "comma-separated path:line breakpoints, e.g. main.go:10,main.go:20")
	flag.BoolVar(&harness, "harness", false, "spawn a local adapter for -program instead of connecting to one already running")
	flag.BoolVar(&stopOnEntry, "stop-on-entry", false, "stop at the program's entry point")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "dapclient drives a debug adapter over the Debug Adapter Protocol.\n\n")
		fmt.Fprintf(flag.CommandLine.Output(), "Usage: %s [options]\n\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	zapLog, err := zap.NewDevelopment()
	if err != nil {
		log.Fatalf("build logger: %v", err)
	}
	defer zapLog.Sync()

	language, err := debugger.ParseLanguage(lang)
	if err != nil {
		zapLog.Fatal("bad language", zap.Error(err))
	}

	if program == "" {
		zapLog.Fatal("-program is required")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		zapLog.Info("received shutdown signal")
		cancel()
	}()

	if harness {
		stop, err := startHarness(language, addr, program, zapLog)
		if err != nil {
			zapLog.Fatal("start local adapter", zap.Error(err))
		}
		defer stop()
		time.Sleep(500 * time.Millisecond)
	}

	dialCtx, dialCancel := context.WithTimeout(ctx, 10*time.Second)
	t, err := transport.DialTCP(dialCtx, addr)
	dialCancel()
	if err != nil {
		zapLog.Fatal("dial adapter", zap.String("addr", addr), zap.Error(err))
	}

	d := debugger.New(ctx, t, zapLog)
	defer d.Close(context.Background())

	events, unsub := d.Subscribe()
	defer unsub()
	go printEvents(events)

	if _, err := d.Initialize(ctx, "dapcore-client"); err != nil {
		zapLog.Fatal("initialize", zap.Error(err))
	}

	if err := d.Launch(ctx, language, debugger.LaunchArguments{
		Program:     program,
		StopOnEntry: stopOnEntry,
		JustMyCode:  true,
	}); err != nil {
		zapLog.Fatal("launch", zap.Error(err))
	}

	for path, lines := range parseBreakpoints(breakpoints) {
		if _, err := d.SetBreakpoints(ctx, path, lines, nil); err != nil {
			zapLog.Error("set breakpoints", zap.String("path", path), zap.Error(err))
		}
	}

	if err := d.ConfigurationDone(ctx); err != nil {
		zapLog.Fatal("configurationDone", zap.Error(err))
	}

	<-ctx.Done()
	zapLog.Info("shutting down")
}

func startHarness(lang debugger.Language, addr, program string, log *zap.Logger) (func(), error) {
	host, portStr, err := splitAddr(addr)
	if err != nil {
		return nil, err
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return nil, fmt.Errorf("bad port in %q: %w", addr, err)
	}

	switch lang {
	case debugger.Delve:
		srv, err := adapterharness.StartDelve(adapterharness.DelveConfig{
			Addr:   addr,
			Binary: program,
		}, log)
		if err != nil {
			return nil, err
		}
		return func() { _ = srv.Stop() }, nil
	case debugger.DebugPy:
		srv, err := adapterharness.StartDebugPy(adapterharness.DebugPyConfig{
			Port:          port,
			Script:        program,
			WaitForClient: true,
		}, log)
		if err != nil {
			return nil, err
		}
		_ = host
		return func() { _ = srv.Stop() }, nil
	default:
		return nil, fmt.Errorf("no local harness for language %v", lang)
	}
}

func splitAddr(addr string) (host, port string, err error) {
	i := strings.LastIndex(addr, ":")
	if i < 0 {
		return "", "", fmt.Errorf("address %q missing port", addr)
	}
	return addr[:i], addr[i+1:], nil
}

// parseBreakpoints turns "a.py:3,a.py:10,b.py:5" into {"a.py":[3,10],"b.py":[5]}.
func parseBreakpoints(spec string) map[string][]int {
	out := make(map[string][]int)
	if spec == "" {
		return out
	}
	for _, entry := range strings.Split(spec, ",") {
		parts := strings.SplitN(entry, ":", 2)
		if len(parts) != 2 {
			continue
		}
		line, err := strconv.Atoi(parts[1])
		if err != nil {
			continue
		}
		out[parts[0]] = append(out[parts[0]], line)
	}
	return out
}

func printEvents(events <-chan debugger.Event) {
	for ev := range events {
		switch ev.Kind {
		case debugger.EventPaused:
			if len(ev.Stack) > 0 {
				top := ev.Stack[0]
				fmt.Printf("paused at %s:%d (%s)\n", top.Source.Path, top.Line, top.Name)
			} else {
				fmt.Println("paused")
			}
		case debugger.EventRunning:
			fmt.Println("running")
		case debugger.EventEnded:
			fmt.Println("session ended")
		case debugger.EventOutput:
			fmt.Printf("[%s] %s", ev.Output.Category, ev.Output.Text)
		case debugger.EventInitialised:
			fmt.Println("adapter initialised")
		}
	}
}
