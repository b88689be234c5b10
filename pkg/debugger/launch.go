package debugger

import (
	"fmt"
	"path/filepath"

	json "github.com/segmentio/encoding/json"

	"dapcore/pkg/pathutil"
)

// Language selects how LaunchArguments/AttachArguments are shaped into
// an adapter-specific request body.
type Language int

const (
	DebugPy Language = iota
	Delve
)

func (l Language) String() string {
	switch l {
	case DebugPy:
		return "debugpy"
	case Delve:
		return "delve"
	default:
		return "unknown"
	}
}

// ParseLanguage accepts the lowercase adapter names used on the command
// line.
func ParseLanguage(s string) (Language, error) {
	switch s {
	case "debugpy":
		return DebugPy, nil
	case "delve":
		return Delve, nil
	default:
		return 0, fmt.Errorf("dapcore/debugger: unknown language %q", s)
	}
}

// LaunchArguments is the semantic, language-independent shape a caller
// supplies; buildLaunchBody translates it into the wire body the chosen
// adapter expects.
type LaunchArguments struct {
	Program     string
	Cwd         string
	StopOnEntry bool
	JustMyCode  bool
}

// AttachArguments describes connecting to an already-running program
// rather than launching one.
type AttachArguments struct {
	Host             string
	Port             int
	WorkingDirectory string
	JustMyCode       bool
}

const defaultDAPPort = 5678

func buildLaunchBody(lang Language, args LaunchArguments) (json.RawMessage, error) {
	program, err := pathutil.Normalise(args.Program)
	if err != nil {
		return nil, fmt.Errorf("dapcore/debugger: normalise program path: %w", err)
	}
	cwd := args.Cwd
	if cwd == "" {
		cwd = filepath.Dir(program)
	} else if cwd, err = pathutil.Normalise(cwd); err != nil {
		return nil, fmt.Errorf("dapcore/debugger: normalise cwd: %w", err)
	}

	switch lang {
	case DebugPy:
		return json.Marshal(struct {
			Program            string   `json:"program"`
			Cwd                string   `json:"cwd"`
			JustMyCode         bool     `json:"justMyCode"`
			ShowReturnValue    bool     `json:"showReturnValue"`
			StopOnEntry        bool     `json:"stopOnEntry"`
			DebugOptions       []string `json:"debugOptions"`
			IsOutputRedirected bool     `json:"isOutputRedirected"`
		}{
			Program:         program,
			Cwd:             cwd,
			JustMyCode:      args.JustMyCode,
			ShowReturnValue: true,
			StopOnEntry:     args.StopOnEntry,
			DebugOptions:    []string{"DebugStdLib", "ShowReturnValue"},
		})
	case Delve:
		return json.Marshal(struct {
			Program     string `json:"program"`
			Mode        string `json:"mode"`
			Cwd         string `json:"cwd"`
			StopOnEntry bool   `json:"stopOnEntry"`
		}{
			Program:     program,
			Mode:        "debug",
			Cwd:         cwd,
			StopOnEntry: args.StopOnEntry,
		})
	default:
		return nil, fmt.Errorf("dapcore/debugger: unsupported language %v", lang)
	}
}

func buildAttachBody(lang Language, args AttachArguments) (json.RawMessage, error) {
	host := args.Host
	if host == "" {
		host = "localhost"
	}
	port := args.Port
	if port == 0 {
		port = defaultDAPPort
	}
	workdir := args.WorkingDirectory
	if workdir != "" {
		var err error
		if workdir, err = pathutil.Normalise(workdir); err != nil {
			return nil, fmt.Errorf("dapcore/debugger: normalise working directory: %w", err)
		}
	}

	switch lang {
	case DebugPy:
		return json.Marshal(struct {
			Connect          struct {
				Host string `json:"host"`
				Port int    `json:"port"`
			} `json:"connect"`
			PathMappings    []struct{} `json:"pathMappings"`
			JustMyCode      bool       `json:"justMyCode"`
			WorkspaceFolder string     `json:"workspaceFolder"`
		}{
			Connect: struct {
				Host string `json:"host"`
				Port int    `json:"port"`
			}{Host: host, Port: port},
			PathMappings:    []struct{}{},
			JustMyCode:      args.JustMyCode,
			WorkspaceFolder: workdir,
		})
	case Delve:
		return json.Marshal(struct {
			Mode string `json:"mode"`
			Host string `json:"host"`
			Port int    `json:"port"`
		}{Mode: "remote", Host: host, Port: port})
	default:
		return nil, fmt.Errorf("dapcore/debugger: unsupported language %v", lang)
	}
}
