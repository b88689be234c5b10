// Package persistence snapshots and restores a session's breakpoint
// list across process restarts. Nothing else about a session survives
// a restart: state, threads and stack frames are meaningless once the
// adapter connection is gone.
package persistence

import (
	"fmt"
	"io"
	"os"

	json "github.com/segmentio/encoding/json"

	"github.com/google/uuid"
)

// Breakpoint is one persisted line breakpoint.
type Breakpoint struct {
	ID   string `json:"id,omitempty"`
	Path string `json:"path"`
	Line int    `json:"line"`
	Name string `json:"name,omitempty"`
}

// Persistence is the top-level document written to disk.
type Persistence struct {
	Breakpoints []Breakpoint `json:"breakpoints"`
}

// New returns an empty Persistence document.
func New() *Persistence {
	return &Persistence{}
}

// Add appends a breakpoint, minting an ID if one wasn't supplied so the
// facade can track it across an unverified-to-verified transition
// before the adapter assigns anything of its own.
func (p *Persistence) Add(path string, line int, name string) Breakpoint {
	bp := Breakpoint{ID: uuid.NewString(), Path: path, Line: line, Name: name}
	p.Breakpoints = append(p.Breakpoints, bp)
	return bp
}

// Save writes the document as JSON.
func (p *Persistence) Save(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(p); err != nil {
		return fmt.Errorf("dapcore/persistence: save: %w", err)
	}
	return nil
}

// Load reads a document previously written by Save.
func Load(r io.Reader) (*Persistence, error) {
	var p Persistence
	if err := json.NewDecoder(r).Decode(&p); err != nil {
		return nil, fmt.Errorf("dapcore/persistence: load: %w", err)
	}
	return &p, nil
}

// SaveToFile writes the document to path, creating or truncating it.
func (p *Persistence) SaveToFile(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("dapcore/persistence: create %s: %w", path, err)
	}
	defer f.Close()
	return p.Save(f)
}

// LoadFromFile reads a document from path.
func LoadFromFile(path string) (*Persistence, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("dapcore/persistence: open %s: %w", path, err)
	}
	defer f.Close()
	return Load(f)
}
