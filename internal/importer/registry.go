package importer

import (
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// FileKind names a file format the importer can parse.
type FileKind string

const (
	KindDelimited   FileKind = "delimited"
	KindSpreadsheet FileKind = "spreadsheet"
)

// ErrUnsupportedKind is returned when no parser handles the requested kind.
var ErrUnsupportedKind = errors.New("unsupported file kind")

// kindAliases maps caller hints to kinds.
var kindAliases = map[string]FileKind{
	"delimited":   KindDelimited,
	"csv":         KindDelimited,
	"tsv":         KindDelimited,
	"txt":         KindDelimited,
	"text":        KindDelimited,
	"spreadsheet": KindSpreadsheet,
	"xlsx":        KindSpreadsheet,
	"excel":       KindSpreadsheet,
}

// DetectKind picks a file kind from a caller hint or, without one, from the
// file extension. Text extensions select the delimited parser; anything else
// is treated as a spreadsheet.
func DetectKind(name, hint string) (FileKind, error) {
	if hint = strings.ToLower(strings.TrimSpace(hint)); hint != "" {
		kind, ok := kindAliases[hint]
		if !ok {
			return "", fmt.Errorf("%w: %q", ErrUnsupportedKind, hint)
		}
		return kind, nil
	}

	switch strings.ToLower(filepath.Ext(name)) {
	case ".csv", ".tsv", ".txt":
		return KindDelimited, nil
	default:
		return KindSpreadsheet, nil
	}
}

// Registry maps file kinds to parsers.
type Registry struct {
	mu      sync.RWMutex
	parsers map[FileKind]Parser
}

// NewRegistry returns a registry with the delimited and spreadsheet parsers.
func NewRegistry() *Registry {
	r := &Registry{parsers: make(map[FileKind]Parser)}
	r.Register(KindDelimited, DelimitedParser{})
	r.Register(KindSpreadsheet, SpreadsheetParser{})
	return r
}

// Register adds a parser.
// Panics if the kind is already registered.
func (r *Registry) Register(kind FileKind, p Parser) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.parsers[kind]; exists {
		panic(fmt.Sprintf("parser already registered: %s", kind))
	}
	r.parsers[kind] = p
}

// Parser returns the parser for kind.
func (r *Registry) Parser(kind FileKind) (Parser, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.parsers[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedKind, kind)
	}
	return p, nil
}

// Kinds returns the registered kinds, sorted.
func (r *Registry) Kinds() []FileKind {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]FileKind, 0, len(r.parsers))
	for k := range r.parsers {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
