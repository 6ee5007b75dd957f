// Package output writes classweave reports and listings to files.
package output

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"classweave/internal/bytecode"
	"classweave/internal/classfile"
	"classweave/internal/weave"
)

// WriteReportJSON writes a weave report to report.json.
func WriteReportJSON(dir string, rep *weave.Report) error {
	return writeJSON(filepath.Join(dir, "report.json"), rep)
}

// SiteRecord is one line of sites.jsonl.
type SiteRecord struct {
	Class   string `json:"class"`
	Method  string `json:"method"`
	PC      int    `json:"pc"`
	Action  string `json:"action"`
	Call    string `json:"call"`
	Guarded bool   `json:"guarded,omitempty"`
}

// SiteRecords flattens the call sites of a report, in class order.
func SiteRecords(rep *weave.Report) []SiteRecord {
	var out []SiteRecord
	for _, o := range rep.Outcomes {
		for _, s := range o.Sites {
			out = append(out, SiteRecord{
				Class:   o.Class,
				Method:  s.Method,
				PC:      s.PC,
				Action:  s.Action.String(),
				Call:    s.Call,
				Guarded: s.Guarded,
			})
		}
	}
	return out
}

// WriteJSONL writes one JSON document per line.
func WriteJSONL[T any](w io.Writer, records []T) error {
	enc := json.NewEncoder(w)
	for _, r := range records {
		if err := enc.Encode(r); err != nil {
			return fmt.Errorf("output: encode: %w", err)
		}
	}
	return nil
}

// WriteSitesJSONL writes the report's call sites to sites.jsonl.
func WriteSitesJSONL(dir string, rep *weave.Report) error {
	path := filepath.Join(dir, "sites.jsonl")
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("output: create %s: %w", path, err)
	}
	defer f.Close()
	return WriteJSONL(f, SiteRecords(rep))
}

// WriteASM writes a method listing to asm/<name>.txt.
// name may contain path separators (e.g., "p/Web/load") for directory grouping.
func WriteASM(dir string, name string, insts []bytecode.Inst, pool *classfile.Pool, annotators ...bytecode.Annotator) error {
	path := filepath.Join(dir, "asm", name+".txt")
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("output: mkdir asm: %w", err)
	}

	text := bytecode.Format(insts, pool, annotators...)
	return os.WriteFile(path, []byte(text), 0644)
}

// WriteDOT writes rendered graph text to <name>.dot under dir.
func WriteDOT(dir, name, dot string) error {
	path := filepath.Join(dir, name+".dot")
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("output: mkdir: %w", err)
	}
	return os.WriteFile(path, []byte(dot), 0644)
}

func writeJSON(path string, v any) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("output: create %s: %w", path, err)
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("output: encode %s: %w", path, err)
	}
	return nil
}
