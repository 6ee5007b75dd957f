package output

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"classweave/internal/bytecode"
	"classweave/internal/rewrite"
	"classweave/internal/weave"
)

func sampleReport() *weave.Report {
	return &weave.Report{
		Component: "com.example.web",
		Eligible:  true,
		Outcomes: []weave.Outcome{
			{Class: "p/Plain", Status: weave.StatusUnchanged},
			{Class: "p/Web", Status: weave.StatusRewritten, Sites: []rewrite.Site{
				{Method: "load(Ljava/lang/String;)Ljava/lang/Class;", PC: 1, Action: rewrite.ForName1, Call: "java/lang/Class.forName(Ljava/lang/String;)Ljava/lang/Class;"},
				{Method: "<clinit>()V", PC: 4, Action: rewrite.LoadClass, Call: "java/lang/ClassLoader.loadClass(Ljava/lang/String;)Ljava/lang/Class;", Guarded: true},
			}},
		},
	}
}

func TestWriteSitesJSONL(t *testing.T) {
	dir := t.TempDir()
	if err := WriteSitesJSONL(dir, sampleReport()); err != nil {
		t.Fatalf("WriteSitesJSONL: %v", err)
	}
	f, err := os.Open(filepath.Join(dir, "sites.jsonl"))
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	var recs []SiteRecord
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var r SiteRecord
		if err := json.Unmarshal(sc.Bytes(), &r); err != nil {
			t.Fatalf("line %q: %v", sc.Text(), err)
		}
		recs = append(recs, r)
	}
	if len(recs) != 2 {
		t.Fatalf("expected 2 records, got %d", len(recs))
	}
	if recs[0].Class != "p/Web" || recs[0].Action != "forName/1" || recs[0].Guarded {
		t.Errorf("record 0 = %+v", recs[0])
	}
	if !recs[1].Guarded || recs[1].Action != "loadClass" {
		t.Errorf("record 1 = %+v", recs[1])
	}
}

func TestWriteReportJSON(t *testing.T) {
	dir := t.TempDir()
	if err := WriteReportJSON(dir, sampleReport()); err != nil {
		t.Fatalf("WriteReportJSON: %v", err)
	}
	data, err := os.ReadFile(filepath.Join(dir, "report.json"))
	if err != nil {
		t.Fatal(err)
	}
	var back weave.Report
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatal(err)
	}
	if back.Component != "com.example.web" || back.Count(weave.StatusRewritten) != 1 {
		t.Errorf("report = %+v", back)
	}
}

func TestWriteASM(t *testing.T) {
	dir := t.TempDir()
	insts := []bytecode.Inst{{PC: 0, Op: bytecode.Aload0}, bytecode.Synth(bytecode.Areturn)}
	if err := WriteASM(dir, "p/Web/self", insts, nil); err != nil {
		t.Fatalf("WriteASM: %v", err)
	}
	data, err := os.ReadFile(filepath.Join(dir, "asm", "p", "Web", "self.txt"))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "aload_0") || !strings.Contains(string(data), "+  areturn") {
		t.Errorf("listing = %q", data)
	}
}

func TestWriteDOT(t *testing.T) {
	dir := t.TempDir()
	if err := WriteDOT(dir, "cfg/p/Web", "digraph {}"); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(filepath.Join(dir, "cfg", "p", "Web.dot")); err != nil {
		t.Error(err)
	}
}
