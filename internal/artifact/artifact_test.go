package artifact

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/joelkehle/challenge-pipeline/internal/challenge"
	"github.com/joelkehle/challenge-pipeline/internal/failure"
)

func TestWriteThenReadSubmissions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", SubmissionsFile)
	s := challenge.NewSubmission("1")
	s.Set(challenge.FieldName, "Ada & co")

	if err := Write(path, []challenge.Submission{s}, true); err != nil {
		t.Fatalf("Write: %v", err)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(raw), "Ada & co") {
		t.Fatalf("expected unescaped ampersand, got %s", raw)
	}
	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Fatal("temp file must not be left behind")
	}

	got, err := ReadSubmissions(path)
	if err != nil {
		t.Fatalf("ReadSubmissions: %v", err)
	}
	if len(got) != 1 || got[0].ID != "1" || got[0].Get(challenge.FieldName) != "Ada & co" {
		t.Fatalf("unexpected round trip: %+v", got)
	}
}

func TestWriteCompact(t *testing.T) {
	path := filepath.Join(t.TempDir(), "x.json")
	if err := Write(path, map[string]int{"a": 1}, false); err != nil {
		t.Fatal(err)
	}
	raw, _ := os.ReadFile(path)
	if strings.TrimSpace(string(raw)) != `{"a":1}` {
		t.Fatalf("got %q", raw)
	}
}

func TestReadMissingIsParseError(t *testing.T) {
	_, err := ReadEvaluations(filepath.Join(t.TempDir(), "missing.json"))
	if !failure.Is(err, failure.KindParse) {
		t.Fatalf("expected parse error, got %v", err)
	}
	evals, err := ReadEvaluationsIfExists(filepath.Join(t.TempDir(), "missing.json"))
	if err != nil || evals != nil {
		t.Fatalf("expected nil,nil got %v,%v", evals, err)
	}
}

func TestReadMalformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	_, err := ReadFrontFacing(path)
	if !failure.Is(err, failure.KindParse) {
		t.Fatalf("expected parse error, got %v", err)
	}
}
