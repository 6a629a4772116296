// Package artifact reads and writes the JSON files that connect pipeline
// stages. Writes go through a temp file and rename so a reader never sees a
// half-written artifact.
package artifact

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/joelkehle/challenge-pipeline/internal/challenge"
	"github.com/joelkehle/challenge-pipeline/internal/failure"
)

// Default artifact names inside the output directory.
const (
	SubmissionsFile   = "submissions.json"
	EvaluationsFile   = "evaluations.json"
	MetaFile          = "meta.json"
	FrontFacingFile   = "front_facing.json"
	KeywordsAggFile   = "keywords_agg.json"
	RankedFile        = "ranked_submissions.json"
	EvaluationsPDF    = "evaluations.pdf"
	LedgerFile        = "pipeline.db"
	DefaultOutputDir  = "output"
	DefaultSourceXLSX = "data/form_data.xlsx"
)

// Read decodes the JSON file at path into out. A missing file is a parse
// error naming the path.
func Read(path string, out any) error {
	blob, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return failure.Parsef("read artifact", "%s not found", path)
		}
		return failure.Parse("read artifact", err).For(path)
	}
	if err := json.Unmarshal(blob, out); err != nil {
		return failure.Parse("decode artifact", err).For(path)
	}
	return nil
}

// Write encodes v to path, creating parent directories and replacing any
// existing file.
func Write(path string, v any, pretty bool) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if pretty {
		enc.SetIndent("", "  ")
	}
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode %s: %w", filepath.Base(path), err)
	}
	return WriteBytes(path, buf.Bytes())
}

// WriteBytes atomically replaces path with blob.
func WriteBytes(path string, blob []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, blob, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func ReadSubmissions(path string) ([]challenge.Submission, error) {
	var subs []challenge.Submission
	if err := Read(path, &subs); err != nil {
		return nil, err
	}
	return subs, nil
}

func ReadEvaluations(path string) ([]challenge.Evaluation, error) {
	var evals []challenge.Evaluation
	if err := Read(path, &evals); err != nil {
		return nil, err
	}
	return evals, nil
}

// ReadEvaluationsIfExists returns nil without error when path is absent.
func ReadEvaluationsIfExists(path string) ([]challenge.Evaluation, error) {
	if !Exists(path) {
		return nil, nil
	}
	return ReadEvaluations(path)
}

func ReadFrontFacing(path string) ([]challenge.FrontFacingEntry, error) {
	var entries []challenge.FrontFacingEntry
	if err := Read(path, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}
