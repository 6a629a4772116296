package ingest

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/xuri/excelize/v2"

	"github.com/joelkehle/challenge-pipeline/internal/artifact"
	"github.com/joelkehle/challenge-pipeline/internal/challenge"
	"github.com/joelkehle/challenge-pipeline/internal/failure"
)

// writeWorkbook saves rows to Sheet1 of a new workbook. A row of nil is left
// blank except for a whitespace cell so the sheet keeps its position.
func writeWorkbook(t *testing.T, rows [][]any) string {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()
	for r, row := range rows {
		if row == nil {
			cell, _ := excelize.CoordinatesToCellName(2, r+1)
			if err := f.SetCellValue("Sheet1", cell, "   "); err != nil {
				t.Fatal(err)
			}
			continue
		}
		for c, v := range row {
			if v == nil {
				continue
			}
			cell, _ := excelize.CoordinatesToCellName(c+1, r+1)
			if err := f.SetCellValue("Sheet1", cell, v); err != nil {
				t.Fatal(err)
			}
		}
	}
	path := filepath.Join(t.TempDir(), "form.xlsx")
	if err := f.SaveAs(path); err != nil {
		t.Fatalf("save workbook: %v", err)
	}
	return path
}

func baseOptions(excel string) Options {
	return Options{
		Excel:           excel,
		Sheet:           "Sheet1",
		HeaderRow:       1,
		Rename:          map[string]string{"Name": "name", "Completion time": "completion_time", "What did you build?": "what_built"},
		DateColumns:     []string{"Completion time"},
		DateFormat:      "%Y-%m-%dT%H:%M:%S",
		DropEmptyRows:   true,
		UnmappedColumns: UnmappedPass,
		DateErrors:      DateErrorsAbort,
	}
}

func TestTenRowsTwoEmptyYieldsEightInOrder(t *testing.T) {
	rows := [][]any{{"Name", "Completion time", "What did you build?"}}
	for i := 1; i <= 10; i++ {
		if i == 3 || i == 7 {
			rows = append(rows, nil)
			continue
		}
		rows = append(rows, []any{fmt.Sprintf("Person %d", i), "2025-03-04T09:30:00", "  a bot  "})
	}
	path := writeWorkbook(t, rows)
	opts := baseOptions(path)
	opts.Output = filepath.Join(t.TempDir(), "out", artifact.SubmissionsFile)
	opts.Pretty = true

	res, err := Run(context.Background(), opts)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.RowsRead != 10 || res.DroppedEmpty != 2 || len(res.Submissions) != 8 {
		t.Fatalf("rows=%d dropped=%d subs=%d", res.RowsRead, res.DroppedEmpty, len(res.Submissions))
	}
	var names []string
	for _, s := range res.Submissions {
		names = append(names, s.Get(challenge.FieldName))
	}
	want := []string{"Person 1", "Person 2", "Person 4", "Person 5", "Person 6", "Person 8", "Person 9", "Person 10"}
	if diff := cmp.Diff(want, names); diff != "" {
		t.Fatalf("order mismatch (-want +got):\n%s", diff)
	}
	if got := res.Submissions[0].Fields["what_built"]; got != "a bot" {
		t.Fatalf("value not trimmed: %q", got)
	}

	written, err := artifact.ReadSubmissions(opts.Output)
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	if len(written) != 8 || written[0].ID != "1" || written[7].ID != "8" {
		t.Fatalf("unexpected ids: first=%q last=%q", written[0].ID, written[len(written)-1].ID)
	}
	if written[0].Get(challenge.FieldCompletionTime) != "2025-03-04T09:30:00" {
		t.Fatalf("completion_time=%q", written[0].Get(challenge.FieldCompletionTime))
	}
}

func TestRunOverwritesExistingOutput(t *testing.T) {
	path := writeWorkbook(t, [][]any{{"Name"}, {"Only"}})
	opts := baseOptions(path)
	opts.Output = filepath.Join(t.TempDir(), artifact.SubmissionsFile)
	if err := os.WriteFile(opts.Output, []byte(`[{"id":"99","name":"stale"}]`), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Run(context.Background(), opts); err != nil {
		t.Fatalf("Run: %v", err)
	}
	subs, err := artifact.ReadSubmissions(opts.Output)
	if err != nil {
		t.Fatal(err)
	}
	if len(subs) != 1 || subs[0].Get("name") != "Only" {
		t.Fatalf("expected overwrite, got %+v", subs)
	}
}

func TestExcelSerialDateAndIDColumn(t *testing.T) {
	path := writeWorkbook(t, [][]any{
		{"ID", "Name", "Completion time"},
		{7, "Ada", 45658},
		{12, "Bo", "2025-02-10 08:15:00"},
	})
	opts := baseOptions(path)
	opts.IDColumn = "ID"
	res, err := Read(context.Background(), opts)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if len(res.Submissions) != 2 {
		t.Fatalf("subs=%d", len(res.Submissions))
	}
	if res.Submissions[0].ID != "7" || res.Submissions[1].ID != "12" {
		t.Fatalf("ids=%q,%q", res.Submissions[0].ID, res.Submissions[1].ID)
	}
	if got := res.Submissions[0].Get("completion_time"); got != "2025-01-01T00:00:00" {
		t.Fatalf("serial date=%q", got)
	}
	if got := res.Submissions[1].Get("completion_time"); got != "2025-02-10T08:15:00" {
		t.Fatalf("text date=%q", got)
	}
	if _, ok := res.Submissions[0].Fields["ID"]; ok {
		t.Fatal("id column must not be duplicated as a field")
	}
}

func TestMissingSheetIsParseError(t *testing.T) {
	path := writeWorkbook(t, [][]any{{"Name"}, {"x"}})
	opts := baseOptions(path)
	opts.Sheet = "Responses"
	_, err := Read(context.Background(), opts)
	if !failure.Is(err, failure.KindParse) {
		t.Fatalf("expected parse error, got %v", err)
	}

	opts.Sheet = "0"
	if _, err := Read(context.Background(), opts); err != nil {
		t.Fatalf("sheet index 0 should resolve: %v", err)
	}
}

func TestMissingHeaderRowIsParseError(t *testing.T) {
	path := writeWorkbook(t, [][]any{{"Name"}, {"x"}})
	opts := baseOptions(path)
	opts.HeaderRow = 5
	if _, err := Read(context.Background(), opts); !failure.Is(err, failure.KindParse) {
		t.Fatalf("expected parse error, got %v", err)
	}
}

func TestMissingFileIsParseError(t *testing.T) {
	opts := baseOptions(filepath.Join(t.TempDir(), "absent.xlsx"))
	if _, err := Read(context.Background(), opts); !failure.Is(err, failure.KindParse) {
		t.Fatalf("expected parse error, got %v", err)
	}
}

func TestBadDatePolicies(t *testing.T) {
	path := writeWorkbook(t, [][]any{
		{"Name", "Completion time"},
		{"Ada", "2025-03-04T09:30:00"},
		{"Bo", "next tuesday"},
		{"Cy", "2025-03-05T10:00:00"},
	})
	opts := baseOptions(path)
	_, err := Read(context.Background(), opts)
	if !failure.Is(err, failure.KindSchema) {
		t.Fatalf("abort policy: expected schema error, got %v", err)
	}

	opts.DateErrors = DateErrorsDrop
	res, err := Read(context.Background(), opts)
	if err != nil {
		t.Fatalf("drop policy: %v", err)
	}
	if len(res.Submissions) != 2 || res.DroppedDates != 1 {
		t.Fatalf("subs=%d dropped=%d", len(res.Submissions), res.DroppedDates)
	}
	if res.Submissions[1].ID != "3" {
		t.Fatalf("ids follow row order, got %q", res.Submissions[1].ID)
	}
}

func TestNumericTextInDateColumnIsNotASerial(t *testing.T) {
	path := writeWorkbook(t, [][]any{
		{"Name", "Completion time"},
		{"Ada", "20250314"},
	})
	_, err := Read(context.Background(), baseOptions(path))
	if !failure.Is(err, failure.KindSchema) {
		t.Fatalf("expected schema error for digits stored as text, got %v", err)
	}
}

func TestSerialOutsideExcelRangeIsRejected(t *testing.T) {
	path := writeWorkbook(t, [][]any{
		{"Name", "Completion time"},
		{"Ada", 20250314},
	})
	_, err := Read(context.Background(), baseOptions(path))
	if !failure.Is(err, failure.KindSchema) {
		t.Fatalf("expected schema error for out-of-range serial, got %v", err)
	}
}

func TestUnmappedColumnPolicy(t *testing.T) {
	path := writeWorkbook(t, [][]any{
		{"Name", "Favourite colour"},
		{"Ada", "green"},
	})
	opts := baseOptions(path)
	res, err := Read(context.Background(), opts)
	if err != nil {
		t.Fatal(err)
	}
	if res.Submissions[0].Get("Favourite colour") != "green" {
		t.Fatal("pass policy should keep unmapped column under its label")
	}

	opts.UnmappedColumns = UnmappedDrop
	res, err = Read(context.Background(), opts)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := res.Submissions[0].Fields["Favourite colour"]; ok {
		t.Fatal("drop policy should remove unmapped column")
	}
	if res.Submissions[0].Get("name") != "Ada" {
		t.Fatal("mapped column must survive drop policy")
	}
}

func TestFiltersMatchSourceOrRenamedKey(t *testing.T) {
	path := writeWorkbook(t, [][]any{
		{"Name", "Status"},
		{"Ada", "Active"},
		{"Bo", "Closed"},
	})
	opts := baseOptions(path)
	opts.Filters = []Filter{{Column: "Status", Value: "Active"}}
	res, err := Read(context.Background(), opts)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Submissions) != 1 || res.Filtered != 1 {
		t.Fatalf("subs=%d filtered=%d", len(res.Submissions), res.Filtered)
	}

	opts.Filters = []Filter{{Column: "Name", Value: "Bo"}}
	res, err = Read(context.Background(), opts)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Submissions) != 1 || res.Submissions[0].Get("name") != "Bo" {
		t.Fatalf("renamed filter failed: %+v", res.Submissions)
	}
}

func TestLoadRenameMapJSONAndYAML(t *testing.T) {
	dir := t.TempDir()
	jsonPath := filepath.Join(dir, "rename.json")
	yamlPath := filepath.Join(dir, "rename.yaml")
	if err := os.WriteFile(jsonPath, []byte(`{"Name ":" name"}`), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(yamlPath, []byte("Name: name\nEmail: email\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	m, err := LoadRenameMap(jsonPath)
	if err != nil || m["Name"] != "name" {
		t.Fatalf("json map=%v err=%v", m, err)
	}
	m, err = LoadRenameMap(yamlPath)
	if err != nil || m["Email"] != "email" {
		t.Fatalf("yaml map=%v err=%v", m, err)
	}
	if err := os.WriteFile(jsonPath, []byte(`["not","an","object"]`), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadRenameMap(jsonPath); !failure.Is(err, failure.KindParse) {
		t.Fatalf("expected parse error, got %v", err)
	}
}

func TestParseFilter(t *testing.T) {
	f, err := ParseFilter(" Status = Active ")
	if err != nil || f.Column != "Status" || f.Value != "Active" {
		t.Fatalf("filter=%+v err=%v", f, err)
	}
	if _, err := ParseFilter("nonsense"); err == nil {
		t.Fatal("expected error for filter without '='")
	}
}
