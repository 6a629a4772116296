package cli

import (
	"flag"
	"strings"

	"github.com/joelkehle/challenge-pipeline/internal/config"
	"github.com/joelkehle/challenge-pipeline/internal/ingest"
)

// IngestFlags are the spreadsheet options shared by ingest-form and the
// pipeline. Only flags given on the command line override the config.
type IngestFlags struct {
	excel      *string
	sheet      *string
	headerRow  *int
	rename     *string
	dateCols   *string
	dateFormat *string
	idColumn   *string
	dropEmpty  *bool
	unmapped   *string
	dateErrors *string
	filters    []string
}

func RegisterIngestFlags(fs *flag.FlagSet) *IngestFlags {
	f := &IngestFlags{
		excel:      fs.String("excel", "", "Path to the form spreadsheet"),
		sheet:      fs.String("sheet", "", "Worksheet name or 0-based index"),
		headerRow:  fs.Int("header-row", 0, "1-based header row"),
		rename:     fs.String("rename", "", "JSON or YAML file mapping column labels to field names"),
		dateCols:   fs.String("date-cols", "", "Comma-separated date columns, by label or renamed field"),
		dateFormat: fs.String("date-format", "", "strftime format for date columns, e.g. %Y-%m-%dT%H:%M:%S"),
		idColumn:   fs.String("id-column", "", "Column holding submission ids (empty: row order)"),
		dropEmpty:  fs.Bool("drop-empty-rows", true, "Drop rows with no values"),
		unmapped:   fs.String("unmapped-columns", "", "Columns without a rename entry: pass or drop"),
		dateErrors: fs.String("date-errors", "", "Unparseable dates: abort or drop the row"),
	}
	fs.Func("filter-eq", "Keep rows where Column=Value (repeatable)", func(v string) error {
		if _, err := ingest.ParseFilter(v); err != nil {
			return err
		}
		f.filters = append(f.filters, v)
		return nil
	})
	return f
}

// Apply copies the flags named in set onto cfg.
func (f *IngestFlags) Apply(cfg *config.Config, set map[string]bool) {
	if set["excel"] {
		cfg.Ingest.Excel = *f.excel
	}
	if set["sheet"] {
		cfg.Ingest.Sheet = *f.sheet
	}
	if set["header-row"] {
		cfg.Ingest.HeaderRow = *f.headerRow
	}
	if set["rename"] {
		cfg.Ingest.RenamePath = *f.rename
	}
	if set["date-cols"] {
		cfg.Ingest.DateColumns = splitList(*f.dateCols)
	}
	if set["date-format"] {
		cfg.Ingest.DateFormat = *f.dateFormat
	}
	if set["id-column"] {
		cfg.Ingest.IDColumn = *f.idColumn
	}
	if set["drop-empty-rows"] {
		cfg.Ingest.DropEmptyRows = *f.dropEmpty
	}
	if set["unmapped-columns"] {
		cfg.Ingest.UnmappedColumns = strings.ToLower(strings.TrimSpace(*f.unmapped))
	}
	if set["date-errors"] {
		cfg.Ingest.DateErrors = strings.ToLower(strings.TrimSpace(*f.dateErrors))
	}
	if set["filter-eq"] {
		cfg.Ingest.Filters = append([]string(nil), f.filters...)
	}
}

// PrettyFlag registers -pretty. Apply it with ApplyPretty.
func PrettyFlag(fs *flag.FlagSet) *bool {
	return fs.Bool("pretty", true, "Indent JSON artifacts")
}

func ApplyPretty(cfg *config.Config, set map[string]bool, pretty *bool) {
	if set["pretty"] {
		cfg.Pretty = *pretty
	}
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
