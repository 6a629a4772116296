// Package ingest turns a form-response spreadsheet into the submissions
// artifact.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ncruces/go-strftime"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"github.com/joelkehle/challenge-pipeline/internal/artifact"
	"github.com/joelkehle/challenge-pipeline/internal/challenge"
	"github.com/joelkehle/challenge-pipeline/internal/config"
	"github.com/joelkehle/challenge-pipeline/internal/failure"
	"github.com/joelkehle/challenge-pipeline/internal/logging"
)

const (
	UnmappedPass = "pass"
	UnmappedDrop = "drop"

	DateErrorsAbort = "abort"
	DateErrorsDrop  = "drop"
)

type Options struct {
	Excel string
	// Sheet is a sheet name or a 0-based index.
	Sheet string
	// HeaderRow is 1-based.
	HeaderRow       int
	Rename          map[string]string
	DateColumns     []string
	DateFormat      string
	IDColumn        string
	DropEmptyRows   bool
	UnmappedColumns string
	DateErrors      string
	Filters         []Filter

	Output string
	Pretty bool
	Logger *zap.Logger
}

// OptionsFromConfig fills Options from cfg. A rename mapping file that does
// not exist is treated as an empty mapping.
func OptionsFromConfig(cfg *config.Config, logger *zap.Logger) (Options, error) {
	logger = logging.OrNop(logger)
	rename := map[string]string{}
	if p := cfg.Ingest.RenamePath; p != "" {
		if _, err := os.Stat(p); err == nil {
			m, err := LoadRenameMap(p)
			if err != nil {
				return Options{}, err
			}
			rename = m
		} else {
			logger.Warn("ingest rename mapping not found, columns keep their labels", zap.String("path", p))
		}
	}
	filters, err := ParseFilters(cfg.Ingest.Filters)
	if err != nil {
		return Options{}, err
	}
	return Options{
		Excel:           cfg.Ingest.Excel,
		Sheet:           cfg.Ingest.Sheet,
		HeaderRow:       cfg.Ingest.HeaderRow,
		Rename:          rename,
		DateColumns:     cfg.Ingest.DateColumns,
		DateFormat:      cfg.Ingest.DateFormat,
		IDColumn:        cfg.Ingest.IDColumn,
		DropEmptyRows:   cfg.Ingest.DropEmptyRows,
		UnmappedColumns: cfg.Ingest.UnmappedColumns,
		DateErrors:      cfg.Ingest.DateErrors,
		Filters:         filters,
		Output:          cfg.Path(artifact.SubmissionsFile),
		Pretty:          cfg.Pretty,
		Logger:          logger,
	}, nil
}

type Result struct {
	Submissions  []challenge.Submission
	RowsRead     int
	DroppedEmpty int
	DroppedDates int
	Filtered     int
}

// Run reads the spreadsheet and writes the submissions artifact, replacing
// any existing file.
func Run(ctx context.Context, opts Options) (Result, error) {
	res, err := Read(ctx, opts)
	if err != nil {
		return res, err
	}
	subs := res.Submissions
	if subs == nil {
		subs = []challenge.Submission{}
	}
	if err := artifact.Write(opts.Output, subs, opts.Pretty); err != nil {
		return res, fmt.Errorf("write submissions: %w", err)
	}
	logging.OrNop(opts.Logger).Info("ingest wrote submissions",
		zap.String("path", opts.Output),
		zap.Int("records", len(res.Submissions)),
		zap.Int("rows_read", res.RowsRead),
		zap.Int("dropped_empty", res.DroppedEmpty),
		zap.Int("dropped_dates", res.DroppedDates),
		zap.Int("filtered", res.Filtered))
	return res, nil
}

// Read parses the spreadsheet into submissions without writing anything.
func Read(ctx context.Context, opts Options) (Result, error) {
	logger := logging.OrNop(opts.Logger)
	if opts.HeaderRow < 1 {
		opts.HeaderRow = 1
	}
	if opts.DateFormat == "" {
		opts.DateFormat = "%Y-%m-%dT%H:%M:%S"
	}
	if _, err := os.Stat(opts.Excel); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Result{}, failure.Parsef("open spreadsheet", "excel file not found: %s", opts.Excel)
		}
		return Result{}, failure.Parse("open spreadsheet", err).For(opts.Excel)
	}
	f, err := excelize.OpenFile(opts.Excel)
	if err != nil {
		return Result{}, failure.Parse("open spreadsheet", err).For(opts.Excel)
	}
	defer f.Close()

	sheet, err := resolveSheet(f.GetSheetList(), opts.Sheet)
	if err != nil {
		return Result{}, err
	}
	rows, err := f.GetRows(sheet, excelize.Options{RawCellValue: true})
	if err != nil {
		return Result{}, failure.Parse("read sheet", err).For(sheet)
	}
	if len(rows) < opts.HeaderRow {
		return Result{}, failure.Parsef("locate header", "sheet %q has %d rows, header row %d is missing", sheet, len(rows), opts.HeaderRow)
	}
	headers := make([]string, len(rows[opts.HeaderRow-1]))
	anyHeader := false
	for i, h := range rows[opts.HeaderRow-1] {
		headers[i] = strings.TrimSpace(h)
		if headers[i] != "" {
			anyHeader = true
		}
	}
	if !anyHeader {
		return Result{}, failure.Parsef("locate header", "header row %d of sheet %q is empty", opts.HeaderRow, sheet)
	}

	cols := planColumns(headers, opts)
	res := Result{}
	seenIDs := map[string]int{}
	ordinal := 0
	for i, row := range rows[opts.HeaderRow:] {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		rowNum := opts.HeaderRow + 1 + i
		res.RowsRead++
		if isEmptyRow(row) {
			if opts.DropEmptyRows {
				res.DroppedEmpty++
				continue
			}
		}
		ordinal++

		sub := challenge.NewSubmission(strconv.Itoa(ordinal))
		var dateErr error
		for idx, col := range cols {
			if col.skip || idx >= len(row) {
				continue
			}
			val := strings.TrimSpace(row[idx])
			if val == "" {
				continue
			}
			if col.isID {
				sub.ID = challenge.NormalizeID(val)
				continue
			}
			if col.isDate {
				formatted, err := formatDate(val, opts.DateFormat, isNumericCell(f, sheet, idx+1, rowNum))
				if err != nil {
					dateErr = failure.Schemaf("format date", "row %d column %q: %v", rowNum, col.source, err)
					break
				}
				val = formatted
			}
			sub.Set(col.target, val)
		}
		if dateErr != nil {
			if opts.DateErrors == DateErrorsDrop {
				res.DroppedDates++
				logger.Warn("ingest dropped row with unparseable date", zap.Int("row", rowNum), zap.Error(dateErr))
				continue
			}
			return res, dateErr
		}
		if !matchFilters(sub, opts.Filters, opts.Rename) {
			res.Filtered++
			continue
		}
		if prev, dup := seenIDs[sub.ID]; dup {
			return res, failure.Schemaf("assign id", "row %d repeats id %q from row %d", rowNum, sub.ID, prev)
		}
		seenIDs[sub.ID] = rowNum
		res.Submissions = append(res.Submissions, sub)
	}
	return res, nil
}

func resolveSheet(sheets []string, want string) (string, error) {
	want = strings.TrimSpace(want)
	if want == "" {
		if len(sheets) == 0 {
			return "", failure.Parsef("locate sheet", "workbook has no sheets")
		}
		return sheets[0], nil
	}
	for _, s := range sheets {
		if s == want {
			return s, nil
		}
	}
	if idx, err := strconv.Atoi(want); err == nil && idx >= 0 && idx < len(sheets) {
		return sheets[idx], nil
	}
	return "", failure.Parsef("locate sheet", "sheet %q not found, available: %s", want, strings.Join(sheets, ", "))
}

type column struct {
	source string
	target string
	isID   bool
	isDate bool
	skip   bool
}

func planColumns(headers []string, opts Options) []column {
	dates := make(map[string]bool, len(opts.DateColumns))
	for _, d := range opts.DateColumns {
		dates[strings.TrimSpace(d)] = true
	}
	idSource := strings.TrimSpace(opts.IDColumn)
	cols := make([]column, len(headers))
	for i, h := range headers {
		if h == "" {
			cols[i] = column{skip: true}
			continue
		}
		target, mapped := opts.Rename[h]
		if !mapped || target == "" {
			target = h
		}
		c := column{source: h, target: target}
		switch {
		case (idSource != "" && h == idSource) || target == challenge.FieldID:
			c.isID = true
		case !mapped && opts.UnmappedColumns == UnmappedDrop:
			c.skip = true
		}
		c.isDate = dates[h] || dates[target]
		cols[i] = c
	}
	return cols
}

func isEmptyRow(row []string) bool {
	for _, v := range row {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}

func matchFilters(sub challenge.Submission, filters []Filter, rename map[string]string) bool {
	for _, f := range filters {
		actual, ok := sub.Fields[f.Column]
		if !ok {
			if rk, renamed := rename[f.Column]; renamed {
				actual, ok = sub.Fields[rk]
			}
		}
		if f.Column == challenge.FieldID || f.Column == "ID" {
			actual, ok = sub.ID, true
		}
		if !ok || strings.TrimSpace(actual) != f.Value {
			return false
		}
	}
	return true
}

var textDateLayouts = []string{
	"2006-01-02T15:04:05",
	time.RFC3339Nano,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04",
	"1/2/2006 15:04:05",
	"1/2/2006 3:04:05 PM",
	"1/2/2006 15:04",
	"1/2/06 15:04",
	"1/2/2006",
	"2006-01-02",
}

// maxExcelSerial is 9999-12-31, the last date Excel can store.
const maxExcelSerial = 2958465

// isNumericCell reports whether the cell holds a number rather than text.
// Numbers are usually stored without a type attribute.
func isNumericCell(f *excelize.File, sheet string, col, row int) bool {
	cell, err := excelize.CoordinatesToCellName(col, row)
	if err != nil {
		return false
	}
	typ, err := f.GetCellType(sheet, cell)
	if err != nil {
		return false
	}
	return typ == excelize.CellTypeUnset || typ == excelize.CellTypeNumber
}

// formatDate renders a date cell in the target strftime format. Numeric
// cells are Excel serials; text cells are parsed with the target format and
// then the common layouts.
func formatDate(raw, format string, numeric bool) (string, error) {
	if serial, err := strconv.ParseFloat(raw, 64); err == nil && numeric {
		if serial <= 0 || serial > maxExcelSerial {
			return "", fmt.Errorf("serial %v is outside the Excel date range", serial)
		}
		t, err := excelize.ExcelDateToTime(serial, false)
		if err != nil {
			return "", err
		}
		return strftime.Format(format, t.Round(time.Second)), nil
	}
	if t, err := strftime.Parse(format, raw); err == nil {
		return strftime.Format(format, t), nil
	}
	for _, layout := range textDateLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return strftime.Format(format, t), nil
		}
	}
	return "", fmt.Errorf("cannot parse %q as a date", raw)
}
