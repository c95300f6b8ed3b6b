package importer

import (
	"bytes"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"
)

// errNoSheets is returned for a workbook without any worksheet.
var errNoSheets = errors.New("workbook has no sheets")

// SpreadsheetParser reads the first worksheet of an xlsx workbook.
//
// Columns A, B and C map to account id, points and note, with the same row
// policy as DelimitedParser. Row numbers are sheet rows.
type SpreadsheetParser struct{}

// Parse implements Parser.
func (SpreadsheetParser) Parse(content []byte, opts ImportOptions) (ParseResult, error) {
	f, err := excelize.OpenReader(bytes.NewReader(content))
	if err != nil {
		return ParseResult{}, fmt.Errorf("open workbook: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return ParseResult{}, errNoSheets
	}

	rows, err := f.GetRows(sheets[0], excelize.Options{RawCellValue: true})
	if err != nil {
		return ParseResult{}, fmt.Errorf("read sheet %q: %w", sheets[0], err)
	}

	start := 0
	if opts.SkipFirstRow {
		start = 1
	}

	var res ParseResult
	for i := start; i < len(rows); i++ {
		row := i + 1
		fields := sheetFields(rows[i])
		if fields == nil {
			continue
		}

		rec, rerr := buildCandidate(row, fields)
		if rerr != nil {
			res.Errors = append(res.Errors, *rerr)
			continue
		}
		res.Candidates = append(res.Candidates, rec)
	}
	return res, nil
}

// sheetFields returns the first three cells trimmed to what the row actually
// holds, or nil when all of them are blank. Trailing blank cells are dropped
// the way a text row without them would end, so a row with only an account
// is malformed while a blank points cell before a note is an invalid number.
func sheetFields(cells []string) []string {
	var first [3]string
	for i := 0; i < len(cells) && i < 3; i++ {
		first[i] = strings.TrimSpace(cells[i])
	}

	switch {
	case first[0] == "" && first[1] == "" && first[2] == "":
		return nil
	case first[1] == "" && first[2] == "":
		return first[:1]
	case first[1] == "":
		return []string{first[0], "", first[2]}
	case first[2] == "":
		return []string{first[0], normalizeSheetNumber(first[1])}
	default:
		return []string{first[0], normalizeSheetNumber(first[1]), first[2]}
	}
}

// normalizeSheetNumber turns raw numeric cell values such as "150.0" or
// "1E+3" into plain integers. Anything else is returned unchanged and left
// for the integer check to reject.
func normalizeSheetNumber(raw string) string {
	if _, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return raw
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil || f != math.Trunc(f) || math.Abs(f) > 1<<53 {
		return raw
	}
	return strconv.FormatInt(int64(f), 10)
}
