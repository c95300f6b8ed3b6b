package importer

import (
	"strconv"
	"strings"
)

// DelimitedParser reads line-oriented text such as CSV.
//
// Each non-empty line is accountId<delim>points[<delim>note]. Quoting is not
// supported; a delimiter inside a note splits it and the extra fields are
// ignored.
type DelimitedParser struct{}

// Parse implements Parser.
func (DelimitedParser) Parse(content []byte, opts ImportOptions) (ParseResult, error) {
	text, err := decodeText(content, opts.Encoding)
	if err != nil {
		return ParseResult{}, err
	}

	delim := opts.delimiter()
	lines := strings.Split(text, "\n")

	start := 0
	if opts.SkipFirstRow {
		start = 1
	}

	var res ParseResult
	for i := start; i < len(lines); i++ {
		row := i + 1
		line := strings.TrimSpace(lines[i])
		if line == "" {
			continue
		}

		fields := strings.Split(line, delim)
		rec, rerr := buildCandidate(row, fields)
		if rerr != nil {
			res.Errors = append(res.Errors, *rerr)
			continue
		}
		res.Candidates = append(res.Candidates, rec)
	}
	return res, nil
}

// buildCandidate applies the shared row policy to already split fields.
// Both parsers go through here so their error messages stay identical.
func buildCandidate(row int, fields []string) (CandidateRecord, *RecordError) {
	if len(fields) < 2 {
		var account string
		if len(fields) == 1 {
			account = strings.TrimSpace(fields[0])
		}
		return CandidateRecord{}, parseError(row, account, MsgInvalidRowFormat)
	}

	account := strings.TrimSpace(fields[0])
	points, err := strconv.ParseInt(strings.TrimSpace(fields[1]), 10, 64)
	if err != nil {
		return CandidateRecord{}, parseError(row, account, MsgInvalidPoints)
	}

	rec := CandidateRecord{
		Row:       row,
		AccountID: account,
		Points:    points,
	}
	if len(fields) > 2 {
		rec.Note = strings.TrimSpace(fields[2])
		rec.HasNote = true
	}
	return rec, nil
}

func parseError(row int, account, msg string) *RecordError {
	return &RecordError{
		Row:       row,
		AccountID: accountLabel(account),
		Message:   msg,
		Kind:      KindParse,
	}
}

// accountLabel is the account id shown in errors.
func accountLabel(id string) string {
	if id == "" {
		return UnknownAccount
	}
	return id
}
