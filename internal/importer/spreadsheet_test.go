package importer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

// buildWorkbook writes rows to the first sheet of a new workbook, starting
// at A1, and returns the xlsx bytes.
func buildWorkbook(t *testing.T, rows [][]any) []byte {
	t.Helper()

	f := excelize.NewFile()
	defer f.Close()

	sheet := f.GetSheetName(0)
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		require.NoError(t, err)
		require.NoError(t, f.SetSheetRow(sheet, cell, &row))
	}

	buf, err := f.WriteToBuffer()
	require.NoError(t, err)
	return buf.Bytes()
}

func TestSpreadsheetParser_MatchesDelimited(t *testing.T) {
	data := buildWorkbook(t, [][]any{
		{"userId", "points", "note"},
		{"user123", 100, "Compra mensal"},
		{"user789", "abc"},
		{"user999"},
		{},
		{"user456", -5},
	})

	got, err := SpreadsheetParser{}.Parse(data, DefaultOptions())
	require.NoError(t, err)

	csv := "userId,points,note\nuser123,100,Compra mensal\nuser789,abc\nuser999\n\nuser456,-5"
	want, err := DelimitedParser{}.Parse([]byte(csv), DefaultOptions())
	require.NoError(t, err)

	assert.Equal(t, want, got)
}

func TestSpreadsheetParser_BlankPointsMatchesDelimited(t *testing.T) {
	data := buildWorkbook(t, [][]any{
		{"userId", "points", "note"},
		{"user1", 10},
		{"user2", "", "note"},
		{"user3", nil, "other note"},
	})

	got, err := SpreadsheetParser{}.Parse(data, DefaultOptions())
	require.NoError(t, err)

	csv := "userId,points,note\nuser1,10\nuser2,,note\nuser3,,other note\n"
	want, err := DelimitedParser{}.Parse([]byte(csv), DefaultOptions())
	require.NoError(t, err)

	assert.Equal(t, want, got)
	require.Len(t, got.Errors, 2)
	for _, e := range got.Errors {
		assert.Equal(t, MsgInvalidPoints, e.Message)
	}
}

func TestSpreadsheetParser_NumericCells(t *testing.T) {
	data := buildWorkbook(t, [][]any{
		{"user1", 150.0},
		{"user2", 2.5},
		{"user3", "  42 ", "  padded  "},
	})

	res, err := SpreadsheetParser{}.Parse(data, noHeader())
	require.NoError(t, err)

	require.Len(t, res.Candidates, 2)
	assert.Equal(t, CandidateRecord{Row: 1, AccountID: "user1", Points: 150}, res.Candidates[0])
	assert.Equal(t, CandidateRecord{Row: 3, AccountID: "user3", Points: 42, Note: "padded", HasNote: true}, res.Candidates[1])

	require.Len(t, res.Errors, 1)
	assert.Equal(t, RecordError{Row: 2, AccountID: "user2", Message: MsgInvalidPoints, Kind: KindParse}, res.Errors[0])
}

func TestSpreadsheetParser_OnlyFirstSheet(t *testing.T) {
	f := excelize.NewFile()
	defer f.Close()

	first := f.GetSheetName(0)
	require.NoError(t, f.SetSheetRow(first, "A1", &[]any{"user1", 10}))
	_, err := f.NewSheet("Other")
	require.NoError(t, err)
	require.NoError(t, f.SetSheetRow("Other", "A1", &[]any{"user2", 20}))

	buf, err := f.WriteToBuffer()
	require.NoError(t, err)

	res, err := SpreadsheetParser{}.Parse(buf.Bytes(), noHeader())
	require.NoError(t, err)
	require.Len(t, res.Candidates, 1)
	assert.Equal(t, "user1", res.Candidates[0].AccountID)
}

func TestSpreadsheetParser_Unreadable(t *testing.T) {
	_, err := SpreadsheetParser{}.Parse([]byte("user1,10\nuser2,20"), DefaultOptions())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "open workbook")
}

func TestSheetFields(t *testing.T) {
	tests := []struct {
		name  string
		cells []string
		want  []string
	}{
		{"all blank", []string{"", " ", ""}, nil},
		{"no cells", nil, nil},
		{"account only", []string{"user1"}, []string{"user1"}},
		{"blank points with note", []string{"user1", "", "note"}, []string{"user1", "", "note"}},
		{"blank points and note", []string{"user1", " ", ""}, []string{"user1"}},
		{"two cells", []string{"user1", "10"}, []string{"user1", "10"}},
		{"float integral", []string{"user1", "1E+3"}, []string{"user1", "1000"}},
		{"fourth cell ignored", []string{"user1", "10", "n", "x"}, []string{"user1", "10", "n"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, sheetFields(tt.cells))
		})
	}
}
