package importer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noHeader() ImportOptions {
	opts := DefaultOptions()
	opts.SkipFirstRow = false
	return opts
}

func TestDelimitedParser_ValidRows(t *testing.T) {
	content := "user123,100,Compra mensal\nuser456,200,Indicação"

	res, err := DelimitedParser{}.Parse([]byte(content), noHeader())
	require.NoError(t, err)

	assert.Empty(t, res.Errors)
	assert.Equal(t, []CandidateRecord{
		{Row: 1, AccountID: "user123", Points: 100, Note: "Compra mensal", HasNote: true},
		{Row: 2, AccountID: "user456", Points: 200, Note: "Indicação", HasNote: true},
	}, res.Candidates)
}

func TestDelimitedParser_RowErrors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    RecordError
	}{
		{
			name:    "non numeric points",
			content: "user789,abc",
			want:    RecordError{Row: 1, AccountID: "user789", Message: MsgInvalidPoints, Kind: KindParse},
		},
		{
			name:    "single field",
			content: "user999",
			want:    RecordError{Row: 1, AccountID: "user999", Message: MsgInvalidRowFormat, Kind: KindParse},
		},
		{
			name:    "decimal points",
			content: "user1,10.5",
			want:    RecordError{Row: 1, AccountID: "user1", Message: MsgInvalidPoints, Kind: KindParse},
		},
		{
			name:    "empty points",
			content: "user1,",
			want:    RecordError{Row: 1, AccountID: "user1", Message: MsgInvalidPoints, Kind: KindParse},
		},
		{
			name:    "blank account",
			content: ",abc",
			want:    RecordError{Row: 1, AccountID: UnknownAccount, Message: MsgInvalidPoints, Kind: KindParse},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := DelimitedParser{}.Parse([]byte(tt.content), noHeader())
			require.NoError(t, err)
			assert.Empty(t, res.Candidates)
			require.Len(t, res.Errors, 1)
			assert.Equal(t, tt.want, res.Errors[0])
		})
	}
}

func TestDelimitedParser_SkipHeaderKeepsPhysicalRowNumbers(t *testing.T) {
	content := "userId,points,note\nuser789,abc\nuser1,5"

	res, err := DelimitedParser{}.Parse([]byte(content), DefaultOptions())
	require.NoError(t, err)

	require.Len(t, res.Errors, 1)
	assert.Equal(t, 2, res.Errors[0].Row)
	require.Len(t, res.Candidates, 1)
	assert.Equal(t, 3, res.Candidates[0].Row)
}

func TestDelimitedParser_EmptyLinesAreIgnored(t *testing.T) {
	content := "\nuser1,10\n   \n\t\nuser2,20\n\n"

	res, err := DelimitedParser{}.Parse([]byte(content), noHeader())
	require.NoError(t, err)

	assert.Empty(t, res.Errors)
	require.Len(t, res.Candidates, 2)
	assert.Equal(t, 2, res.Candidates[0].Row)
	assert.Equal(t, 5, res.Candidates[1].Row)
}

func TestDelimitedParser_FieldHandling(t *testing.T) {
	tests := []struct {
		name    string
		content string
		opts    ImportOptions
		want    CandidateRecord
	}{
		{
			name:    "no note",
			content: "user1,10",
			opts:    noHeader(),
			want:    CandidateRecord{Row: 1, AccountID: "user1", Points: 10},
		},
		{
			name:    "empty note",
			content: "user1,10,",
			opts:    noHeader(),
			want:    CandidateRecord{Row: 1, AccountID: "user1", Points: 10, HasNote: true},
		},
		{
			name:    "extra fields ignored",
			content: "user1,10,bonus,ignored,also ignored",
			opts:    noHeader(),
			want:    CandidateRecord{Row: 1, AccountID: "user1", Points: 10, Note: "bonus", HasNote: true},
		},
		{
			name:    "whitespace trimmed",
			content: "  user1 ,  10 ,  bonus  ",
			opts:    noHeader(),
			want:    CandidateRecord{Row: 1, AccountID: "user1", Points: 10, Note: "bonus", HasNote: true},
		},
		{
			name:    "negative points",
			content: "user1,-25",
			opts:    noHeader(),
			want:    CandidateRecord{Row: 1, AccountID: "user1", Points: -25},
		},
		{
			name:    "zero points",
			content: "user1,0",
			opts:    noHeader(),
			want:    CandidateRecord{Row: 1, AccountID: "user1", Points: 0},
		},
		{
			name:    "windows line endings",
			content: "user1,10,bonus\r\n",
			opts:    noHeader(),
			want:    CandidateRecord{Row: 1, AccountID: "user1", Points: 10, Note: "bonus", HasNote: true},
		},
		{
			name:    "semicolon delimiter",
			content: "user1;10;bonus, with comma",
			opts:    ImportOptions{Delimiter: ";"},
			want:    CandidateRecord{Row: 1, AccountID: "user1", Points: 10, Note: "bonus, with comma", HasNote: true},
		},
		{
			name:    "tab delimiter",
			content: "user1\t10\tbonus",
			opts:    ImportOptions{Delimiter: "\t"},
			want:    CandidateRecord{Row: 1, AccountID: "user1", Points: 10, Note: "bonus", HasNote: true},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := DelimitedParser{}.Parse([]byte(tt.content), tt.opts)
			require.NoError(t, err)
			assert.Empty(t, res.Errors)
			require.Len(t, res.Candidates, 1)
			assert.Equal(t, tt.want, res.Candidates[0])
		})
	}
}

func TestDelimitedParser_Encoding(t *testing.T) {
	// "Indicação" in windows-1252
	latin := []byte("user1,10,Indica\xe7\xe3o")

	t.Run("declared encoding", func(t *testing.T) {
		opts := noHeader()
		opts.Encoding = "windows-1252"
		res, err := DelimitedParser{}.Parse(latin, opts)
		require.NoError(t, err)
		require.Len(t, res.Candidates, 1)
		assert.Equal(t, "Indicação", res.Candidates[0].Note)
	})

	t.Run("invalid utf-8 is fatal", func(t *testing.T) {
		_, err := DelimitedParser{}.Parse(latin, noHeader())
		assert.ErrorIs(t, err, ErrUndecodable)
	})

	t.Run("unknown label", func(t *testing.T) {
		opts := noHeader()
		opts.Encoding = "klingon-8"
		_, err := DelimitedParser{}.Parse([]byte("user1,10"), opts)
		assert.ErrorIs(t, err, ErrUnsupportedEncoding)
	})

	t.Run("utf-8 bom dropped", func(t *testing.T) {
		res, err := DelimitedParser{}.Parse([]byte("\xef\xbb\xbfuser1,10"), noHeader())
		require.NoError(t, err)
		require.Len(t, res.Candidates, 1)
		assert.Equal(t, "user1", res.Candidates[0].AccountID)
	})

	t.Run("utf-16 bom overrides label", func(t *testing.T) {
		// "u1,7" as UTF-16LE with BOM
		data := []byte{0xFF, 0xFE, 'u', 0, '1', 0, ',', 0, '7', 0}
		opts := noHeader()
		opts.Encoding = "windows-1252"
		res, err := DelimitedParser{}.Parse(data, opts)
		require.NoError(t, err)
		require.Len(t, res.Candidates, 1)
		assert.Equal(t, CandidateRecord{Row: 1, AccountID: "u1", Points: 7}, res.Candidates[0])
	})
}

func TestDecodeText_UTF8Aliases(t *testing.T) {
	for _, label := range []string{"", "utf-8", "UTF8", "unicode-1-1-utf-8"} {
		t.Run(label, func(t *testing.T) {
			_, err := decodeText([]byte{0xff}, label)
			assert.ErrorIs(t, err, ErrUndecodable, "utf-8 aliases must decode strictly")
		})
	}
}
