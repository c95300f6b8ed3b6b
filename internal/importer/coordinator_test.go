package importer

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/JonMunkholm/pointsimport/internal/ledger"
	"github.com/JonMunkholm/pointsimport/internal/metrics"
)

func csvFile(lines ...string) File {
	return File{Name: "pontos.csv", Data: []byte(strings.Join(lines, "\n"))}
}

func newTestCoordinator(store *ledger.MemoryStore, opts ...Option) *Coordinator {
	c := NewCoordinator(NewApplier(store, store), opts...)
	c.newID = func() string { return "run-test" }
	return c
}

// assertConsistent checks the counting rules every non-fatal report obeys.
func assertConsistent(t *testing.T, r ImportReport) {
	t.Helper()
	assert.Equal(t, r.SuccessCount+r.FailedCount, r.TotalProcessed, "totalProcessed")
	assert.Len(t, r.Errors, r.FailedCount, "errors vs failedCount")
	assert.Equal(t, r.FailedCount == 0, r.Success, "success flag")
}

func TestCoordinator_AllRowsApplied(t *testing.T) {
	store := ledger.NewMemoryStore("user123", "user456")
	c := newTestCoordinator(store)

	report := c.Run(context.Background(), csvFile("user123,100,Compra mensal", "user456,200,Indicação"), noHeader())

	assertConsistent(t, report)
	assert.True(t, report.Success)
	assert.Equal(t, 2, report.TotalProcessed)
	assert.Equal(t, 2, report.SuccessCount)
	assert.Empty(t, report.Errors)
	assert.Equal(t, "run-test", report.ImportID)

	b1, _ := store.Balance("user123")
	b2, _ := store.Balance("user456")
	assert.Equal(t, int64(100), b1)
	assert.Equal(t, int64(200), b2)
}

func TestCoordinator_RowFailures(t *testing.T) {
	tests := []struct {
		name string
		line string
		want RecordError
	}{
		{"B non numeric points", "user789,abc", RecordError{Row: 1, AccountID: "user789", Message: MsgInvalidPoints, Kind: KindParse}},
		{"C single field", "user999", RecordError{Row: 1, AccountID: "user999", Message: MsgInvalidRowFormat, Kind: KindParse}},
		{"D unknown account", "ghost,10", RecordError{Row: 1, AccountID: "ghost", Message: MsgAccountNotFound, Kind: KindLookup}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := ledger.NewMemoryStore("user789", "user999")
			report := newTestCoordinator(store).Run(context.Background(), csvFile(tt.line), noHeader())

			assertConsistent(t, report)
			assert.False(t, report.Success)
			assert.Equal(t, 1, report.TotalProcessed)
			assert.Equal(t, 0, report.SuccessCount)
			require.Len(t, report.Errors, 1)
			assert.Equal(t, tt.want, report.Errors[0])
			assert.Equal(t, 0, store.EntryCount())
		})
	}
}

func TestCoordinator_FatalReports(t *testing.T) {
	tests := []struct {
		name    string
		file    File
		opts    ImportOptions
		message string
	}{
		{
			name:    "undecodable text",
			file:    File{Name: "pontos.csv", Data: []byte("user1,10,Indica\xe7\xe3o")},
			opts:    noHeader(),
			message: "could not process file: encoding error",
		},
		{
			name:    "unknown encoding",
			file:    File{Name: "pontos.csv", Data: []byte("user1,10")},
			opts:    ImportOptions{Delimiter: ",", Encoding: "nope"},
			message: "could not process file: unsupported encoding",
		},
		{
			name:    "corrupt workbook",
			file:    File{Name: "pontos.xlsx", Data: []byte("not a zip")},
			opts:    DefaultOptions(),
			message: "could not process file: open workbook",
		},
		{
			name:    "unsupported kind",
			file:    File{Name: "pontos.bin", Kind: "pdf", Data: []byte("x")},
			opts:    DefaultOptions(),
			message: "could not process file: unsupported file kind",
		},
		{
			name:    "empty file",
			file:    File{Name: "pontos.csv"},
			opts:    DefaultOptions(),
			message: "could not process file: empty file",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := ledger.NewMemoryStore("user1")
			report := newTestCoordinator(store).Run(context.Background(), tt.file, tt.opts)

			assert.True(t, report.Fatal())
			assert.False(t, report.Success)
			assert.Equal(t, 0, report.TotalProcessed)
			assert.Equal(t, 0, report.SuccessCount)
			assert.Equal(t, 1, report.FailedCount)
			require.Len(t, report.Errors, 1)
			assert.Equal(t, 0, report.Errors[0].Row)
			assert.Equal(t, UnknownAccount, report.Errors[0].AccountID)
			assert.True(t, strings.HasPrefix(report.Errors[0].Message, tt.message), report.Errors[0].Message)
			assert.Equal(t, 0, store.EntryCount())
		})
	}
}

func TestCoordinator_MixedFileOrdering(t *testing.T) {
	store := ledger.NewMemoryStore("a", "b", "c")
	// Rows 2 and 7 fail lookup, rows 4 and 6 fail parsing, row 5 is blank.
	lines := []string{
		"userId,points,note",
		"ghost1,5",
		"a,10",
		"bad",
		"",
		"b,x",
		"ghost2,1",
		"c,-3,fix",
	}

	for _, workers := range []int{1, 4} {
		t.Run(fmt.Sprintf("workers=%d", workers), func(t *testing.T) {
			report := newTestCoordinator(store, WithWorkers(workers)).Run(context.Background(), csvFile(lines...), DefaultOptions())

			assertConsistent(t, report)
			assert.Equal(t, 6, report.TotalProcessed)
			assert.Equal(t, 2, report.SuccessCount)
			assert.Equal(t, 4, report.FailedCount)

			rows := make([]int, len(report.Errors))
			for i, e := range report.Errors {
				rows[i] = e.Row
			}
			assert.Equal(t, []int{4, 6, 2, 7}, rows, "parse errors first, then apply errors by row")
		})
	}
}

func TestCoordinator_EmptyLinesNotCounted(t *testing.T) {
	store := ledger.NewMemoryStore("a")
	report := newTestCoordinator(store).Run(context.Background(), csvFile("", "a,1", "   ", "", "a,2", ""), noHeader())

	assertConsistent(t, report)
	assert.Equal(t, 2, report.TotalProcessed)
}

func TestCoordinator_HeaderOnlyFile(t *testing.T) {
	store := ledger.NewMemoryStore()
	report := newTestCoordinator(store).Run(context.Background(), csvFile("userId,points,note"), DefaultOptions())

	assertConsistent(t, report)
	assert.True(t, report.Success)
	assert.Equal(t, 0, report.TotalProcessed)
	assert.NotNil(t, report.Errors)
}

func TestCoordinator_SkipHeaderReportsPhysicalRow(t *testing.T) {
	store := ledger.NewMemoryStore()
	report := newTestCoordinator(store).Run(context.Background(), csvFile("userId,points", "user789,abc"), DefaultOptions())

	require.Len(t, report.Errors, 1)
	assert.Equal(t, 2, report.Errors[0].Row)
}

func TestCoordinator_ReimportCreditsAgain(t *testing.T) {
	store := ledger.NewMemoryStore("user123")
	c := NewCoordinator(NewApplier(store, store))
	file := csvFile("user123,100,Compra mensal")

	first := c.Run(context.Background(), file, noHeader())
	second := c.Run(context.Background(), file, noHeader())

	assert.True(t, first.Success)
	assert.True(t, second.Success)
	assert.NotEqual(t, first.ImportID, second.ImportID)

	balance, _ := store.Balance("user123")
	assert.Equal(t, int64(200), balance)

	entries, err := store.Entries(context.Background(), "user123", 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, second.ImportID, entries[0].ImportID)
	assert.Equal(t, first.ImportID, entries[1].ImportID)
}

func TestCoordinator_SpreadsheetFile(t *testing.T) {
	store := ledger.NewMemoryStore("user123")
	data := buildWorkbook(t, [][]any{
		{"userId", "points", "note"},
		{"user123", 100, "Compra mensal"},
		{"user789", "abc"},
	})

	report := newTestCoordinator(store).Run(context.Background(), File{Name: "pontos.xlsx", Data: data}, DefaultOptions())

	assertConsistent(t, report)
	assert.Equal(t, 2, report.TotalProcessed)
	assert.Equal(t, 1, report.SuccessCount)
	require.Len(t, report.Errors, 1)
	assert.Equal(t, RecordError{Row: 3, AccountID: "user789", Message: MsgInvalidPoints, Kind: KindParse}, report.Errors[0])
}

// blockingApplier applies rows normally until it reaches blockRow, then
// waits for the run to end.
type blockingApplier struct {
	next     RecordApplier
	blockRow int
}

func (b blockingApplier) Apply(ctx context.Context, rec CandidateRecord) *RecordError {
	if rec.Row >= b.blockRow {
		<-ctx.Done()
		return &RecordError{Row: rec.Row, AccountID: rec.AccountID, Message: ctx.Err().Error(), Kind: KindTimeout}
	}
	return b.next.Apply(ctx, rec)
}

func TestCoordinator_TimeoutCollapsesUnprocessedRows(t *testing.T) {
	defer goleak.VerifyNone(t)

	store := ledger.NewMemoryStore("u1", "u2", "u3")
	c := NewCoordinator(
		blockingApplier{next: NewApplier(store, store), blockRow: 3},
		WithTimeout(20*time.Millisecond),
	)

	report := c.Run(context.Background(), csvFile("u1,1", "bad", "u2,2", "u3,3"), noHeader())

	assertConsistent(t, report)
	assert.False(t, report.Success)
	assert.Equal(t, 1, report.SuccessCount)
	assert.Equal(t, 2, report.FailedCount)
	assert.Equal(t, 3, report.TotalProcessed)
	assert.Equal(t, 2, report.Unprocessed)

	require.Len(t, report.Errors, 2)
	assert.Equal(t, RecordError{Row: 2, AccountID: "bad", Message: MsgInvalidRowFormat, Kind: KindParse}, report.Errors[0])
	assert.Equal(t, RecordError{Row: 3, AccountID: UnknownAccount, Message: MsgTimedOut, Kind: KindTimeout}, report.Errors[1])

	balance, _ := store.Balance("u1")
	assert.Equal(t, int64(1), balance)
	assert.Equal(t, 1, store.EntryCount())
}

func TestCoordinator_TimeoutWithWorkerPool(t *testing.T) {
	defer goleak.VerifyNone(t)

	store := ledger.NewMemoryStore("u1", "u2", "u3", "u4", "u5", "u6")
	c := NewCoordinator(
		blockingApplier{next: NewApplier(store, store), blockRow: 4},
		WithWorkers(2),
		WithTimeout(20*time.Millisecond),
	)

	report := c.Run(context.Background(), csvFile("u1,1", "u2,1", "u3,1", "u4,1", "u5,1", "u6,1"), noHeader())

	assertConsistent(t, report)
	assert.Equal(t, 3, report.SuccessCount)
	assert.Equal(t, 3, report.Unprocessed)
	require.Len(t, report.Errors, 1)
	assert.Equal(t, RecordError{Row: 4, AccountID: UnknownAccount, Message: MsgTimedOut, Kind: KindTimeout}, report.Errors[0])
}

func TestCoordinator_CancelledBeforeApply(t *testing.T) {
	store := ledger.NewMemoryStore("u1", "u2")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report := newTestCoordinator(store).Run(ctx, csvFile("u1,1", "u2,1"), noHeader())

	assertConsistent(t, report)
	assert.Equal(t, 0, report.SuccessCount)
	assert.Equal(t, 2, report.Unprocessed)
	require.Len(t, report.Errors, 1)
	assert.Equal(t, MsgCancelled, report.Errors[0].Message)
	assert.Equal(t, 1, report.Errors[0].Row)
	assert.Equal(t, 0, store.EntryCount())
}

func TestCoordinator_WorkerPoolSerializesEachAccount(t *testing.T) {
	defer goleak.VerifyNone(t)

	accounts := []string{"a", "b", "c", "d", "e"}
	store := newTrackingStore(accounts...)

	var lines []string
	for i := 0; i < 40; i++ {
		lines = append(lines, fmt.Sprintf("%s,%d", accounts[i%len(accounts)], 1))
	}

	c := NewCoordinator(NewApplier(store, store), WithWorkers(8))
	report := c.Run(context.Background(), csvFile(lines...), noHeader())

	assertConsistent(t, report)
	assert.True(t, report.Success)
	assert.Equal(t, 40, report.SuccessCount)

	for _, id := range accounts {
		assert.Equal(t, 1, store.maxFor(id), "account %s saw overlapping writes", id)
		balance, _ := store.Balance(id)
		assert.Equal(t, int64(8), balance)
	}
	assert.Greater(t, int(store.maxTotal.Load()), 1, "distinct accounts should overlap")
}

func TestCoordinator_RecordsMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	store := ledger.NewMemoryStore("a")
	c := newTestCoordinator(store, WithMetrics(metrics.NewImport(reg)))

	c.Run(context.Background(), csvFile("a,1", "b,1", "bad"), noHeader())

	families, err := reg.Gather()
	require.NoError(t, err)

	values := map[string]float64{}
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			key := mf.GetName()
			for _, lp := range m.GetLabel() {
				key += "," + lp.GetName() + "=" + lp.GetValue()
			}
			if ctr := m.GetCounter(); ctr != nil {
				values[key] = ctr.GetValue()
			}
		}
	}

	assert.Equal(t, 1.0, values["pointsimport_runs_total,kind=delimited,outcome=partial"])
	assert.Equal(t, 1.0, values["pointsimport_rows_applied_total"])
	assert.Equal(t, 1.0, values["pointsimport_rows_failed_total,stage=parse"])
	assert.Equal(t, 1.0, values["pointsimport_rows_failed_total,stage=lookup"])
}
