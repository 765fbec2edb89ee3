package export

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/solmirror/mirrorbot/internal/signal"
)

func ptr(v float64) *float64 { return &v }

func sampleSignals() []*signal.Signal {
	closedAt := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return []*signal.Signal{
		{
			ID:       "id1",
			Wallet:   "w1",
			Mint:     "mintA",
			OpenedAt: closedAt.Add(-time.Hour),
			ClosedAt: &closedAt,
			Amount:   100,
			Status:   signal.StatusClosed,

			EntryPriceUSD: ptr(1.0),
			ExitPriceUSD:  ptr(1.5),
			ExitPnlPct:    ptr(0.5),
			CloseReason:   signal.CloseReasonTakeProfit,
			Occurrences:   2,
			Trader:        signal.TraderFills{SpentSol: 0.05},
		},
		{
			ID:       "id2",
			Wallet:   "w1",
			Mint:     "mintB",
			OpenedAt: closedAt.Add(-30 * time.Minute),
			Amount:   50,
			Status:   signal.StatusOpen,
			Trader:   signal.TraderFills{SpentSol: 0.05},
		},
	}
}

func TestWriteCSV_HeadersAndRows(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, sampleSignals(), Options{Format: FormatCSV}))

	records, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 3)

	assert.Equal(t, csvHeaders(), records[0])
	assert.Equal(t, "id1", records[1][0])
	assert.Equal(t, "closed", records[1][4])
	assert.Equal(t, "0.5", records[1][10])
	// Open signal leaves the exit columns empty.
	assert.Equal(t, "", records[2][9])
}

func TestWriteJSON_CarriesSummary(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, sampleSignals(), Options{Format: FormatJSON}))

	var doc struct {
		Summary Summary          `json:"summary"`
		Signals []*signal.Signal `json:"signals"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &doc))

	assert.Equal(t, 2, doc.Summary.TotalSignals)
	assert.Equal(t, 1, doc.Summary.ClosedSignals)
	assert.Equal(t, 1, doc.Summary.WinCount)
	assert.Len(t, doc.Signals, 2)
}

func TestWrite_ClosedOnlyFilter(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, sampleSignals(), Options{Format: FormatCSV, ClosedOnly: true}))

	records, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "id1", records[1][0])
}

func TestWrite_MintFilter(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, sampleSignals(), Options{Format: FormatCSV, Mint: "mintB"}))

	records, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "id2", records[1][0])
}

func TestWrite_UnsupportedFormat(t *testing.T) {
	var buf bytes.Buffer
	assert.Error(t, Write(&buf, sampleSignals(), Options{Format: "xml"}))
}

func TestSummarize_PnlStats(t *testing.T) {
	signals := append(sampleSignals(), &signal.Signal{
		ID:         "id3",
		Mint:       "mintA",
		Status:     signal.StatusClosed,
		ExitPnlPct: ptr(-0.3),
	})

	s := Summarize(signals)
	assert.Equal(t, 3, s.TotalSignals)
	assert.Equal(t, 2, s.UniqueMints)
	assert.Equal(t, 1, s.WinCount)
	assert.Equal(t, 1, s.LossCount)
	require.NotNil(t, s.AvgPnlPct)
	assert.InDelta(t, 0.1, *s.AvgPnlPct, 1e-9)
}
