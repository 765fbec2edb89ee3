// internal/export/export.go
package export

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strconv"
	"time"

	"github.com/solmirror/mirrorbot/internal/signal"
)

type Format string

const (
	FormatCSV  Format = "csv"
	FormatJSON Format = "json"
)

// Options filters which signals land in an export.
type Options struct {
	Format      Format
	Mint        string
	ClosedOnly  bool
	OpenedAfter time.Time
}

// Summary aggregates the exported signals. PnL statistics only cover signals
// that closed with a computed exit PnL.
type Summary struct {
	TotalSignals  int      `json:"totalSignals"`
	OpenSignals   int      `json:"openSignals"`
	ClosedSignals int      `json:"closedSignals"`
	UniqueMints   int      `json:"uniqueMints"`
	SpentSolTotal float64  `json:"spentSolTotal"`
	WinCount      int      `json:"winCount"`
	LossCount     int      `json:"lossCount"`
	AvgPnlPct     *float64 `json:"avgPnlPct,omitempty"`
}

// Write renders the filtered signals to w in the requested format.
func Write(w io.Writer, signals []*signal.Signal, opts Options) error {
	filtered := filter(signals, opts)
	sort.Slice(filtered, func(i, j int) bool {
		return filtered[i].OpenedAt.Before(filtered[j].OpenedAt)
	})

	switch opts.Format {
	case FormatCSV:
		return writeCSV(w, filtered)
	case FormatJSON:
		return writeJSON(w, filtered)
	default:
		return fmt.Errorf("unsupported export format %q", opts.Format)
	}
}

func filter(signals []*signal.Signal, opts Options) []*signal.Signal {
	var out []*signal.Signal
	for _, sig := range signals {
		if opts.Mint != "" && sig.Mint != opts.Mint {
			continue
		}
		if opts.ClosedOnly && sig.Status != signal.StatusClosed {
			continue
		}
		if !opts.OpenedAfter.IsZero() && sig.OpenedAt.Before(opts.OpenedAfter) {
			continue
		}
		out = append(out, sig)
	}
	return out
}

func csvHeaders() []string {
	return []string{
		"id", "wallet", "mint", "symbol", "status", "opened_at", "closed_at",
		"amount", "entry_price_usd", "exit_price_usd", "exit_pnl_pct",
		"close_reason", "occurrences", "spent_sol",
	}
}

func csvRow(sig *signal.Signal) []string {
	closedAt := ""
	if sig.ClosedAt != nil {
		closedAt = sig.ClosedAt.Format(time.RFC3339)
	}
	return []string{
		sig.ID,
		sig.Wallet,
		sig.Mint,
		sig.Symbol,
		string(sig.Status),
		sig.OpenedAt.Format(time.RFC3339),
		closedAt,
		strconv.FormatFloat(sig.Amount, 'f', -1, 64),
		formatOptFloat(sig.EntryPriceUSD),
		formatOptFloat(sig.ExitPriceUSD),
		formatOptFloat(sig.ExitPnlPct),
		sig.CloseReason,
		strconv.Itoa(sig.Occurrences),
		strconv.FormatFloat(sig.Trader.SpentSol, 'f', -1, 64),
	}
}

func formatOptFloat(v *float64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatFloat(*v, 'f', -1, 64)
}

func writeCSV(w io.Writer, signals []*signal.Signal) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeaders()); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}
	for _, sig := range signals {
		if err := cw.Write(csvRow(sig)); err != nil {
			return fmt.Errorf("write csv row: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}

func writeJSON(w io.Writer, signals []*signal.Signal) error {
	doc := struct {
		ExportedAt time.Time        `json:"exportedAt"`
		Summary    Summary          `json:"summary"`
		Signals    []*signal.Signal `json:"signals"`
	}{
		ExportedAt: time.Now().UTC(),
		Summary:    Summarize(signals),
		Signals:    signals,
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(doc)
}

// Summarize computes aggregate statistics over a signal set.
func Summarize(signals []*signal.Signal) Summary {
	s := Summary{TotalSignals: len(signals)}

	mints := make(map[string]bool)
	pnlSum := 0.0
	pnlCount := 0

	for _, sig := range signals {
		mints[sig.Mint] = true
		s.SpentSolTotal += sig.Trader.SpentSol

		if sig.Status == signal.StatusClosed {
			s.ClosedSignals++
		} else {
			s.OpenSignals++
		}

		if sig.ExitPnlPct == nil {
			continue
		}
		pnlSum += *sig.ExitPnlPct
		pnlCount++
		if *sig.ExitPnlPct > 0 {
			s.WinCount++
		} else if *sig.ExitPnlPct < 0 {
			s.LossCount++
		}
	}

	s.UniqueMints = len(mints)
	if pnlCount > 0 {
		avg := pnlSum / float64(pnlCount)
		s.AvgPnlPct = &avg
	}
	return s
}
