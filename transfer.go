package ledger

import (
	"context"
	"sort"
	"time"

	"github.com/etnz/ledger/date"
	"github.com/shopspring/decimal"
)

// LinkerConfig tunes transfer matching. The zero value is usable.
type LinkerConfig struct {
	// WindowDays is how far apart the two legs of a transfer may settle.
	// Defaults to 3.
	WindowDays int
	// DirectTolerance is the maximum amount difference for a same-bank
	// transfer. Defaults to zero: direct transfers match to the cent.
	DirectTolerance decimal.Decimal
	// ETransferTolerance is the maximum amount difference for a third-party
	// rail, where the received amount may be net of a fee. Defaults to 3.00.
	ETransferTolerance decimal.Decimal
	// FeeWindowDays is how far from either leg a separate fee transaction
	// may settle. Defaults to 1.
	FeeWindowDays int
	// FeeCeiling is the largest outflow considered a fee. Defaults to 3.00.
	FeeCeiling decimal.Decimal
	// MinScore discards weak matches entirely. Defaults to 0.5.
	MinScore float64
}

func (c LinkerConfig) withDefaults() LinkerConfig {
	if c.WindowDays <= 0 {
		c.WindowDays = 3
	}
	if c.ETransferTolerance.IsZero() {
		c.ETransferTolerance = decimal.NewFromInt(3)
	}
	if c.FeeWindowDays <= 0 {
		c.FeeWindowDays = 1
	}
	if c.FeeCeiling.IsZero() {
		c.FeeCeiling = decimal.NewFromInt(3)
	}
	if c.MinScore <= 0 {
		c.MinScore = 0.5
	}
	return c
}

// TransferMatchAmbiguity reports that several candidates tied for the best
// match of one transaction. The tie was broken deterministically and the
// link was still recorded; the ambiguity is surfaced so the user can review
// it. It is an ordinary result value, not an error.
type TransferMatchAmbiguity struct {
	TransactionID string
	CandidateIDs  []string // the tied candidates, the first one was chosen
	Score         float64
}

// LinkReport summarizes one linker run.
type LinkReport struct {
	Linked    int
	Ambiguous []TransferMatchAmbiguity
}

// Linker detects cross-account transfers among unlinked transactions and
// records them as TransferLinked events. Running it twice over the same data
// is a no-op: transactions already participating in a link are skipped.
type Linker struct {
	log  *Log
	view *View
	cfg  LinkerConfig
}

// NewLinker returns a linker matching over the given projections and
// appending its findings to the log.
func NewLinker(l *Log, v *View, cfg LinkerConfig) *Linker {
	return &Linker{log: l, view: v, cfg: cfg.withDefaults()}
}

// candidate is one scored pairing of an outflow with an inflow.
type candidate struct {
	in     TransactionRow
	method string
	score  float64
	days   int
}

// Run matches every unlinked outflow against inflows in other accounts and
// appends one TransferLinked event per match. Outflows are processed in
// (date, id) order and each inflow is consumed at most once, so the result
// is independent of discovery order.
func (k *Linker) Run(ctx context.Context) (LinkReport, error) {
	var report LinkReport

	rows, err := k.view.Transactions(ctx, TransactionFilter{})
	if err != nil {
		return report, err
	}
	linked, err := k.view.LinkedIDs(ctx)
	if err != nil {
		return report, err
	}

	var outflows, inflows []TransactionRow
	for _, r := range rows {
		if linked[r.TransactionID] {
			continue
		}
		switch {
		case r.Amount.IsNegative():
			outflows = append(outflows, r)
		case r.Amount.IsPositive():
			inflows = append(inflows, r)
		}
	}
	consumed := make(map[string]bool)

	for _, out := range outflows {
		if consumed[out.TransactionID] {
			continue
		}
		best, tied := k.match(out, inflows, consumed)
		if len(best) == 0 {
			continue
		}
		chosen := best[0]
		if tied {
			ids := make([]string, len(best))
			for i, c := range best {
				ids[i] = c.in.TransactionID
			}
			report.Ambiguous = append(report.Ambiguous, TransferMatchAmbiguity{
				TransactionID: out.TransactionID,
				CandidateIDs:  ids,
				Score:         chosen.score,
			})
		}

		link := TransferLinked{
			SourceTransactionID:      out.TransactionID,
			DestinationTransactionID: chosen.in.TransactionID,
			SourceAccount:            out.Account,
			DestinationAccount:       chosen.in.Account,
			Amount:                   chosen.in.Amount,
			Currency:                 out.Currency,
			Method:                   chosen.method,
			Score:                    chosen.score,
		}
		if chosen.method == MethodETransfer {
			lost := out.Amount.Neg().Sub(chosen.in.Amount)
			if feeID, ok := k.findFee(out, chosen.in, lost, outflows, consumed); ok {
				link.FeeTransactionIDs = []string{feeID}
				consumed[feeID] = true
			}
		}

		e, err := NewEvent(time.Time{}, link)
		if err != nil {
			return report, err
		}
		if _, err := k.log.Append(ctx, e); err != nil {
			return report, err
		}
		consumed[out.TransactionID] = true
		consumed[chosen.in.TransactionID] = true
		report.Linked++
	}
	return report, nil
}

// match scores every eligible inflow against one outflow and returns the
// candidates sharing the best score, ordered by date distance then id. tied
// reports whether more than one candidate survived even those tie-breaks'
// first level, i.e. shares the top score.
func (k *Linker) match(out TransactionRow, inflows []TransactionRow, consumed map[string]bool) (best []candidate, tied bool) {
	var candidates []candidate
	for _, in := range inflows {
		if consumed[in.TransactionID] || in.Account == out.Account || in.Currency != out.Currency {
			continue
		}
		c, ok := k.score(out, in)
		if ok {
			candidates = append(candidates, c)
		}
	}
	if len(candidates) == 0 {
		return nil, false
	}
	sort.Slice(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.score != b.score {
			return a.score > b.score
		}
		if a.days != b.days {
			return a.days < b.days
		}
		return a.in.TransactionID < b.in.TransactionID
	})
	top := candidates[0].score
	for _, c := range candidates {
		if c.score == top {
			best = append(best, c)
		}
	}
	return best, len(best) > 1
}

// score rates one pairing. An exact amount match settling within one day is
// a certain transfer (score 1.0); each extra day of settlement delay and any
// use of the fee tolerance degrade the score.
func (k *Linker) score(out, in TransactionRow) (candidate, bool) {
	days := date.DaysBetween(out.Date, in.Date)
	if days > k.cfg.WindowDays {
		return candidate{}, false
	}
	sent := out.Amount.Neg()
	diff := sent.Sub(in.Amount).Abs()

	var method string
	score := 1.0
	switch {
	case diff.LessThanOrEqual(k.cfg.DirectTolerance):
		method = MethodDirect
	case diff.LessThanOrEqual(k.cfg.ETransferTolerance):
		method = MethodETransfer
		score -= 0.2
	default:
		return candidate{}, false
	}
	if days > 1 {
		score -= 0.05 * float64(days-1)
	}
	if score < k.cfg.MinScore {
		return candidate{}, false
	}
	return candidate{in: in, method: method, score: score, days: days}, true
}

// findFee looks for a separate small outflow carrying the rail's fee, in
// either of the two linked accounts, settled close to one of the legs. Only
// outflows at or below the configured ceiling qualify; one matching the
// amount lost between the legs exactly is preferred, then the closest one,
// then the smallest id.
func (k *Linker) findFee(out, in TransactionRow, lost decimal.Decimal, outflows []TransactionRow, consumed map[string]bool) (string, bool) {
	type feeCandidate struct {
		id    string
		exact bool
		days  int
	}
	var found []feeCandidate
	for _, f := range outflows {
		if consumed[f.TransactionID] || f.TransactionID == out.TransactionID {
			continue
		}
		if f.Account != out.Account && f.Account != in.Account {
			continue
		}
		if f.Currency != out.Currency {
			continue
		}
		fee := f.Amount.Neg()
		if fee.GreaterThan(k.cfg.FeeCeiling) {
			continue
		}
		days := date.DaysBetween(out.Date, f.Date)
		if d := date.DaysBetween(in.Date, f.Date); d < days {
			days = d
		}
		if days > k.cfg.FeeWindowDays {
			continue
		}
		found = append(found, feeCandidate{id: f.TransactionID, exact: fee.Equal(lost), days: days})
	}
	if len(found) == 0 {
		return "", false
	}
	sort.Slice(found, func(i, j int) bool {
		a, b := found[i], found[j]
		if a.exact != b.exact {
			return a.exact
		}
		if a.days != b.days {
			return a.days < b.days
		}
		return a.id < b.id
	})
	return found[0].id, true
}
