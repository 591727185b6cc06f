package classifier

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/etnz/ledger"
)

const basePrompt = `You are a duplicate detector for a personal bank ledger.
You are shown pairs of transactions from the same account with the same
amount and close dates. Decide whether they are the same real-world
transaction posted twice (a duplicate) or two genuinely distinct
transactions (e.g. two identical coffee purchases on consecutive days).

Answer with a single JSON object and nothing else:
{"duplicate": true|false, "confidence": 0.0-1.0, "reason": "one short sentence"}`

// buildPrompt assembles the system prompt: the base instructions plus the
// heuristics recorded by the latest PromptUpdated event, if any.
func (c *Classifier) buildPrompt(ctx context.Context) (string, error) {
	state, err := c.latestPromptState(ctx)
	if err != nil {
		return "", err
	}
	if state == nil || len(state.Heuristics) == 0 {
		return basePrompt, nil
	}
	var b strings.Builder
	b.WriteString(basePrompt)
	b.WriteString("\n\nLessons from this user's past decisions:\n")
	for _, h := range state.Heuristics {
		fmt.Fprintf(&b, "- %s\n", h)
	}
	return b.String(), nil
}

// latestPromptState returns the most recent PromptUpdated payload, nil when
// none was ever recorded.
func (c *Classifier) latestPromptState(ctx context.Context) (*ledger.PromptUpdated, error) {
	var latest *ledger.PromptUpdated
	var after uint64
	for {
		events, err := c.log.ReadByType(ctx, ledger.TypePromptUpdated, after, 500)
		if err != nil {
			return nil, err
		}
		if len(events) == 0 {
			return latest, nil
		}
		for _, e := range events {
			after = e.Seq
			if p, ok := e.Payload.(ledger.PromptUpdated); ok {
				latest = &p
			}
		}
	}
}

// Learn measures how past suggestions fared against user decisions and
// records the outcome as a PromptUpdated event. Heuristics are distilled
// from the rejected suggestions' reasons: a reason the user overruled is a
// pattern to distrust.
func (c *Classifier) Learn(ctx context.Context) (ledger.PromptUpdated, error) {
	suggested := make(map[string]string) // ordered pair key -> reason
	confirmed := make(map[string]bool)
	rejected := make(map[string]bool)
	key := func(x, y string) string {
		if x > y {
			x, y = y, x
		}
		return x + "|" + y
	}

	for _, t := range []ledger.Type{ledger.TypeDuplicateSuggested, ledger.TypeDuplicateConfirmed, ledger.TypeDuplicateRejected} {
		var after uint64
		for {
			events, err := c.log.ReadByType(ctx, t, after, 500)
			if err != nil {
				return ledger.PromptUpdated{}, err
			}
			if len(events) == 0 {
				break
			}
			for _, e := range events {
				after = e.Seq
				switch p := e.Payload.(type) {
				case ledger.DuplicateSuggested:
					suggested[key(p.TransactionID, p.OtherTransactionID)] = p.Reason
				case ledger.DuplicateConfirmed:
					confirmed[key(p.PrimaryTransactionID, p.DuplicateTransactionID)] = true
				case ledger.DuplicateRejected:
					rejected[key(p.TransactionID, p.OtherTransactionID)] = true
				}
			}
		}
	}

	state := ledger.PromptUpdated{}
	var heuristics []string
	for k, reason := range suggested {
		switch {
		case confirmed[k]:
			state.Confirmed++
		case rejected[k]:
			state.Rejected++
			if reason != "" {
				heuristics = append(heuristics, "The user rejected a pair you justified with: "+reason)
			}
		}
	}
	if decided := state.Confirmed + state.Rejected; decided > 0 {
		state.Accuracy = float64(state.Confirmed) / float64(decided)
	}
	sort.Strings(heuristics)
	if len(heuristics) > maxHeuristics {
		heuristics = heuristics[len(heuristics)-maxHeuristics:]
	}
	state.Heuristics = heuristics

	e, err := ledger.NewEvent(time.Time{}, state)
	if err != nil {
		return state, err
	}
	if _, err := c.log.Append(ctx, e); err != nil {
		return state, err
	}
	return state, nil
}

// maxHeuristics caps prompt growth over long usage.
const maxHeuristics = 10
