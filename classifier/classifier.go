// Package classifier suggests duplicate transactions using a Gemini model.
//
// The classifier only ever suggests: it appends DuplicateSuggested events
// and the user confirms or rejects them. Confirmed and rejected decisions
// feed back into the prompt, so the classifier improves with use without
// any state outside the event log.
package classifier

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/etnz/ledger"
	"github.com/etnz/ledger/date"
	"google.golang.org/genai"
)

// DefaultModel is used when no model name is configured.
const DefaultModel = "gemini-2.5-flash"

// Classifier scores candidate duplicate pairs with a chat model.
type Classifier struct {
	log   *ledger.Log
	view  *ledger.View
	Model string
	chat  *genai.Chat
}

// New returns a classifier reading candidates from the projections and
// appending suggestions to the log.
func New(l *ledger.Log, v *ledger.View) *Classifier {
	return &Classifier{log: l, view: v, Model: DefaultModel}
}

// Start creates the chat session, seeding it with the adaptive prompt built
// from past user decisions.
func (c *Classifier) Start(ctx context.Context, client *genai.Client) error {
	prompt, err := c.buildPrompt(ctx)
	if err != nil {
		return err
	}
	cfg := &genai.GenerateContentConfig{
		SystemInstruction: &genai.Content{Parts: []*genai.Part{{Text: prompt}}},
	}
	chat, err := client.Chats.Create(ctx, c.Model, cfg, nil)
	if err != nil {
		return err
	}
	c.chat = chat
	return nil
}

// Suggestion is one pair the classifier considers likely duplicates.
type Suggestion struct {
	TransactionID      string
	OtherTransactionID string
	Confidence         float64
	Reason             string
}

// Suggest examines candidate pairs and appends a DuplicateSuggested event
// for each pair the model judges a likely duplicate. Pairs already decided
// by the user are never re-suggested.
func (c *Classifier) Suggest(ctx context.Context, minConfidence float64) ([]Suggestion, error) {
	if c.chat == nil {
		return nil, fmt.Errorf("classifier is not started")
	}
	pairs, err := c.candidates(ctx)
	if err != nil {
		return nil, err
	}
	var suggestions []Suggestion
	for _, p := range pairs {
		verdict, err := c.ask(ctx, p)
		if err != nil {
			return suggestions, err
		}
		if !verdict.Duplicate || verdict.Confidence < minConfidence {
			continue
		}
		s := Suggestion{
			TransactionID:      p.a.TransactionID,
			OtherTransactionID: p.b.TransactionID,
			Confidence:         verdict.Confidence,
			Reason:             verdict.Reason,
		}
		e, err := ledger.NewEvent(time.Time{}, ledger.DuplicateSuggested{
			TransactionID:      s.TransactionID,
			OtherTransactionID: s.OtherTransactionID,
			Confidence:         s.Confidence,
			Reason:             s.Reason,
		})
		if err != nil {
			return suggestions, err
		}
		if _, err := c.log.Append(ctx, e); err != nil {
			return suggestions, err
		}
		suggestions = append(suggestions, s)
	}
	return suggestions, nil
}

// pair is one candidate duplicate pair, ordered by id.
type pair struct {
	a, b ledger.TransactionRow
}

// candidateWindowDays bounds how far apart two rows may be and still count
// as a potential duplicate. Banks re-post the same transaction within days,
// not weeks.
const candidateWindowDays = 5

// candidates pre-filters the projection for pairs worth asking the model
// about: same account, same amount, close dates, neither side already
// decided. The model only sees the hard cases; the trivial non-matches
// never leave this process.
func (c *Classifier) candidates(ctx context.Context) ([]pair, error) {
	rows, err := c.view.Transactions(ctx, ledger.TransactionFilter{})
	if err != nil {
		return nil, err
	}
	decided, err := c.decidedPairs(ctx)
	if err != nil {
		return nil, err
	}

	var pairs []pair
	for i := 0; i < len(rows); i++ {
		for j := i + 1; j < len(rows); j++ {
			a, b := rows[i], rows[j]
			if a.Account != b.Account || a.Currency != b.Currency || !a.Amount.Equal(b.Amount) {
				continue
			}
			if date.DaysBetween(a.Date, b.Date) > candidateWindowDays {
				continue
			}
			if a.TransactionID > b.TransactionID {
				a, b = b, a
			}
			if decided[a.TransactionID+"|"+b.TransactionID] {
				continue
			}
			pairs = append(pairs, pair{a: a, b: b})
		}
	}
	return pairs, nil
}

// decidedPairs collects every pair the user has already confirmed or
// rejected, and every pair already suggested, keyed by ordered ids.
func (c *Classifier) decidedPairs(ctx context.Context) (map[string]bool, error) {
	decided := make(map[string]bool)
	mark := func(x, y string) {
		if x > y {
			x, y = y, x
		}
		decided[x+"|"+y] = true
	}
	for _, t := range []ledger.Type{ledger.TypeDuplicateSuggested, ledger.TypeDuplicateConfirmed, ledger.TypeDuplicateRejected} {
		var after uint64
		for {
			events, err := c.log.ReadByType(ctx, t, after, 500)
			if err != nil {
				return nil, err
			}
			if len(events) == 0 {
				break
			}
			for _, e := range events {
				after = e.Seq
				switch p := e.Payload.(type) {
				case ledger.DuplicateSuggested:
					mark(p.TransactionID, p.OtherTransactionID)
				case ledger.DuplicateConfirmed:
					mark(p.PrimaryTransactionID, p.DuplicateTransactionID)
				case ledger.DuplicateRejected:
					mark(p.TransactionID, p.OtherTransactionID)
				}
			}
		}
	}
	return decided, nil
}

// verdict is the shape the model is asked to answer with.
type verdict struct {
	Duplicate  bool    `json:"duplicate"`
	Confidence float64 `json:"confidence"`
	Reason     string  `json:"reason"`
}

// ask submits one pair to the chat and parses the JSON verdict.
func (c *Classifier) ask(ctx context.Context, p pair) (verdict, error) {
	question := fmt.Sprintf(
		"Are these two transactions duplicates of each other?\nA: %s %s %s %q\nB: %s %s %s %q",
		p.a.Date, p.a.Money(), p.a.Account, p.a.Description,
		p.b.Date, p.b.Money(), p.b.Account, p.b.Description)

	resp, err := c.chat.Send(ctx, &genai.Part{Text: question})
	if err != nil {
		return verdict{}, err
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		return verdict{}, fmt.Errorf("no response from model %s", c.Model)
	}
	text := resp.Candidates[0].Content.Parts[0].Text

	var v verdict
	if err := json.Unmarshal([]byte(extractJSON(text)), &v); err != nil {
		return verdict{}, fmt.Errorf("cannot parse model verdict %q: %w", text, err)
	}
	if v.Confidence < 0 {
		v.Confidence = 0
	}
	if v.Confidence > 1 {
		v.Confidence = 1
	}
	return v, nil
}

// extractJSON tolerates models wrapping their answer in a fenced block.
func extractJSON(text string) string {
	text = strings.TrimSpace(text)
	if i := strings.Index(text, "{"); i >= 0 {
		if j := strings.LastIndex(text, "}"); j > i {
			return text[i : j+1]
		}
	}
	return text
}
