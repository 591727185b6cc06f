package ledger

import (
	"encoding/json"

	"github.com/etnz/ledger/date"
	"github.com/shopspring/decimal"
)

// Transfer matching methods recorded on TransferLinked events.
const (
	MethodDirect    = "direct"    // same-bank transfer, amounts match exactly (within the tight tolerance)
	MethodETransfer = "etransfer" // third-party rail, amount may be net of a fee
)

// unmarshalPayload decodes a payload of a concrete variant type.
func unmarshalPayload[T Payload](data []byte) (Payload, error) {
	var p T
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, err
	}
	return p, nil
}

// TransactionImported records a bank row entering the ledger for the first
// time. Exactly one per transaction id: re-imports of an already-seen id are
// skipped by the importer, never appended.
type TransactionImported struct {
	TransactionID string          `json:"transactionId"`
	Account       string          `json:"account"`
	Date          date.Date       `json:"date"`
	Amount        decimal.Decimal `json:"amount"`
	Currency      string          `json:"currency"`
	Description   string          `json:"description"`
	SourceFile    string          `json:"sourceFile,omitempty"`
}

func (p TransactionImported) eventType() Type { return TypeTransactionImported }
func (p TransactionImported) version() int    { return 1 }
func (p TransactionImported) aggregate() (string, string) {
	return AggregateTransaction, p.TransactionID
}
func (p TransactionImported) validate() error {
	if p.TransactionID == "" {
		return invalidf(TypeTransactionImported, "transactionId", "is required")
	}
	if p.Account == "" {
		return invalidf(TypeTransactionImported, "account", "is required")
	}
	if p.Date.IsZero() {
		return invalidf(TypeTransactionImported, "date", "is required")
	}
	if p.Currency == "" {
		return invalidf(TypeTransactionImported, "currency", "is required")
	}
	return nil
}

func (p TransactionImported) MarshalJSON() ([]byte, error) {
	var w jsonObjectWriter
	w.Append("transactionId", p.TransactionID)
	w.Append("account", p.Account)
	w.Append("date", p.Date)
	w.Append("amount", p.Amount)
	w.Append("currency", p.Currency)
	w.Append("description", p.Description)
	w.Optional("sourceFile", p.SourceFile)
	return w.MarshalJSON()
}

// DescriptionObserved records that a later import carried different
// description text for an already-known transaction id. The projection keeps
// every observed variant; which one is canonical is a builder policy.
type DescriptionObserved struct {
	TransactionID string `json:"transactionId"`
	Description   string `json:"description"`
	SourceFile    string `json:"sourceFile,omitempty"`
}

func (p DescriptionObserved) eventType() Type { return TypeDescriptionObserved }
func (p DescriptionObserved) version() int    { return 1 }
func (p DescriptionObserved) aggregate() (string, string) {
	return AggregateTransaction, p.TransactionID
}
func (p DescriptionObserved) validate() error {
	if p.TransactionID == "" {
		return invalidf(TypeDescriptionObserved, "transactionId", "is required")
	}
	if p.Description == "" {
		return invalidf(TypeDescriptionObserved, "description", "is required")
	}
	return nil
}

func (p DescriptionObserved) MarshalJSON() ([]byte, error) {
	var w jsonObjectWriter
	w.Append("transactionId", p.TransactionID)
	w.Append("description", p.Description)
	w.Optional("sourceFile", p.SourceFile)
	return w.MarshalJSON()
}

// TransactionCategorized records a category assignment. The previous value
// remains recoverable by replaying the aggregate's history.
type TransactionCategorized struct {
	TransactionID string `json:"transactionId"`
	Category      string `json:"category"`
	Subcategory   string `json:"subcategory,omitempty"`
}

func (p TransactionCategorized) eventType() Type { return TypeTransactionCategorized }
func (p TransactionCategorized) version() int    { return 1 }
func (p TransactionCategorized) aggregate() (string, string) {
	return AggregateTransaction, p.TransactionID
}
func (p TransactionCategorized) validate() error {
	if p.TransactionID == "" {
		return invalidf(TypeTransactionCategorized, "transactionId", "is required")
	}
	if p.Category == "" {
		return invalidf(TypeTransactionCategorized, "category", "is required")
	}
	return nil
}

func (p TransactionCategorized) MarshalJSON() ([]byte, error) {
	var w jsonObjectWriter
	w.Append("transactionId", p.TransactionID)
	w.Append("category", p.Category)
	w.Optional("subcategory", p.Subcategory)
	return w.MarshalJSON()
}

// DuplicateSuggested is written by the duplicate classifier for each
// candidate pair it scores. It never mutates the projection: only a user
// decision does.
type DuplicateSuggested struct {
	TransactionID      string  `json:"transactionId"`
	OtherTransactionID string  `json:"otherTransactionId"`
	Confidence         float64 `json:"confidence"`
	Reason             string  `json:"reason,omitempty"`
}

func (p DuplicateSuggested) eventType() Type { return TypeDuplicateSuggested }
func (p DuplicateSuggested) version() int    { return 1 }
func (p DuplicateSuggested) aggregate() (string, string) {
	return AggregateTransaction, p.TransactionID
}
func (p DuplicateSuggested) validate() error {
	if p.TransactionID == "" {
		return invalidf(TypeDuplicateSuggested, "transactionId", "is required")
	}
	if p.OtherTransactionID == "" {
		return invalidf(TypeDuplicateSuggested, "otherTransactionId", "is required")
	}
	if p.OtherTransactionID == p.TransactionID {
		return invalidf(TypeDuplicateSuggested, "otherTransactionId", "must differ from transactionId")
	}
	if p.Confidence <= 0 || p.Confidence > 1 {
		return invalidf(TypeDuplicateSuggested, "confidence", "must be in (0, 1], got %v", p.Confidence)
	}
	return nil
}

func (p DuplicateSuggested) MarshalJSON() ([]byte, error) {
	var w jsonObjectWriter
	w.Append("transactionId", p.TransactionID)
	w.Append("otherTransactionId", p.OtherTransactionID)
	w.Append("confidence", p.Confidence)
	w.Optional("reason", p.Reason)
	return w.MarshalJSON()
}

// DuplicateConfirmed records the user decision that the duplicate
// transaction is a duplicate of the primary one. Exactly one side is marked.
type DuplicateConfirmed struct {
	PrimaryTransactionID   string `json:"primaryTransactionId"`
	DuplicateTransactionID string `json:"duplicateTransactionId"`
}

func (p DuplicateConfirmed) eventType() Type { return TypeDuplicateConfirmed }
func (p DuplicateConfirmed) version() int    { return 1 }
func (p DuplicateConfirmed) aggregate() (string, string) {
	return AggregateTransaction, p.DuplicateTransactionID
}
func (p DuplicateConfirmed) validate() error {
	if p.PrimaryTransactionID == "" {
		return invalidf(TypeDuplicateConfirmed, "primaryTransactionId", "is required")
	}
	if p.DuplicateTransactionID == "" {
		return invalidf(TypeDuplicateConfirmed, "duplicateTransactionId", "is required")
	}
	if p.PrimaryTransactionID == p.DuplicateTransactionID {
		return invalidf(TypeDuplicateConfirmed, "duplicateTransactionId", "must differ from primaryTransactionId")
	}
	return nil
}

func (p DuplicateConfirmed) MarshalJSON() ([]byte, error) {
	var w jsonObjectWriter
	w.Append("primaryTransactionId", p.PrimaryTransactionID)
	w.Append("duplicateTransactionId", p.DuplicateTransactionID)
	return w.MarshalJSON()
}

// DuplicateRejected records the user decision that a suggested pair is not
// a duplicate. The projection is left untouched, but the decision stays in
// the log for downstream learning.
type DuplicateRejected struct {
	TransactionID      string `json:"transactionId"`
	OtherTransactionID string `json:"otherTransactionId"`
}

func (p DuplicateRejected) eventType() Type { return TypeDuplicateRejected }
func (p DuplicateRejected) version() int    { return 1 }
func (p DuplicateRejected) aggregate() (string, string) {
	return AggregateTransaction, p.TransactionID
}
func (p DuplicateRejected) validate() error {
	if p.TransactionID == "" {
		return invalidf(TypeDuplicateRejected, "transactionId", "is required")
	}
	if p.OtherTransactionID == "" {
		return invalidf(TypeDuplicateRejected, "otherTransactionId", "is required")
	}
	return nil
}

func (p DuplicateRejected) MarshalJSON() ([]byte, error) {
	var w jsonObjectWriter
	w.Append("transactionId", p.TransactionID)
	w.Append("otherTransactionId", p.OtherTransactionID)
	return w.MarshalJSON()
}

// TransferLinked records that two transactions in different accounts
// represent the same movement of money. The link is symmetric: a single
// event carries both sides.
type TransferLinked struct {
	SourceTransactionID      string          `json:"sourceTransactionId"`
	DestinationTransactionID string          `json:"destinationTransactionId"`
	SourceAccount            string          `json:"sourceAccount"`
	DestinationAccount       string          `json:"destinationAccount"`
	Amount                   decimal.Decimal `json:"amount"` // matched amount, as received by the destination
	Currency                 string          `json:"currency"`
	Method                   string          `json:"method"`
	Score                    float64         `json:"score"`
	FeeTransactionIDs        []string        `json:"feeTransactionIds,omitempty"`
}

func (p TransferLinked) eventType() Type { return TypeTransferLinked }
func (p TransferLinked) version() int    { return 1 }
func (p TransferLinked) aggregate() (string, string) {
	return AggregateTransaction, p.SourceTransactionID
}
func (p TransferLinked) validate() error {
	if p.SourceTransactionID == "" {
		return invalidf(TypeTransferLinked, "sourceTransactionId", "is required")
	}
	if p.DestinationTransactionID == "" {
		return invalidf(TypeTransferLinked, "destinationTransactionId", "is required")
	}
	if p.SourceTransactionID == p.DestinationTransactionID {
		return invalidf(TypeTransferLinked, "destinationTransactionId", "must differ from sourceTransactionId")
	}
	if p.SourceAccount == "" || p.DestinationAccount == "" {
		return invalidf(TypeTransferLinked, "sourceAccount", "both accounts are required")
	}
	if p.SourceAccount == p.DestinationAccount {
		return invalidf(TypeTransferLinked, "destinationAccount", "must differ from sourceAccount")
	}
	if p.Method != MethodDirect && p.Method != MethodETransfer {
		return invalidf(TypeTransferLinked, "method", "must be %q or %q, got %q", MethodDirect, MethodETransfer, p.Method)
	}
	if p.Score <= 0 || p.Score > 1 {
		return invalidf(TypeTransferLinked, "score", "must be in (0, 1], got %v", p.Score)
	}
	return nil
}

func (p TransferLinked) MarshalJSON() ([]byte, error) {
	var w jsonObjectWriter
	w.Append("sourceTransactionId", p.SourceTransactionID)
	w.Append("destinationTransactionId", p.DestinationTransactionID)
	w.Append("sourceAccount", p.SourceAccount)
	w.Append("destinationAccount", p.DestinationAccount)
	w.Append("amount", p.Amount)
	w.Append("currency", p.Currency)
	w.Append("method", p.Method)
	w.Append("score", p.Score)
	w.Optional("feeTransactionIds", p.FeeTransactionIDs)
	return w.MarshalJSON()
}

// BudgetCreated declares a spending budget for a category.
type BudgetCreated struct {
	Category      string          `json:"category"`
	Subcategory   string          `json:"subcategory,omitempty"`
	Amount        decimal.Decimal `json:"amount"`
	Currency      string          `json:"currency"`
	Period        string          `json:"period"` // "monthly" or "yearly"
	EffectiveFrom date.Date       `json:"effectiveFrom"`
}

func (p BudgetCreated) eventType() Type { return TypeBudgetCreated }
func (p BudgetCreated) version() int    { return 1 }
func (p BudgetCreated) aggregate() (string, string) {
	return AggregateBudget, BudgetKey(p.Category, p.Subcategory)
}
func (p BudgetCreated) validate() error { return validateBudget(TypeBudgetCreated, p) }

func (p BudgetCreated) MarshalJSON() ([]byte, error) { return marshalBudget(p) }

// BudgetUpdated supersedes an earlier budget for the same category from its
// effective date on. Earlier rows are kept so historical queries remain
// answerable.
type BudgetUpdated struct {
	Category      string          `json:"category"`
	Subcategory   string          `json:"subcategory,omitempty"`
	Amount        decimal.Decimal `json:"amount"`
	Currency      string          `json:"currency"`
	Period        string          `json:"period"`
	EffectiveFrom date.Date       `json:"effectiveFrom"`
}

func (p BudgetUpdated) eventType() Type { return TypeBudgetUpdated }
func (p BudgetUpdated) version() int    { return 1 }
func (p BudgetUpdated) aggregate() (string, string) {
	return AggregateBudget, BudgetKey(p.Category, p.Subcategory)
}
func (p BudgetUpdated) validate() error {
	return validateBudget(TypeBudgetUpdated, BudgetCreated(p))
}

func (p BudgetUpdated) MarshalJSON() ([]byte, error) { return marshalBudget(BudgetCreated(p)) }

// BudgetKey is the aggregate id of a budget: its category pair.
func BudgetKey(category, subcategory string) string {
	if subcategory == "" {
		return category
	}
	return category + "/" + subcategory
}

func validateBudget(t Type, p BudgetCreated) error {
	if p.Category == "" {
		return invalidf(t, "category", "is required")
	}
	if !p.Amount.IsPositive() {
		return invalidf(t, "amount", "must be positive, got %s", p.Amount)
	}
	if p.Currency == "" {
		return invalidf(t, "currency", "is required")
	}
	if period, err := date.ParsePeriod(p.Period); err != nil || (period != date.Monthly && period != date.Yearly) {
		return invalidf(t, "period", "must be %q or %q, got %q", "monthly", "yearly", p.Period)
	}
	if p.EffectiveFrom.IsZero() {
		return invalidf(t, "effectiveFrom", "is required")
	}
	return nil
}

func marshalBudget(p BudgetCreated) ([]byte, error) {
	var w jsonObjectWriter
	w.Append("category", p.Category)
	w.Optional("subcategory", p.Subcategory)
	w.Append("amount", p.Amount)
	w.Append("currency", p.Currency)
	w.Append("period", p.Period)
	w.Append("effectiveFrom", p.EffectiveFrom)
	return w.MarshalJSON()
}

// PromptUpdated carries accuracy metrics and learned heuristics from user
// feedback, consumed by the duplicate classifier to adapt its prompt. The
// projection ignores it: the classifier state lives in the log only.
type PromptUpdated struct {
	Accuracy   float64  `json:"accuracy"`
	Confirmed  int      `json:"confirmed"`
	Rejected   int      `json:"rejected"`
	Heuristics []string `json:"heuristics,omitempty"`
}

func (p PromptUpdated) eventType() Type { return TypePromptUpdated }
func (p PromptUpdated) version() int    { return 1 }
func (p PromptUpdated) aggregate() (string, string) {
	return AggregatePrompt, "duplicate-classifier"
}
func (p PromptUpdated) validate() error {
	if p.Accuracy < 0 || p.Accuracy > 1 {
		return invalidf(TypePromptUpdated, "accuracy", "must be in [0, 1], got %v", p.Accuracy)
	}
	if p.Confirmed < 0 || p.Rejected < 0 {
		return invalidf(TypePromptUpdated, "confirmed", "counts must not be negative")
	}
	return nil
}

func (p PromptUpdated) MarshalJSON() ([]byte, error) {
	var w jsonObjectWriter
	w.Append("accuracy", p.Accuracy)
	w.Append("confirmed", p.Confirmed)
	w.Append("rejected", p.Rejected)
	w.Optional("heuristics", p.Heuristics)
	return w.MarshalJSON()
}
