package ledger

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Type is a typed string identifying an event variant.
type Type string

// The closed set of event variants. Adding a variant is a catalog change;
// removing or renaming one is forbidden because the log is never rewritten.
const (
	TypeTransactionImported    Type = "transaction.imported"
	TypeDescriptionObserved    Type = "transaction.description_observed"
	TypeTransactionCategorized Type = "transaction.categorized"
	TypeDuplicateSuggested     Type = "transaction.duplicate_suggested"
	TypeDuplicateConfirmed     Type = "transaction.duplicate_confirmed"
	TypeDuplicateRejected      Type = "transaction.duplicate_rejected"
	TypeTransferLinked         Type = "transaction.transfer_linked"
	TypeBudgetCreated          Type = "budget.created"
	TypeBudgetUpdated          Type = "budget.updated"
	TypePromptUpdated          Type = "prompt.updated"
)

// Aggregate kinds an event can be about.
const (
	AggregateTransaction = "transaction"
	AggregateBudget      = "budget"
	AggregatePrompt      = "prompt"
)

// Event is an immutable fact. Once appended to the log its fields never
// change and it is never deleted.
type Event struct {
	// ID is the globally unique event id, assigned at construction.
	ID string
	// Seq is the strictly increasing sequence number assigned by the log at
	// append time. It is the sole total order over facts: consumers must
	// never infer order from Timestamp alone (backfills post events out of
	// real-time order).
	Seq uint64
	// Type identifies the variant.
	Type Type
	// Version is the schema version of the payload, so projection logic can
	// interpret events written under an older schema without rewriting
	// history.
	Version int
	// Timestamp is when the fact occurred, distinct from log-insertion time.
	Timestamp time.Time
	// AggregateType and AggregateID identify what the fact is about.
	AggregateType string
	AggregateID   string
	// Payload carries the variant-specific fields.
	Payload Payload
}

// Payload is the variant-specific content of an event. All implementations
// live in this package: the catalog is closed.
type Payload interface {
	eventType() Type
	version() int
	aggregate() (kind, id string)
	validate() error
}

// NewEvent validates the payload and wraps it into an Event ready to be
// appended. A payload failing its required-field contract is rejected here
// with a ValidationError, before it ever reaches the log. A zero timestamp
// defaults to now.
func NewEvent(at time.Time, p Payload) (Event, error) {
	if err := p.validate(); err != nil {
		return Event{}, err
	}
	if at.IsZero() {
		at = time.Now()
	}
	kind, id := p.aggregate()
	return Event{
		ID:            uuid.NewString(),
		Type:          p.eventType(),
		Version:       p.version(),
		Timestamp:     at.UTC().Truncate(time.Millisecond),
		AggregateType: kind,
		AggregateID:   id,
		Payload:       p,
	}, nil
}

// decodePayload dispatches on (type, version) to decode a stored payload.
func decodePayload(t Type, version int, data []byte) (Payload, error) {
	if version != 1 {
		return nil, fmt.Errorf("unknown schema version %d for event type %q", version, t)
	}
	var p Payload
	var err error
	switch t {
	case TypeTransactionImported:
		p, err = unmarshalPayload[TransactionImported](data)
	case TypeDescriptionObserved:
		p, err = unmarshalPayload[DescriptionObserved](data)
	case TypeTransactionCategorized:
		p, err = unmarshalPayload[TransactionCategorized](data)
	case TypeDuplicateSuggested:
		p, err = unmarshalPayload[DuplicateSuggested](data)
	case TypeDuplicateConfirmed:
		p, err = unmarshalPayload[DuplicateConfirmed](data)
	case TypeDuplicateRejected:
		p, err = unmarshalPayload[DuplicateRejected](data)
	case TypeTransferLinked:
		p, err = unmarshalPayload[TransferLinked](data)
	case TypeBudgetCreated:
		p, err = unmarshalPayload[BudgetCreated](data)
	case TypeBudgetUpdated:
		p, err = unmarshalPayload[BudgetUpdated](data)
	case TypePromptUpdated:
		p, err = unmarshalPayload[PromptUpdated](data)
	default:
		return nil, fmt.Errorf("unknown event type %q", t)
	}
	if err != nil {
		return nil, fmt.Errorf("cannot decode %s payload: %w", t, err)
	}
	return p, nil
}
