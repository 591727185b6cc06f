// Package ledger implements an event-sourced personal ledger of bank
// transactions and budgets. It is designed to be local-first, auditable,
// and idempotent: re-importing identical source data never duplicates
// records, and the current view of the ledger can always be rebuilt from
// its durable history of facts.
//
// The core functionalities include:
//   - Identity: a deterministic transaction identifier derived from the
//     immutable properties of a bank row, so the same row always maps to
//     the same transaction.
//   - Event Log: a durable, append-only, strictly-ordered store of typed
//     facts. Events are never mutated or deleted.
//   - Projections: disposable materialized views (transactions, budgets)
//     derived by replaying the event log in sequence order. They can be
//     dropped and rebuilt at any time.
//   - Transfer Linking: automatic recognition of cross-account transfers,
//     linking the two transactions that represent the same movement of
//     money (with tolerance for e-transfer fees).
//   - Migration: a backfill-and-validate pipeline to move an existing
//     ledger snapshot into the event log, safe to re-run.
//
// This package serves as the foundational logic for the `plg` command-line
// tool, ensuring that all operations are consistent and based on a single
// source of truth: the event log.
package ledger
