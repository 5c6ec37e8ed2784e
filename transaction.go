package connsource

import (
	"github.com/google/uuid"
)

// Transaction is an opaque handle of an ambient distributed transaction.
// Handles are comparable and are used as keys of pending enlistment lists.
type Transaction struct {
	id uuid.UUID
}

// NewTransaction returns a handle for a new transaction.
func NewTransaction() Transaction {
	return Transaction{id: uuid.New()}
}

// TransactionFromID returns the handle of a transaction identified
// elsewhere, e.g. by a transaction coordinator.
func TransactionFromID(id uuid.UUID) Transaction {
	return Transaction{id: id}
}

func (t Transaction) ID() uuid.UUID {
	return t.id
}

func (t Transaction) String() string {
	return t.id.String()
}
