package connection_pool

import (
	"sync"

	connsource "github.com/connsource/go-connsource"
)

// pendingEnlistments holds the connectors closed by their logical connection
// while still enlisted in a transaction. A connector is in at most one
// list; each list is a LIFO stack.
type pendingEnlistments struct {
	pendingMutex sync.Mutex
	pending      map[connsource.Transaction][]connsource.Connector
	pendingTxn   map[connsource.Connector]connsource.Transaction
}

func (p *pendingEnlistments) addPending(c connsource.Connector, txn connsource.Transaction) {
	p.pendingMutex.Lock()
	defer p.pendingMutex.Unlock()

	if p.pending == nil {
		p.pending = make(map[connsource.Transaction][]connsource.Connector)
		p.pendingTxn = make(map[connsource.Connector]connsource.Transaction)
	}

	if old, ok := p.pendingTxn[c]; ok {
		if old == txn {
			return
		}
		p.removeLocked(c, old)
	}

	p.pending[txn] = append(p.pending[txn], c)
	p.pendingTxn[c] = txn
}

func (p *pendingEnlistments) tryRemovePending(c connsource.Connector, txn connsource.Transaction) bool {
	p.pendingMutex.Lock()
	defer p.pendingMutex.Unlock()

	if owner, ok := p.pendingTxn[c]; !ok || owner != txn {
		return false
	}
	return p.removeLocked(c, txn)
}

// rentPending removes and returns the most recently added connector of txn
// accepted by the first matcher that accepts any. Without matchers the
// last connector is taken.
func (p *pendingEnlistments) rentPending(txn connsource.Transaction, matchers ...func(connsource.Connector) bool) (connsource.Connector, bool) {
	p.pendingMutex.Lock()
	defer p.pendingMutex.Unlock()

	list := p.pending[txn]
	if len(list) == 0 {
		return nil, false
	}

	if len(matchers) == 0 {
		c := list[len(list)-1]
		p.removeAtLocked(txn, len(list)-1)
		return c, true
	}

	for _, match := range matchers {
		for i := len(list) - 1; i >= 0; i-- {
			if c := list[i]; match(c) {
				p.removeAtLocked(txn, i)
				return c, true
			}
		}
	}
	return nil, false
}

func (p *pendingEnlistments) removeLocked(c connsource.Connector, txn connsource.Transaction) bool {
	list := p.pending[txn]
	for i := len(list) - 1; i >= 0; i-- {
		if list[i] == c {
			p.removeAtLocked(txn, i)
			return true
		}
	}
	return false
}

func (p *pendingEnlistments) removeAtLocked(txn connsource.Transaction, i int) {
	list := p.pending[txn]
	delete(p.pendingTxn, list[i])

	copy(list[i:], list[i+1:])
	list[len(list)-1] = nil
	list = list[:len(list)-1]

	if len(list) == 0 {
		delete(p.pending, txn)
		return
	}
	p.pending[txn] = list
}

// pendingCount returns the number of pending connectors and transactions.
func (p *pendingEnlistments) pendingCount() (connectors int, transactions int) {
	p.pendingMutex.Lock()
	defer p.pendingMutex.Unlock()

	return len(p.pendingTxn), len(p.pending)
}

func (p *pendingEnlistments) isPending(c connsource.Connector) bool {
	p.pendingMutex.Lock()
	defer p.pendingMutex.Unlock()

	_, ok := p.pendingTxn[c]
	return ok
}
