package chain

import (
	"context"
	"sync"

	"github.com/driftlabs/mixpool/internal/idgen"
)

// SimulatedSource is an in-process chain for development and tests. It also
// acts as the payout broadcaster: Send appends a mempool transaction that
// confirms as blocks are mined.
type SimulatedSource struct {
	mu     sync.RWMutex
	height int64
	fees   FeeEstimates
	txs    map[string][]Tx // by address
}

// NewSimulatedSource creates a simulator at a plausible mainnet height.
func NewSimulatedSource() *SimulatedSource {
	return &SimulatedSource{
		height: 800_000,
		fees:   FeeEstimates{Fast: 30, Medium: 15, Slow: 5},
		txs:    make(map[string][]Tx),
	}
}

func (s *SimulatedSource) TipHeight(ctx context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.height, nil
}

func (s *SimulatedSource) FeeEstimates(ctx context.Context) (FeeEstimates, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.fees, nil
}

func (s *SimulatedSource) AddressTransactions(ctx context.Context, address string) ([]Tx, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Tx(nil), s.txs[address]...), nil
}

// Send broadcasts a payout into the simulated mempool and returns its txid.
// Satisfies the scheduler's Sender.
func (s *SimulatedSource) Send(ctx context.Context, address string, amount int64) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	txid := idgen.Hex(32)
	s.txs[address] = append(s.txs[address], Tx{
		TxID:    txid,
		Address: address,
		Amount:  amount,
	})
	return txid, nil
}

// SimulateNewBlock mines one block: the height advances and every mempool
// transaction is included in the new block.
func (s *SimulatedSource) SimulateNewBlock() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.height++
	for addr, txs := range s.txs {
		for i := range txs {
			if txs[i].BlockHeight == 0 {
				txs[i].BlockHeight = s.height
			}
		}
		s.txs[addr] = txs
	}
	return s.height
}

// SimulateBlocks mines n blocks.
func (s *SimulatedSource) SimulateBlocks(n int) int64 {
	var height int64
	for i := 0; i < n; i++ {
		height = s.SimulateNewBlock()
	}
	return height
}

// AddTransaction injects an externally observed transaction, e.g. a deposit
// arriving at a token address.
func (s *SimulatedSource) AddTransaction(tx Tx) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.txs[tx.Address] = append(s.txs[tx.Address], tx)
}

// SetFees overrides the recommended fee rates.
func (s *SimulatedSource) SetFees(f FeeEstimates) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fees = f
}

// Compile-time assertion that SimulatedSource implements DataSource.
var _ DataSource = (*SimulatedSource)(nil)
