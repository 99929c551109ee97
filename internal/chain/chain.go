// Package chain provides Bitcoin chain data: tip height, fee estimates, and
// per-address transactions. Production reads from a mempool-style REST API;
// development and tests run against the simulator.
package chain

import "context"

// ConfirmationTarget is how many confirmations a deposit needs before the
// monitor treats it as settled.
const ConfirmationTarget = 6

// FeeEstimates are recommended fee rates in sat/vB.
type FeeEstimates struct {
	Fast   int64 `json:"fast"`
	Medium int64 `json:"medium"`
	Slow   int64 `json:"slow"`
}

// Tx is a transaction touching a watched address. BlockHeight 0 means the
// transaction is still in the mempool.
type Tx struct {
	TxID        string `json:"txId"`
	Address     string `json:"address"`
	Amount      int64  `json:"amount"`
	BlockHeight int64  `json:"blockHeight"`
}

// Confirmations returns how many blocks deep the transaction is at the tip.
func (t Tx) Confirmations(tip int64) int64 {
	if t.BlockHeight == 0 || t.BlockHeight > tip {
		return 0
	}
	return tip - t.BlockHeight + 1
}

// DataSource reads chain state.
type DataSource interface {
	TipHeight(ctx context.Context) (int64, error)
	FeeEstimates(ctx context.Context) (FeeEstimates, error)
	AddressTransactions(ctx context.Context, address string) ([]Tx, error)
}
