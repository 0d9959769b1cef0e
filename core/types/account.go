package types

import "math/big"

// Account holds the balances tracked by the asset ledger. GIG is the payment
// asset used to escrow job funds; ZGIG is the bond asset used by the
// optimistic arbitration path.
type Account struct {
	Nonce       uint64   `json:"nonce"`
	BalanceGIG  *big.Int `json:"balanceGIG"`
	BalanceZGIG *big.Int `json:"balanceZGIG"`
	Username    string   `json:"username"`
}
