package events

import (
	"encoding/hex"
	"math/big"

	"gigchain/core/types"
)

const (
	TypeTransfer       = "token.transfer"
	TypeApproval       = "token.approval"
	TypeAllowanceSpent = "token.allowance_spent"
)

// Transfer is emitted whenever the asset ledger moves value between accounts,
// including escrow vault credits and payouts.
type Transfer struct {
	Token  string
	From   [20]byte
	To     [20]byte
	Amount *big.Int
}

func (Transfer) EventType() string { return TypeTransfer }

func (e Transfer) Event() *types.Event {
	return &types.Event{
		Type: TypeTransfer,
		Attributes: map[string]string{
			"token":  e.Token,
			"from":   hex.EncodeToString(e.From[:]),
			"to":     hex.EncodeToString(e.To[:]),
			"amount": formatAmount(e.Amount),
		},
	}
}

// Approval is emitted when an account grants a spender an allowance.
type Approval struct {
	Token   string
	Owner   [20]byte
	Spender [20]byte
	Amount  *big.Int
}

func (Approval) EventType() string { return TypeApproval }

func (e Approval) Event() *types.Event {
	return &types.Event{
		Type: TypeApproval,
		Attributes: map[string]string{
			"token":   e.Token,
			"owner":   hex.EncodeToString(e.Owner[:]),
			"spender": hex.EncodeToString(e.Spender[:]),
			"amount":  formatAmount(e.Amount),
		},
	}
}

// AllowanceSpent is emitted when a delegated transfer consumes part of an
// allowance.
type AllowanceSpent struct {
	Token     string
	Owner     [20]byte
	Spender   [20]byte
	Amount    *big.Int
	Remaining *big.Int
}

func (AllowanceSpent) EventType() string { return TypeAllowanceSpent }

func (e AllowanceSpent) Event() *types.Event {
	return &types.Event{
		Type: TypeAllowanceSpent,
		Attributes: map[string]string{
			"token":     e.Token,
			"owner":     hex.EncodeToString(e.Owner[:]),
			"spender":   hex.EncodeToString(e.Spender[:]),
			"amount":    formatAmount(e.Amount),
			"remaining": formatAmount(e.Remaining),
		},
	}
}
