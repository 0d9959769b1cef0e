package token

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"gigchain/core/events"
	"gigchain/core/types"
)

var (
	errNilState = errors.New("token: state not configured")

	// ErrInsufficientBalance is propagated to every caller that attempts to
	// move more than the source account holds. Escrow components abort the
	// whole transition when they observe it.
	ErrInsufficientBalance = errors.New("token: insufficient balance")
	// ErrInsufficientAllowance marks delegated transfers that exceed the
	// owner's approval.
	ErrInsufficientAllowance = errors.New("token: insufficient allowance")
)

// NormalizeToken ensures the provided token symbol matches a supported value
// ("GIG" or "ZGIG") and returns the canonical uppercase form.
func NormalizeToken(symbol string) (string, error) {
	trimmed := strings.ToUpper(strings.TrimSpace(symbol))
	switch trimmed {
	case "GIG", "ZGIG":
		return trimmed, nil
	default:
		return "", fmt.Errorf("token: unsupported symbol %q", symbol)
	}
}

type ledgerState interface {
	GetAccount(addr []byte) (*types.Account, error)
	PutAccount(addr []byte, account *types.Account) error
	TokenAllowance(token string, owner, spender [20]byte) (*big.Int, error)
	TokenSetAllowance(token string, owner, spender [20]byte, amount *big.Int) error
}

// Ledger wraps the account balances behind the fungible transfer surface used
// by every fund-moving component. It is the only component that moves money;
// escrow engines depend on it through the Transferor interface.
type Ledger struct {
	state   ledgerState
	emitter events.Emitter
}

// NewLedger constructs a ledger with a no-op emitter.
func NewLedger() *Ledger {
	return &Ledger{emitter: events.NoopEmitter{}}
}

// SetState configures the state backend used by the ledger.
func (l *Ledger) SetState(state ledgerState) { l.state = state }

// SetEmitter configures the event emitter. Passing nil resets it to a no-op.
func (l *Ledger) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		l.emitter = events.NoopEmitter{}
		return
	}
	l.emitter = emitter
}

func (l *Ledger) emit(evt events.Event) {
	if l == nil || l.emitter == nil {
		return
	}
	l.emitter.Emit(evt)
}

func ensureAccount(acc *types.Account) *types.Account {
	if acc == nil {
		return &types.Account{BalanceGIG: big.NewInt(0), BalanceZGIG: big.NewInt(0)}
	}
	if acc.BalanceGIG == nil {
		acc.BalanceGIG = big.NewInt(0)
	}
	if acc.BalanceZGIG == nil {
		acc.BalanceZGIG = big.NewInt(0)
	}
	return acc
}

func cloneBigInt(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}

// BalanceOf returns the balance held by addr in the given token.
func (l *Ledger) BalanceOf(addr [20]byte, token string) (*big.Int, error) {
	if l == nil || l.state == nil {
		return nil, errNilState
	}
	normalized, err := NormalizeToken(token)
	if err != nil {
		return nil, err
	}
	acc, err := l.state.GetAccount(addr[:])
	if err != nil {
		return nil, err
	}
	acc = ensureAccount(acc)
	if normalized == "GIG" {
		return cloneBigInt(acc.BalanceGIG), nil
	}
	return cloneBigInt(acc.BalanceZGIG), nil
}

// Transfer moves amount from one account to another. Zero-amount transfers are
// no-ops; negative amounts are rejected.
func (l *Ledger) Transfer(from, to [20]byte, token string, amount *big.Int) error {
	if l == nil || l.state == nil {
		return errNilState
	}
	normalized, err := NormalizeToken(token)
	if err != nil {
		return err
	}
	amt := cloneBigInt(amount)
	if amt.Sign() < 0 {
		return fmt.Errorf("token: negative transfer amount")
	}
	if amt.Sign() == 0 {
		return nil
	}
	if from == to {
		// Self-transfers are balance-neutral; skipping them keeps the
		// two account writes below from clobbering each other.
		return nil
	}
	fromAcc, err := l.state.GetAccount(from[:])
	if err != nil {
		return err
	}
	toAcc, err := l.state.GetAccount(to[:])
	if err != nil {
		return err
	}
	fromAcc = ensureAccount(fromAcc)
	toAcc = ensureAccount(toAcc)
	switch normalized {
	case "GIG":
		if fromAcc.BalanceGIG.Cmp(amt) < 0 {
			return ErrInsufficientBalance
		}
		fromAcc.BalanceGIG = new(big.Int).Sub(fromAcc.BalanceGIG, amt)
		toAcc.BalanceGIG = new(big.Int).Add(toAcc.BalanceGIG, amt)
	case "ZGIG":
		if fromAcc.BalanceZGIG.Cmp(amt) < 0 {
			return ErrInsufficientBalance
		}
		fromAcc.BalanceZGIG = new(big.Int).Sub(fromAcc.BalanceZGIG, amt)
		toAcc.BalanceZGIG = new(big.Int).Add(toAcc.BalanceZGIG, amt)
	}
	if err := l.state.PutAccount(from[:], fromAcc); err != nil {
		return err
	}
	if err := l.state.PutAccount(to[:], toAcc); err != nil {
		return err
	}
	l.emit(events.Transfer{Token: normalized, From: from, To: to, Amount: cloneBigInt(amt)})
	return nil
}

// Approve grants spender the right to move up to amount of owner's balance.
// The allowance is overwritten, not accumulated.
func (l *Ledger) Approve(owner, spender [20]byte, token string, amount *big.Int) error {
	if l == nil || l.state == nil {
		return errNilState
	}
	normalized, err := NormalizeToken(token)
	if err != nil {
		return err
	}
	amt := cloneBigInt(amount)
	if amt.Sign() < 0 {
		return fmt.Errorf("token: negative allowance")
	}
	if err := l.state.TokenSetAllowance(normalized, owner, spender, amt); err != nil {
		return err
	}
	l.emit(events.Approval{Token: normalized, Owner: owner, Spender: spender, Amount: cloneBigInt(amt)})
	return nil
}

// Allowance returns the remaining allowance granted by owner to spender.
func (l *Ledger) Allowance(owner, spender [20]byte, token string) (*big.Int, error) {
	if l == nil || l.state == nil {
		return nil, errNilState
	}
	normalized, err := NormalizeToken(token)
	if err != nil {
		return nil, err
	}
	remaining, err := l.state.TokenAllowance(normalized, owner, spender)
	if err != nil {
		return nil, err
	}
	return cloneBigInt(remaining), nil
}

// TransferFrom moves amount from the owner to the recipient on behalf of the
// spender, consuming the spender's allowance.
func (l *Ledger) TransferFrom(spender, from, to [20]byte, token string, amount *big.Int) error {
	if l == nil || l.state == nil {
		return errNilState
	}
	normalized, err := NormalizeToken(token)
	if err != nil {
		return err
	}
	amt := cloneBigInt(amount)
	if amt.Sign() < 0 {
		return fmt.Errorf("token: negative transfer amount")
	}
	if amt.Sign() == 0 {
		return nil
	}
	remaining, err := l.state.TokenAllowance(normalized, from, spender)
	if err != nil {
		return err
	}
	remaining = cloneBigInt(remaining)
	if remaining.Cmp(amt) < 0 {
		return ErrInsufficientAllowance
	}
	if err := l.Transfer(from, to, normalized, amt); err != nil {
		return err
	}
	remaining.Sub(remaining, amt)
	if err := l.state.TokenSetAllowance(normalized, from, spender, remaining); err != nil {
		return err
	}
	l.emit(events.AllowanceSpent{Token: normalized, Owner: from, Spender: spender, Amount: cloneBigInt(amt), Remaining: cloneBigInt(remaining)})
	return nil
}

// Mint credits freshly issued balance to an account. Issuance authority is
// enforced by the caller, not the ledger.
func (l *Ledger) Mint(addr [20]byte, token string, amount *big.Int) error {
	if l == nil || l.state == nil {
		return errNilState
	}
	normalized, err := NormalizeToken(token)
	if err != nil {
		return err
	}
	amt := cloneBigInt(amount)
	if amt.Sign() < 0 {
		return fmt.Errorf("token: negative mint amount")
	}
	if amt.Sign() == 0 {
		return nil
	}
	acc, err := l.state.GetAccount(addr[:])
	if err != nil {
		return err
	}
	acc = ensureAccount(acc)
	switch normalized {
	case "GIG":
		acc.BalanceGIG = new(big.Int).Add(acc.BalanceGIG, amt)
	case "ZGIG":
		acc.BalanceZGIG = new(big.Int).Add(acc.BalanceZGIG, amt)
	}
	if err := l.state.PutAccount(addr[:], acc); err != nil {
		return err
	}
	l.emit(events.Transfer{Token: normalized, To: addr, Amount: cloneBigInt(amt)})
	return nil
}
