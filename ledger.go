// Package paygate implements the payment settlement core: a Ledger that
// records each payment exactly once against a content-derived RequestID and
// moves funds to the final recipient, and a FeeGateway that pulls payment
// plus a bounded protocol fee from the payer before delegating to the
// Ledger. Both run on the host package's atomic call frames.
package paygate

import (
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/paygate-protocol/paygate/go/host"
)

// Ledger owns the authoritative record of completed payments. A RequestID
// transitions UNSETTLED -> SETTLED exactly once; every later attempt fails
// with already_settled no matter who calls or what they supply.
type Ledger struct {
	mu      sync.RWMutex
	address common.Address
	records map[RequestID]*PaymentRecord
	paid    map[RequestID]bool
	entered bool
}

// NewLedger creates an empty ledger identified by address. The address is
// what the gateway grants its settlement allowance to.
func NewLedger(address common.Address) *Ledger {
	return &Ledger{
		address: address,
		records: make(map[RequestID]*PaymentRecord),
		paid:    make(map[RequestID]bool),
	}
}

// Address returns the ledger's identity on the host.
func (l *Ledger) Address() common.Address {
	return l.address
}

// Settle records the payment for contentRef and transfers amount of asset
// from the immediate caller to recipient, as one atomic unit. The caller
// is trusted to already hold the funds and to have granted the ledger an
// allowance covering amount; payer is recorded as the originating identity.
//
// The paid flag and record are written before the external transfer
// (checks-effects-interactions) and an explicit non-reentrant guard covers
// the whole function, so a hostile asset implementation cannot re-enter
// past the idempotency gate. If the transfer fails the frame unwinds both
// writes.
func (l *Ledger) Settle(f *host.Frame, contentRef string, payer, recipient, asset common.Address, amount *big.Int) (RequestID, error) {
	if err := l.enter(); err != nil {
		return RequestID{}, err
	}
	defer l.exit()

	if recipient == (common.Address{}) {
		return RequestID{}, NewPaymentError(ErrCodeInvalidAddress, "recipient must not be the zero address", nil)
	}
	if amount == nil || amount.Sign() <= 0 {
		return RequestID{}, NewPaymentError(ErrCodeInvalidAmount, "amount must be positive", nil)
	}

	id := RequestIDFor(contentRef)

	l.mu.Lock()
	if l.paid[id] {
		l.mu.Unlock()
		return RequestID{}, NewPaymentError(ErrCodeAlreadySettled, "request is already settled", map[string]interface{}{
			"requestId": id.Hex(),
		})
	}
	record := &PaymentRecord{
		Payer:      payer,
		Recipient:  recipient,
		Asset:      asset,
		Amount:     new(big.Int).Set(amount),
		Timestamp:  f.Now(),
		ContentRef: contentRef,
	}
	f.Journal(func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		delete(l.records, id)
		delete(l.paid, id)
	})
	l.records[id] = record
	l.paid[id] = true
	l.mu.Unlock()

	token := f.Host().Token(asset)
	if token == nil {
		return RequestID{}, NewPaymentError(ErrCodeTransferFailed, "unknown asset", map[string]interface{}{
			"asset": asset.Hex(),
		})
	}
	if err := token.TransferFrom(f.WithCaller(l.address), f.Caller(), recipient, amount); err != nil {
		return RequestID{}, NewPaymentError(ErrCodeTransferFailed, err.Error(), map[string]interface{}{
			"requestId": id.Hex(),
		})
	}

	f.Emit(TopicPaymentCompleted, PaymentCompletedEvent{
		ID:         id,
		Payer:      payer,
		Recipient:  recipient,
		Asset:      asset,
		Amount:     new(big.Int).Set(amount),
		ContentRef: contentRef,
	})
	return id, nil
}

// IsSettled reports whether a payment record exists for id.
func (l *Ledger) IsSettled(id RequestID) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.paid[id]
}

// Record returns a copy of the payment record for id, or nil if the id is
// unknown.
func (l *Ledger) Record(id RequestID) *PaymentRecord {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.records[id].clone()
}

// enter takes the non-reentrant guard. A second entry on the same call
// stack means a token hook is trying to re-enter settlement.
func (l *Ledger) enter() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.entered {
		return NewPaymentError(ErrCodeReentrantCall, "settle re-entered during asset transfer", nil)
	}
	l.entered = true
	return nil
}

func (l *Ledger) exit() {
	l.mu.Lock()
	l.entered = false
	l.mu.Unlock()
}
