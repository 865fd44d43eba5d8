package paygate

import (
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/paygate-protocol/paygate/go/host"
)

// FeeGateway is the public entry point payers use. It pulls payment plus a
// bounded protocol fee from the caller, forwards the fee, and delegates
// the recipient-facing transfer to the Ledger. It holds only a reference
// to the ledger and never stores payment state itself.
type FeeGateway struct {
	mu         sync.RWMutex
	address    common.Address
	ledger     *Ledger
	controller ControllerFunc
	rateBps    uint32
	recipient  common.Address
}

// NewFeeGateway creates a gateway custodying funds at address, settling
// through ledger, with controller authorizing fee-configuration changes.
// The initial config is validated the same way the setters validate.
func NewFeeGateway(address common.Address, ledger *Ledger, controller ControllerFunc, cfg FeeConfig) (*FeeGateway, error) {
	if cfg.RateBps > MaxFeeRateBps {
		return nil, NewPaymentError(ErrCodeFeeExceedsMaximum, "fee rate exceeds maximum", map[string]interface{}{
			"rateBps": cfg.RateBps,
			"maxBps":  MaxFeeRateBps,
		})
	}
	if cfg.Recipient == (common.Address{}) {
		return nil, NewPaymentError(ErrCodeInvalidAddress, "fee recipient must not be the zero address", nil)
	}
	if controller == nil {
		controller = func(common.Address) bool { return false }
	}
	return &FeeGateway{
		address:    address,
		ledger:     ledger,
		controller: controller,
		rateBps:    cfg.RateBps,
		recipient:  cfg.Recipient,
	}, nil
}

// Address returns the gateway's identity on the host.
func (g *FeeGateway) Address() common.Address {
	return g.address
}

// FeeConfig returns the currently committed fee configuration.
func (g *FeeGateway) FeeConfig() FeeConfig {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return FeeConfig{RateBps: g.rateBps, Recipient: g.recipient}
}

// Quote computes the fee and the gross total a payer must approve for
// amount under the current rate: fee = floor(amount * rate / 10000),
// total = amount + fee. Pure computation, no side effects.
func (g *FeeGateway) Quote(amount *big.Int) (fee, total *big.Int, err error) {
	if amount == nil || amount.Sign() <= 0 {
		return nil, nil, NewPaymentError(ErrCodeInvalidAmount, "amount must be positive", nil)
	}
	g.mu.RLock()
	rate := g.rateBps
	g.mu.RUnlock()
	fee, total = quoteAt(amount, rate)
	return fee, total, nil
}

func quoteAt(amount *big.Int, rateBps uint32) (fee, total *big.Int) {
	fee = new(big.Int).Mul(amount, big.NewInt(int64(rateBps)))
	fee.Div(fee, big.NewInt(FeeDenominator))
	total = new(big.Int).Add(amount, fee)
	return fee, total
}

// SubmitPayment settles the payment for contentRef on behalf of the frame's
// caller. The sequence is fixed: pull total from the caller, forward the
// fee, grant the ledger an allowance of exactly amount, delegate to
// Ledger.Settle. If any step fails the whole frame reverts, including the
// already-pulled total and fee payment.
func (g *FeeGateway) SubmitPayment(f *host.Frame, contentRef string, recipient, asset common.Address, amount *big.Int) (RequestID, error) {
	caller := f.Caller()
	if recipient == (common.Address{}) {
		return RequestID{}, NewPaymentError(ErrCodeInvalidAddress, "recipient must not be the zero address", nil)
	}
	if amount == nil || amount.Sign() <= 0 {
		return RequestID{}, NewPaymentError(ErrCodeInvalidAmount, "amount must be positive", nil)
	}

	// Fee config is read once at the start of the call; changes committed
	// by the controller apply to subsequent submissions only.
	g.mu.RLock()
	rate := g.rateBps
	feeRecipient := g.recipient
	g.mu.RUnlock()

	fee, total := quoteAt(amount, rate)

	token := f.Host().Token(asset)
	if token == nil {
		return RequestID{}, NewPaymentError(ErrCodeTransferFailed, "unknown asset", map[string]interface{}{
			"asset": asset.Hex(),
		})
	}

	// All gateway-side token operations run with the gateway as caller.
	gw := f.WithCaller(g.address)

	if err := token.TransferFrom(gw, caller, g.address, total); err != nil {
		return RequestID{}, NewPaymentError(ErrCodeTransferFailed, err.Error(), map[string]interface{}{
			"step":  "pull",
			"total": total.String(),
		})
	}
	if fee.Sign() > 0 {
		if err := token.Transfer(gw, feeRecipient, fee); err != nil {
			return RequestID{}, NewPaymentError(ErrCodeTransferFailed, err.Error(), map[string]interface{}{
				"step": "fee",
				"fee":  fee.String(),
			})
		}
	}
	if err := token.Approve(gw, g.ledger.Address(), amount); err != nil {
		return RequestID{}, NewPaymentError(ErrCodeTransferFailed, err.Error(), map[string]interface{}{
			"step": "approve",
		})
	}

	id, err := g.ledger.Settle(gw, contentRef, caller, recipient, asset, amount)
	if err != nil {
		return RequestID{}, err
	}

	f.Emit(TopicPaymentProcessed, PaymentProcessedEvent{
		ID:    id,
		Total: total,
		Fee:   fee,
	})
	return id, nil
}

// SetFeeRate updates the fee rate. Controller-only; rates above
// MaxFeeRateBps are rejected and the stored rate stays unchanged.
func (g *FeeGateway) SetFeeRate(f *host.Frame, newRateBps uint32) error {
	if !g.controller(f.Caller()) {
		return NewPaymentError(ErrCodeUnauthorized, "caller is not the controller", nil)
	}
	if newRateBps > MaxFeeRateBps {
		return NewPaymentError(ErrCodeFeeExceedsMaximum, "fee rate exceeds maximum", map[string]interface{}{
			"rateBps": newRateBps,
			"maxBps":  MaxFeeRateBps,
		})
	}

	g.mu.Lock()
	old := g.rateBps
	f.Journal(func() {
		g.mu.Lock()
		g.rateBps = old
		g.mu.Unlock()
	})
	g.rateBps = newRateBps
	g.mu.Unlock()

	f.Emit(TopicFeeUpdated, FeeUpdatedEvent{Old: old, New: newRateBps})
	return nil
}

// SetFeeRecipient updates the fee recipient. Controller-only; the zero
// address is rejected.
func (g *FeeGateway) SetFeeRecipient(f *host.Frame, newRecipient common.Address) error {
	if !g.controller(f.Caller()) {
		return NewPaymentError(ErrCodeUnauthorized, "caller is not the controller", nil)
	}
	if newRecipient == (common.Address{}) {
		return NewPaymentError(ErrCodeInvalidAddress, "fee recipient must not be the zero address", nil)
	}

	g.mu.Lock()
	old := g.recipient
	f.Journal(func() {
		g.mu.Lock()
		g.recipient = old
		g.mu.Unlock()
	})
	g.recipient = newRecipient
	g.mu.Unlock()

	f.Emit(TopicFeeRecipientUpdated, FeeRecipientUpdatedEvent{Old: old, New: newRecipient})
	return nil
}
