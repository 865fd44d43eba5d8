package paygate

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Fee constants published by the protocol. Rates are expressed in basis
// points (1/100 of a percent) against FeeDenominator.
const (
	// FeeDenominator is the basis-point denominator: fee = amount * rate / 10000.
	FeeDenominator = 10000
	// MaxFeeRateBps is the fixed ceiling on the configurable fee rate (10%).
	MaxFeeRateBps = 1000
)

// RequestID is the settlement primary key: the Keccak-256 digest of a
// content identifier string. The derivation is deterministic, so the same
// content identifier always yields the same RequestID and two requests
// referencing the same content dedup onto one settlement slot.
type RequestID common.Hash

// RequestIDFor derives the RequestID for a content identifier. Pure and
// stateless; callers can pre-compute ids without touching the ledger.
func RequestIDFor(contentRef string) RequestID {
	return RequestID(crypto.Keccak256Hash([]byte(contentRef)))
}

// Hex returns the 0x-prefixed hex rendering of the id.
func (id RequestID) Hex() string {
	return common.Hash(id).Hex()
}

func (id RequestID) String() string {
	return id.Hex()
}

// ParseRequestID parses a 0x-prefixed 32-byte hex string into a RequestID.
func ParseRequestID(s string) (RequestID, bool) {
	if len(s) != 2+2*common.HashLength || (s[:2] != "0x" && s[:2] != "0X") {
		return RequestID{}, false
	}
	for _, c := range s[2:] {
		if !(c >= '0' && c <= '9' || c >= 'a' && c <= 'f' || c >= 'A' && c <= 'F') {
			return RequestID{}, false
		}
	}
	return RequestID(common.HexToHash(s)), true
}

// PaymentRecord is the authoritative record of one completed payment.
// Created exactly once, at settlement time, and immutable thereafter.
type PaymentRecord struct {
	Payer      common.Address `json:"payer"`
	Recipient  common.Address `json:"recipient"`
	Asset      common.Address `json:"asset"`
	Amount     *big.Int       `json:"amount"`
	Timestamp  time.Time      `json:"timestamp"`
	ContentRef string         `json:"contentRef"`
}

// clone returns a defensive copy so callers can never mutate ledger state
// through a returned record.
func (r *PaymentRecord) clone() *PaymentRecord {
	if r == nil {
		return nil
	}
	cp := *r
	cp.Amount = new(big.Int).Set(r.Amount)
	return &cp
}

// FeeConfig is the gateway's mutable fee configuration. Owned by a single
// controller identity and re-validated against MaxFeeRateBps on every
// mutation.
type FeeConfig struct {
	RateBps   uint32         `json:"rateBps"`
	Recipient common.Address `json:"recipient"`
}

// ControllerFunc authorizes fee-configuration changes. It receives the
// calling address and reports whether that identity is the controller.
// Key custody stays outside the core.
type ControllerFunc func(caller common.Address) bool

// SingleController returns a ControllerFunc that accepts exactly one address.
func SingleController(controller common.Address) ControllerFunc {
	return func(caller common.Address) bool {
		return caller == controller
	}
}
