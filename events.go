package paygate

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Event topics published on the host emitter after a call commits. The
// indexing collaborator subscribes to these to maintain its denormalized
// status cache; the core's only contract with it is a well-formed event on
// every state change.
const (
	TopicPaymentCompleted    = "payment.completed"
	TopicPaymentProcessed    = "payment.processed"
	TopicFeeUpdated          = "fee.updated"
	TopicFeeRecipientUpdated = "fee.recipient_updated"
)

// PaymentCompletedEvent is emitted by the ledger on every successful
// settlement.
type PaymentCompletedEvent struct {
	ID         RequestID      `json:"requestId"`
	Payer      common.Address `json:"payer"`
	Recipient  common.Address `json:"recipient"`
	Asset      common.Address `json:"asset"`
	Amount     *big.Int       `json:"amount"`
	ContentRef string         `json:"contentRef"`
}

// PaymentProcessedEvent is emitted by the gateway after a successful
// submission, carrying the gross amount pulled and the fee skimmed.
type PaymentProcessedEvent struct {
	ID    RequestID `json:"requestId"`
	Total *big.Int  `json:"total"`
	Fee   *big.Int  `json:"fee"`
}

// FeeUpdatedEvent is emitted when the controller changes the fee rate.
type FeeUpdatedEvent struct {
	Old uint32 `json:"old"`
	New uint32 `json:"new"`
}

// FeeRecipientUpdatedEvent is emitted when the controller changes the fee
// recipient.
type FeeRecipientUpdatedEvent struct {
	Old common.Address `json:"old"`
	New common.Address `json:"new"`
}
