package paygate

import (
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/paygate-protocol/paygate/go/host"
)

var (
	ledgerAddr = common.HexToAddress("0x00000000000000000000000000000000000000d1")
	payerAddr  = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	payeeAddr  = common.HexToAddress("0x00000000000000000000000000000000000000b2")
	assetAddr  = common.HexToAddress("0x00000000000000000000000000000000000000e0")
)

func amt(v int64) *big.Int { return big.NewInt(v) }

type ledgerFixture struct {
	host   *host.Host
	token  *host.StandardToken
	ledger *Ledger
}

func newLedgerFixture(t *testing.T) *ledgerFixture {
	t.Helper()
	h := host.New(host.WithClock(func() time.Time {
		return time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	}))
	token := host.NewStandardToken("USDX")
	h.RegisterToken(assetAddr, token)
	return &ledgerFixture{host: h, token: token, ledger: NewLedger(ledgerAddr)}
}

// fund mints for addr and approves the ledger to pull up to allowance.
func (fx *ledgerFixture) fund(t *testing.T, addr common.Address, balance, allowance *big.Int) {
	t.Helper()
	fx.token.Mint(addr, balance)
	if err := fx.host.Call(addr, func(f *host.Frame) error {
		return fx.token.Approve(f, fx.ledger.Address(), allowance)
	}); err != nil {
		t.Fatalf("approve: %v", err)
	}
}

func (fx *ledgerFixture) settle(caller common.Address, contentRef string, payer, recipient common.Address, amount *big.Int) (RequestID, error) {
	var id RequestID
	err := fx.host.Call(caller, func(f *host.Frame) error {
		var err error
		id, err = fx.ledger.Settle(f, contentRef, payer, recipient, assetAddr, amount)
		return err
	})
	return id, err
}

func TestRequestIDFor_Deterministic(t *testing.T) {
	cid := "QmYwAPJzv5CZsnA625s3Xf2nemtYgPpHdWEz79ojWnPbdG"

	id1 := RequestIDFor(cid)
	id2 := RequestIDFor(cid)
	if id1 != id2 {
		t.Errorf("expected identical ids for the same content ref, got %s and %s", id1, id2)
	}
	if other := RequestIDFor(cid + "x"); other == id1 {
		t.Error("expected different content refs to yield different ids")
	}
	if id1 == (RequestID{}) {
		t.Error("expected non-zero id")
	}
}

func TestParseRequestID(t *testing.T) {
	id := RequestIDFor("some-cid")
	parsed, ok := ParseRequestID(id.Hex())
	if !ok || parsed != id {
		t.Errorf("expected round trip, got %s ok=%v", parsed, ok)
	}
	for _, bad := range []string{"", "0x12", "not-hex", id.Hex()[2:], "0x" + string(make([]byte, 64))} {
		if _, ok := ParseRequestID(bad); ok {
			t.Errorf("expected %q to be rejected", bad)
		}
	}
}

func TestLedger_Settle_RecordsPayment(t *testing.T) {
	fx := newLedgerFixture(t)
	fx.fund(t, payerAddr, amt(1000), amt(1000))

	events := fx.host.Events().On(TopicPaymentCompleted)
	defer fx.host.Events().Off(TopicPaymentCompleted, events)

	id, err := fx.settle(payerAddr, "cid-1", payerAddr, payeeAddr, amt(250))
	if err != nil {
		t.Fatalf("settle: %v", err)
	}
	if id != RequestIDFor("cid-1") {
		t.Errorf("expected id derived from content ref, got %s", id)
	}

	if !fx.ledger.IsSettled(id) {
		t.Error("expected id to be settled")
	}
	record := fx.ledger.Record(id)
	if record == nil {
		t.Fatal("expected a payment record")
	}
	if record.Payer != payerAddr || record.Recipient != payeeAddr || record.Asset != assetAddr {
		t.Errorf("unexpected record identities: %+v", record)
	}
	if record.Amount.Cmp(amt(250)) != 0 {
		t.Errorf("expected recorded amount 250, got %s", record.Amount)
	}
	if record.ContentRef != "cid-1" {
		t.Errorf("expected content ref preserved, got %q", record.ContentRef)
	}
	if record.Timestamp.IsZero() {
		t.Error("expected settlement timestamp")
	}

	if got := fx.token.BalanceOf(payeeAddr); got.Cmp(amt(250)) != 0 {
		t.Errorf("expected recipient credited 250, got %s", got)
	}
	if got := fx.token.BalanceOf(payerAddr); got.Cmp(amt(750)) != 0 {
		t.Errorf("expected caller debited to 750, got %s", got)
	}

	select {
	case ev := <-events:
		completed, ok := ev.Args[0].(PaymentCompletedEvent)
		if !ok {
			t.Fatalf("unexpected event payload %T", ev.Args[0])
		}
		if completed.ID != id || completed.Amount.Cmp(amt(250)) != 0 || completed.ContentRef != "cid-1" {
			t.Errorf("unexpected event %+v", completed)
		}
	default:
		t.Fatal("expected PaymentCompleted event")
	}
}

func TestLedger_Settle_Idempotent(t *testing.T) {
	fx := newLedgerFixture(t)
	fx.fund(t, payerAddr, amt(1000), amt(1000))
	otherPayer := common.HexToAddress("0x00000000000000000000000000000000000000c3")
	fx.fund(t, otherPayer, amt(1000), amt(1000))

	if _, err := fx.settle(payerAddr, "cid-dup", payerAddr, payeeAddr, amt(100)); err != nil {
		t.Fatalf("first settle: %v", err)
	}

	// Second attempt fails regardless of caller, recipient, or amount.
	_, err := fx.settle(otherPayer, "cid-dup", otherPayer, otherPayer, amt(999))
	if !IsCode(err, ErrCodeAlreadySettled) {
		t.Fatalf("expected already_settled, got %v", err)
	}

	record := fx.ledger.Record(RequestIDFor("cid-dup"))
	if record.Payer != payerAddr || record.Amount.Cmp(amt(100)) != 0 {
		t.Errorf("expected first record preserved, got %+v", record)
	}
	if got := fx.token.BalanceOf(otherPayer); got.Cmp(amt(1000)) != 0 {
		t.Errorf("expected second caller's balance untouched, got %s", got)
	}
}

func TestLedger_Settle_SameContentDifferentTermsCollides(t *testing.T) {
	// Dedup is by content: the id derives from the content ref alone, so a
	// second request for the same content with different recipient and
	// amount lands on the same settlement slot.
	fx := newLedgerFixture(t)
	fx.fund(t, payerAddr, amt(1000), amt(1000))

	if _, err := fx.settle(payerAddr, "cid-same", payerAddr, payeeAddr, amt(100)); err != nil {
		t.Fatalf("first settle: %v", err)
	}
	_, err := fx.settle(payerAddr, "cid-same", payerAddr, payerAddr, amt(1))
	if !IsCode(err, ErrCodeAlreadySettled) {
		t.Fatalf("expected already_settled, got %v", err)
	}
}

func TestLedger_Settle_Validation(t *testing.T) {
	fx := newLedgerFixture(t)
	fx.fund(t, payerAddr, amt(1000), amt(1000))

	_, err := fx.settle(payerAddr, "cid-v1", payerAddr, common.Address{}, amt(10))
	if !IsCode(err, ErrCodeInvalidAddress) {
		t.Errorf("zero recipient: expected invalid_address, got %v", err)
	}

	_, err = fx.settle(payerAddr, "cid-v2", payerAddr, payeeAddr, amt(0))
	if !IsCode(err, ErrCodeInvalidAmount) {
		t.Errorf("zero amount: expected invalid_amount, got %v", err)
	}

	_, err = fx.settle(payerAddr, "cid-v3", payerAddr, payeeAddr, nil)
	if !IsCode(err, ErrCodeInvalidAmount) {
		t.Errorf("nil amount: expected invalid_amount, got %v", err)
	}

	// Failed attempts must not consume the id.
	if fx.ledger.IsSettled(RequestIDFor("cid-v1")) || fx.ledger.IsSettled(RequestIDFor("cid-v2")) {
		t.Error("expected failed settlements to leave ids unsettled")
	}
}

func TestLedger_Settle_UnknownAsset(t *testing.T) {
	fx := newLedgerFixture(t)
	fx.fund(t, payerAddr, amt(1000), amt(1000))
	unknown := common.HexToAddress("0x00000000000000000000000000000000000000ff")

	err := fx.host.Call(payerAddr, func(f *host.Frame) error {
		_, err := fx.ledger.Settle(f, "cid-u", payerAddr, payeeAddr, unknown, amt(10))
		return err
	})
	if !IsCode(err, ErrCodeTransferFailed) {
		t.Fatalf("expected transfer_failed, got %v", err)
	}
	if fx.ledger.IsSettled(RequestIDFor("cid-u")) {
		t.Error("expected id to stay unsettled after failed transfer")
	}
}

func TestLedger_Settle_TransferFailureRollsBack(t *testing.T) {
	fx := newLedgerFixture(t)
	// Balance present but no allowance granted to the ledger.
	fx.token.Mint(payerAddr, amt(1000))

	events := fx.host.Events().On(TopicPaymentCompleted)
	defer fx.host.Events().Off(TopicPaymentCompleted, events)

	_, err := fx.settle(payerAddr, "cid-fail", payerAddr, payeeAddr, amt(100))
	if !IsCode(err, ErrCodeTransferFailed) {
		t.Fatalf("expected transfer_failed, got %v", err)
	}

	// All-or-nothing: no record, no flag, no event, no balance movement.
	id := RequestIDFor("cid-fail")
	if fx.ledger.IsSettled(id) {
		t.Error("expected flag not set after failed transfer")
	}
	if fx.ledger.Record(id) != nil {
		t.Error("expected no record after failed transfer")
	}
	if got := fx.token.BalanceOf(payerAddr); got.Cmp(amt(1000)) != 0 {
		t.Errorf("expected payer balance unchanged, got %s", got)
	}
	select {
	case <-events:
		t.Fatal("expected no event from failed settlement")
	default:
	}
}

func TestLedger_Settle_ReentrantHookRejected(t *testing.T) {
	fx := newLedgerFixture(t)
	fx.fund(t, payerAddr, amt(1000), amt(1000))

	var reentrantErr error
	attempted := false
	fx.token.SetTransferObserver(func(f *host.Frame, from, to common.Address, amount *big.Int) {
		if attempted {
			return
		}
		attempted = true
		// Hostile token tries to settle a second payment mid-transfer.
		_, reentrantErr = fx.ledger.Settle(f, "cid-reenter-2", payerAddr, payeeAddr, assetAddr, amt(1))
	})

	id, err := fx.settle(payerAddr, "cid-reenter", payerAddr, payeeAddr, amt(100))
	if err != nil {
		t.Fatalf("outer settle should survive the hostile hook: %v", err)
	}
	if !IsCode(reentrantErr, ErrCodeReentrantCall) {
		t.Fatalf("expected reentrant_call from nested settle, got %v", reentrantErr)
	}
	if !fx.ledger.IsSettled(id) {
		t.Error("expected outer settlement to commit")
	}
	if fx.ledger.IsSettled(RequestIDFor("cid-reenter-2")) {
		t.Error("expected nested settlement to be rejected")
	}
}

func TestLedger_ReadAccessors_UnknownID(t *testing.T) {
	fx := newLedgerFixture(t)
	id := RequestIDFor("never-settled")
	if fx.ledger.IsSettled(id) {
		t.Error("expected unknown id to be unsettled")
	}
	if fx.ledger.Record(id) != nil {
		t.Error("expected nil record for unknown id")
	}
}

func TestLedger_Record_ReturnsCopy(t *testing.T) {
	fx := newLedgerFixture(t)
	fx.fund(t, payerAddr, amt(1000), amt(1000))
	id, err := fx.settle(payerAddr, "cid-copy", payerAddr, payeeAddr, amt(100))
	if err != nil {
		t.Fatalf("settle: %v", err)
	}

	record := fx.ledger.Record(id)
	record.Amount.SetInt64(999999)
	record.Recipient = payerAddr

	fresh := fx.ledger.Record(id)
	if fresh.Amount.Cmp(amt(100)) != 0 || fresh.Recipient != payeeAddr {
		t.Error("expected stored record to be immutable through returned copies")
	}
}
