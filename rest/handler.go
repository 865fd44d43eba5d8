// Package rest exposes the settlement core over HTTP. It is a thin driver:
// every mutating endpoint runs one host call, so the API inherits the
// core's atomicity and error taxonomy unchanged.
package rest

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"

	paygate "github.com/paygate-protocol/paygate/go"
	"github.com/paygate-protocol/paygate/go/host"
	"github.com/paygate-protocol/paygate/go/statusindex"
)

// controllerHeader carries the controller identity for admin endpoints.
// Verifying that the request actually originates from the key holder is the
// deployment's concern (mTLS, gateway auth); the core only checks the
// identity against the configured controller.
const controllerHeader = "X-Controller-Address"

// Server wires the gateway, ledger, and status index behind a gin router.
type Server struct {
	host    *host.Host
	ledger  *paygate.Ledger
	gateway *paygate.FeeGateway
	index   *statusindex.Index
	log     *slog.Logger
}

// NewServer creates the HTTP surface over an already-wired core.
func NewServer(h *host.Host, ledger *paygate.Ledger, gateway *paygate.FeeGateway, index *statusindex.Index, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{host: h, ledger: ledger, gateway: gateway, index: index, log: log}
}

// Router builds the gin engine with all routes registered.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), RequestLogger(s.log))

	v1 := r.Group("/v1")
	v1.POST("/payments", s.handleSubmitPayment)
	v1.GET("/payments/:id", s.handleGetPayment)
	v1.GET("/quote", s.handleQuote)

	admin := v1.Group("/admin")
	admin.PUT("/fee-rate", s.handleSetFeeRate)
	admin.PUT("/fee-recipient", s.handleSetFeeRecipient)

	return r
}

// SubmitPaymentRequest is the wire form of a payment submission. The payer
// must have pre-approved the gateway for the quoted total.
type SubmitPaymentRequest struct {
	ContentRef string `json:"contentRef"`
	Payer      string `json:"payer"`
	Recipient  string `json:"recipient"`
	Asset      string `json:"asset"`
	Amount     string `json:"amount"`
}

// SubmitPaymentResponse reports the settled id and the fee breakdown.
type SubmitPaymentResponse struct {
	RequestID string `json:"requestId"`
	Amount    string `json:"amount"`
	Fee       string `json:"fee"`
	Total     string `json:"total"`
}

func (s *Server) handleSubmitPayment(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable body"})
		return
	}
	violations, err := validateSubmitPayment(body)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if violations != "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": violations})
		return
	}

	var req SubmitPaymentRequest
	if err := json.Unmarshal(body, &req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed JSON"})
		return
	}

	payer := common.HexToAddress(req.Payer)
	recipient := common.HexToAddress(req.Recipient)
	asset := common.HexToAddress(req.Asset)
	amount, ok := new(big.Int).SetString(req.Amount, 10)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "amount is not a decimal integer"})
		return
	}

	fee, total, err := s.gateway.Quote(amount)
	if err != nil {
		s.writeError(c, err)
		return
	}

	var id paygate.RequestID
	err = s.host.Call(payer, func(f *host.Frame) error {
		var err error
		id, err = s.gateway.SubmitPayment(f, req.ContentRef, recipient, asset, amount)
		return err
	})
	if err != nil {
		s.writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, SubmitPaymentResponse{
		RequestID: id.Hex(),
		Amount:    amount.String(),
		Fee:       fee.String(),
		Total:     total.String(),
	})
}

// PaymentStatusResponse is the denormalized settlement view for one id.
type PaymentStatusResponse struct {
	RequestID string         `json:"requestId"`
	Status    string         `json:"status"`
	Record    *paymentRecord `json:"record,omitempty"`
}

type paymentRecord struct {
	Payer      string `json:"payer"`
	Recipient  string `json:"recipient"`
	Asset      string `json:"asset"`
	Amount     string `json:"amount"`
	Timestamp  string `json:"timestamp"`
	ContentRef string `json:"contentRef"`
}

func (s *Server) handleGetPayment(c *gin.Context) {
	id, ok := paygate.ParseRequestID(c.Param("id"))
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id must be a 0x-prefixed 32-byte hex string"})
		return
	}

	entry := s.index.Status(id)
	resp := PaymentStatusResponse{
		RequestID: id.Hex(),
		Status:    string(entry.Status),
	}
	if entry.Record != nil {
		resp.Record = &paymentRecord{
			Payer:      entry.Record.Payer.Hex(),
			Recipient:  entry.Record.Recipient.Hex(),
			Asset:      entry.Record.Asset.Hex(),
			Amount:     entry.Record.Amount.String(),
			Timestamp:  entry.Record.Timestamp.UTC().Format(time.RFC3339),
			ContentRef: entry.Record.ContentRef,
		}
	}
	c.JSON(http.StatusOK, resp)
}

// QuoteResponse mirrors FeeGateway.Quote for callers that need to
// pre-approve the exact total.
type QuoteResponse struct {
	Amount     string `json:"amount"`
	Fee        string `json:"fee"`
	Total      string `json:"total"`
	FeeRateBps uint32 `json:"feeRateBps"`
}

func (s *Server) handleQuote(c *gin.Context) {
	raw := c.Query("amount")
	amount, ok := new(big.Int).SetString(raw, 10)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "amount must be a decimal integer"})
		return
	}
	fee, total, err := s.gateway.Quote(amount)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, QuoteResponse{
		Amount:     amount.String(),
		Fee:        fee.String(),
		Total:      total.String(),
		FeeRateBps: s.gateway.FeeConfig().RateBps,
	})
}

type setFeeRateRequest struct {
	RateBps uint32 `json:"rateBps"`
}

func (s *Server) handleSetFeeRate(c *gin.Context) {
	caller, ok := s.adminCaller(c)
	if !ok {
		return
	}
	var req setFeeRateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed JSON"})
		return
	}
	err := s.host.Call(caller, func(f *host.Frame) error {
		return s.gateway.SetFeeRate(f, req.RateBps)
	})
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, s.gateway.FeeConfig())
}

type setFeeRecipientRequest struct {
	Recipient string `json:"recipient"`
}

func (s *Server) handleSetFeeRecipient(c *gin.Context) {
	caller, ok := s.adminCaller(c)
	if !ok {
		return
	}
	var req setFeeRecipientRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed JSON"})
		return
	}
	if !common.IsHexAddress(req.Recipient) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "recipient must be a hex address"})
		return
	}
	err := s.host.Call(caller, func(f *host.Frame) error {
		return s.gateway.SetFeeRecipient(f, common.HexToAddress(req.Recipient))
	})
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, s.gateway.FeeConfig())
}

func (s *Server) adminCaller(c *gin.Context) (common.Address, bool) {
	raw := c.GetHeader(controllerHeader)
	if !common.IsHexAddress(raw) {
		c.JSON(http.StatusForbidden, gin.H{"error": "missing or malformed " + controllerHeader + " header"})
		return common.Address{}, false
	}
	return common.HexToAddress(raw), true
}

// writeError maps the core's error taxonomy onto HTTP statuses.
func (s *Server) writeError(c *gin.Context, err error) {
	var pe *paygate.PaymentError
	status := http.StatusInternalServerError
	switch paygate.ErrorCode(err) {
	case paygate.ErrCodeInvalidAddress, paygate.ErrCodeInvalidAmount:
		status = http.StatusBadRequest
	case paygate.ErrCodeAlreadySettled:
		status = http.StatusConflict
	case paygate.ErrCodeUnauthorized:
		status = http.StatusForbidden
	case paygate.ErrCodeFeeExceedsMaximum:
		status = http.StatusUnprocessableEntity
	case paygate.ErrCodeTransferFailed:
		status = http.StatusPaymentRequired
	}
	if errors.As(err, &pe) {
		c.JSON(status, pe)
		return
	}
	c.JSON(status, gin.H{"error": err.Error()})
}
