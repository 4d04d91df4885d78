package httpserver

import (
	"fmt"
	"io"
	"net/http"

	json "github.com/goccy/go-json"
	"github.com/mselser95/slot-auction/pkg/token"
	"github.com/mselser95/slot-auction/pkg/types"
	"go.uber.org/zap"
)

// Dev endpoints manipulate the in-memory token collaborators for local runs.
// They are only mounted with the memory token backend.

// MintRequest is the body of POST /api/dev/mint.
type MintRequest struct {
	Token  string `json:"token"`
	To     string `json:"to"`
	Amount string `json:"amount"`
}

// ApproveRequest is the signed body of POST /api/dev/approve. The signer is the owner.
type ApproveRequest struct {
	Token     string `json:"token"`
	Spender   string `json:"spender"`
	Amount    string `json:"amount"`
	Timestamp int64  `json:"timestamp"`
}

// MintSlotRequest is the body of POST /api/dev/slots.
type MintSlotRequest struct {
	SlotToken string `json:"slot_token"`
	Owner     string `json:"owner"`
	TokenURI  string `json:"token_uri"`
}

// MintSlotResponse returns the id of a freshly minted slot.
type MintSlotResponse struct {
	SlotToken string `json:"slot_token"`
	SlotID    uint64 `json:"slot_id"`
	Owner     string `json:"owner"`
}

// OperatorRequest is the signed body of POST /api/dev/operators. The signer is the owner.
type OperatorRequest struct {
	SlotToken string `json:"slot_token"`
	Operator  string `json:"operator"`
	Approved  bool   `json:"approved"`
	Timestamp int64  `json:"timestamp"`
}

type devHandlers struct {
	*handlers
	market *token.MemoryRegistry
}

func (h *devHandlers) mint(w http.ResponseWriter, r *http.Request) {
	var req MintRequest
	err := readJSON(w, r, &req)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	payment, err := h.memoryPayment(req.Token)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	to, err := types.ParseAddress(req.To)
	if err != nil {
		writeError(w, h.logger, badRequest(fmt.Errorf("to: %w", err)))
		return
	}
	amount, err := types.ParseAmount(req.Amount)
	if err != nil {
		writeError(w, h.logger, badRequest(fmt.Errorf("amount: %w", err)))
		return
	}

	err = payment.Mint(to, amount)
	if err != nil {
		writeError(w, h.logger, badRequest(err))
		return
	}

	bal, _ := payment.BalanceOf(r.Context(), to)
	h.logger.Info("dev-mint", zap.String("token", payment.Address().Hex()), zap.String("to", to.Hex()), zap.String("amount", amount.String()))
	writeJSON(w, http.StatusOK, BalanceResponse{Token: payment.Address().Hex(), Account: to.Hex(), Balance: bal.String()})
}

func (h *devHandlers) approve(w http.ResponseWriter, r *http.Request) {
	var req ApproveRequest
	owner, err := h.readSigned(w, r, &req)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	payment, err := h.memoryPayment(req.Token)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	spender, err := types.ParseAddress(req.Spender)
	if err != nil {
		writeError(w, h.logger, badRequest(fmt.Errorf("spender: %w", err)))
		return
	}
	amount, err := types.ParseAmount(req.Amount)
	if err != nil {
		writeError(w, h.logger, badRequest(fmt.Errorf("amount: %w", err)))
		return
	}

	err = payment.Approve(owner, spender, amount)
	if err != nil {
		writeError(w, h.logger, badRequest(err))
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *devHandlers) mintSlot(w http.ResponseWriter, r *http.Request) {
	var req MintSlotRequest
	err := readJSON(w, r, &req)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	slots, err := h.memorySlot(req.SlotToken)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	owner, err := types.ParseAddress(req.Owner)
	if err != nil {
		writeError(w, h.logger, badRequest(fmt.Errorf("owner: %w", err)))
		return
	}

	slotID, err := slots.Mint(owner, req.TokenURI)
	if err != nil {
		writeError(w, h.logger, badRequest(err))
		return
	}

	writeJSON(w, http.StatusCreated, MintSlotResponse{SlotToken: slots.Address().Hex(), SlotID: slotID, Owner: owner.Hex()})
}

func (h *devHandlers) setOperator(w http.ResponseWriter, r *http.Request) {
	var req OperatorRequest
	owner, err := h.readSigned(w, r, &req)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	slots, err := h.memorySlot(req.SlotToken)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	operator, err := types.ParseAddress(req.Operator)
	if err != nil {
		writeError(w, h.logger, badRequest(fmt.Errorf("operator: %w", err)))
		return
	}

	slots.SetApprovalForAll(owner, operator, req.Approved)
	w.WriteHeader(http.StatusNoContent)
}

func (h *devHandlers) memoryPayment(raw string) (*token.MemoryPaymentToken, error) {
	addr, err := types.ParseAddress(raw)
	if err != nil {
		return nil, badRequest(fmt.Errorf("token: %w", err))
	}
	payment, ok := h.market.MemoryPayment(addr)
	if !ok {
		return nil, notFound(fmt.Errorf("%w: %s", token.ErrUnknownContract, addr.Hex()))
	}
	return payment, nil
}

func (h *devHandlers) memorySlot(raw string) (*token.MemorySlotToken, error) {
	addr, err := types.ParseAddress(raw)
	if err != nil {
		return nil, badRequest(fmt.Errorf("slot_token: %w", err))
	}
	slots, ok := h.market.MemorySlot(addr)
	if !ok {
		return nil, notFound(fmt.Errorf("%w: %s", token.ErrUnknownContract, addr.Hex()))
	}
	return slots, nil
}

func readJSON(w http.ResponseWriter, r *http.Request, dst interface{}) error {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		return badRequest(fmt.Errorf("read body: %w", err))
	}
	err = json.Unmarshal(body, dst)
	if err != nil {
		return badRequest(fmt.Errorf("decode body: %w", err))
	}
	return nil
}
