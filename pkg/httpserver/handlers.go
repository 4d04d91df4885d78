package httpserver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	json "github.com/goccy/go-json"
	"github.com/mselser95/slot-auction/internal/auction"
	"github.com/mselser95/slot-auction/internal/escrow"
	"github.com/mselser95/slot-auction/internal/storage"
	"github.com/mselser95/slot-auction/pkg/token"
	"github.com/mselser95/slot-auction/pkg/types"
	"go.uber.org/zap"
)

const maxBodyBytes = 1 << 20

// Settlement is the engine surface served over HTTP.
type Settlement interface {
	Address() common.Address
	Bid(ctx context.Context, bidder common.Address, req auction.BidRequest) (*auction.BidResult, error)
	Payout(ctx context.Context, caller common.Address, bidID uint64, slotID uint64, amount *big.Int) (*auction.PayoutResult, error)
	BatchPayout(
		ctx context.Context,
		caller common.Address,
		bidID uint64,
		slotID uint64,
		amounts []*big.Int,
		recipients []common.Address,
	) (*auction.PayoutResult, error)
	HighestBid(ctx context.Context, slotID uint64) (escrow.HighestBid, bool, error)
}

type handlers struct {
	engine   Settlement
	registry token.Registry
	journal  storage.Storage
	auth     *Authenticator
	logger   *zap.Logger
}

func (h *handlers) highestBid(w http.ResponseWriter, r *http.Request) {
	slotID, err := slotParam(r)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	bid, ok, err := h.engine.HighestBid(r.Context(), slotID)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	if !ok {
		writeError(w, h.logger, notFound(fmt.Errorf("no bid on slot %d", slotID)))
		return
	}

	writeJSON(w, http.StatusOK, toHighestBidResponse(bid))
}

func (h *handlers) events(w http.ResponseWriter, r *http.Request) {
	slotID, err := slotParam(r)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err = strconv.Atoi(raw)
		if err != nil || limit < 0 {
			writeError(w, h.logger, badRequest(fmt.Errorf("invalid limit %q", raw)))
			return
		}
	}

	events, err := h.journal.ListEvents(r.Context(), slotID, limit)
	if err != nil {
		writeError(w, h.logger, fmt.Errorf("list events: %w", err))
		return
	}
	if events == nil {
		events = []*types.Event{}
	}

	writeJSON(w, http.StatusOK, EventsResponse{SlotID: slotID, Events: events})
}

func (h *handlers) content(w http.ResponseWriter, r *http.Request) {
	slotID, err := slotParam(r)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	slotAddr, err := types.ParseAddress(r.URL.Query().Get("slot_token"))
	if err != nil {
		writeError(w, h.logger, badRequest(fmt.Errorf("slot_token: %w", err)))
		return
	}

	slots, err := h.registry.SlotToken(r.Context(), slotAddr)
	if err != nil {
		writeError(w, h.logger, types.CollaboratorError(slotID, "resolve slot token", err))
		return
	}

	operator := h.engine.Address()
	uri, err := slots.SlotURI(r.Context(), slotID, operator)
	if err != nil {
		writeError(w, h.logger, types.CollaboratorError(slotID, "read slot content", err))
		return
	}

	writeJSON(w, http.StatusOK, ContentResponse{
		SlotID:     slotID,
		SlotToken:  slotAddr.Hex(),
		Operator:   operator.Hex(),
		ContentURI: uri,
	})
}

func (h *handlers) balance(w http.ResponseWriter, r *http.Request) {
	tokenAddr, err := types.ParseAddress(chi.URLParam(r, "token"))
	if err != nil {
		writeError(w, h.logger, badRequest(fmt.Errorf("token: %w", err)))
		return
	}
	account, err := types.ParseAddress(chi.URLParam(r, "account"))
	if err != nil {
		writeError(w, h.logger, badRequest(fmt.Errorf("account: %w", err)))
		return
	}

	payment, err := h.registry.PaymentToken(r.Context(), tokenAddr)
	if err != nil {
		writeError(w, h.logger, types.CollaboratorError(0, "resolve payment token", err))
		return
	}

	bal, err := payment.BalanceOf(r.Context(), account)
	if err != nil {
		writeError(w, h.logger, types.CollaboratorError(0, "read balance", err))
		return
	}

	writeJSON(w, http.StatusOK, BalanceResponse{
		Token:   tokenAddr.Hex(),
		Account: account.Hex(),
		Balance: bal.String(),
	})
}

func (h *handlers) bid(w http.ResponseWriter, r *http.Request) {
	slotID, err := slotParam(r)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	var req BidRequest
	bidder, err := h.readSigned(w, r, &req)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	if req.SlotID != slotID {
		writeError(w, h.logger, badRequest(fmt.Errorf("body slot_id %d does not match path slot %d", req.SlotID, slotID)))
		return
	}

	slotToken, err := types.ParseAddress(req.SlotToken)
	if err != nil {
		writeError(w, h.logger, badRequest(fmt.Errorf("slot_token: %w", err)))
		return
	}
	paymentToken, err := types.ParseAddress(req.PaymentToken)
	if err != nil {
		writeError(w, h.logger, badRequest(fmt.Errorf("payment_token: %w", err)))
		return
	}
	amount, err := types.ParseAmount(req.Amount)
	if err != nil {
		writeError(w, h.logger, badRequest(fmt.Errorf("amount: %w", err)))
		return
	}

	res, err := h.engine.Bid(r.Context(), bidder, auction.BidRequest{
		SlotID:       slotID,
		SlotToken:    slotToken,
		PaymentToken: paymentToken,
		Amount:       amount,
		ContentURI:   req.ContentURI,
	})
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	writeJSON(w, http.StatusCreated, toBidResponse(res))
}

func (h *handlers) payout(w http.ResponseWriter, r *http.Request) {
	slotID, err := slotParam(r)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	var req PayoutRequest
	caller, err := h.readSigned(w, r, &req)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	if req.SlotID != slotID {
		writeError(w, h.logger, badRequest(fmt.Errorf("body slot_id %d does not match path slot %d", req.SlotID, slotID)))
		return
	}

	amount, err := types.ParseAmount(req.Amount)
	if err != nil {
		writeError(w, h.logger, badRequest(fmt.Errorf("amount: %w", err)))
		return
	}

	res, err := h.engine.Payout(r.Context(), caller, req.BidID, slotID, amount)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, toPayoutResponse(res))
}

func (h *handlers) batchPayout(w http.ResponseWriter, r *http.Request) {
	slotID, err := slotParam(r)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	var req BatchPayoutRequest
	caller, err := h.readSigned(w, r, &req)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	if req.SlotID != slotID {
		writeError(w, h.logger, badRequest(fmt.Errorf("body slot_id %d does not match path slot %d", req.SlotID, slotID)))
		return
	}

	amounts := make([]*big.Int, len(req.Amounts))
	for i, raw := range req.Amounts {
		amounts[i], err = types.ParseAmount(raw)
		if err != nil {
			writeError(w, h.logger, badRequest(fmt.Errorf("amounts[%d]: %w", i, err)))
			return
		}
	}
	recipients := make([]common.Address, len(req.Recipients))
	for i, raw := range req.Recipients {
		recipients[i], err = types.ParseAddress(raw)
		if err != nil {
			writeError(w, h.logger, badRequest(fmt.Errorf("recipients[%d]: %w", i, err)))
			return
		}
	}

	res, err := h.engine.BatchPayout(r.Context(), caller, req.BidID, slotID, amounts, recipients)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, toPayoutResponse(res))
}

// readSigned decodes a signed JSON body into dst and returns the signer.
func (h *handlers) readSigned(w http.ResponseWriter, r *http.Request, dst interface{}) (common.Address, error) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		return common.Address{}, badRequest(fmt.Errorf("read body: %w", err))
	}

	err = json.Unmarshal(body, dst)
	if err != nil {
		return common.Address{}, badRequest(fmt.Errorf("decode body: %w", err))
	}

	var stamp struct {
		Timestamp int64 `json:"timestamp"`
	}
	_ = json.Unmarshal(body, &stamp)

	signer, err := h.auth.Verify(body, r.Header.Get(SignatureHeader), stamp.Timestamp)
	if err != nil {
		AuthFailuresTotal.WithLabelValues(authFailureReason(err)).Inc()
		return common.Address{}, unauthorized(err)
	}

	return signer, nil
}

func authFailureReason(err error) string {
	switch {
	case errors.Is(err, ErrMissingSignature):
		return "missing"
	case errors.Is(err, ErrStaleRequest):
		return "stale"
	case errors.Is(err, ErrReplayedRequest):
		return "replayed"
	default:
		return "invalid"
	}
}

func slotParam(r *http.Request) (uint64, error) {
	raw := chi.URLParam(r, "slotID")
	slotID, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, badRequest(fmt.Errorf("invalid slot id %q", raw))
	}
	return slotID, nil
}
