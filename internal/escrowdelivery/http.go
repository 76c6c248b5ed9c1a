// Package escrowdelivery manages delivery layer of escrow transactions.
package escrowdelivery

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-petr/pet-escrow/internal/domain"
	"github.com/go-petr/pet-escrow/internal/middleware"
	"github.com/go-petr/pet-escrow/pkg/errorspkg"
	"github.com/go-petr/pet-escrow/pkg/web"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
)

// Service provides service layer interface needed by escrow delivery layer.
//
//go:generate mockgen -source http.go -destination http_mock.go -package escrowdelivery
type Service interface {
	Create(ctx context.Context, arg domain.CreateTransactionParams) (domain.Transaction, error)
	Approve(ctx context.Context, id string, actorID int32) (domain.Transaction, error)
	Cancel(ctx context.Context, id string, actorID int32) (domain.Transaction, error)
	Get(ctx context.Context, id string, callerID int32) (domain.Transaction, error)
	List(ctx context.Context, arg domain.ListTransactionsParams) ([]domain.Transaction, error)
}

// AccountFinder resolves the receiver named on the wire.
type AccountFinder interface {
	GetByEmail(ctx context.Context, email string) (domain.Account, error)
}

// Handler facilitates escrow delivery layer logic.
type Handler struct {
	service  Service
	accounts AccountFinder
}

// NewHandler returns escrow handler.
func NewHandler(es Service, af AccountFinder) *Handler {
	return &Handler{
		service:  es,
		accounts: af,
	}
}

type transactionData struct {
	Transaction domain.Transaction `json:"transaction"`
}

type transactionsData struct {
	Transactions []domain.Transaction `json:"transactions"`
}

// errorStatus maps engine failures to http statuses.
func errorStatus(err error) int {
	switch err {
	case domain.ErrInvalidAmount,
		domain.ErrAmountTooSmall,
		domain.ErrInvalidDescription,
		domain.ErrNotesTooLong,
		domain.ErrSelfTransfer,
		domain.ErrInsufficientBalance:
		return http.StatusBadRequest
	case domain.ErrAccountNotFound,
		domain.ErrReceiverNotFound,
		domain.ErrTransactionNotFound:
		return http.StatusNotFound
	case domain.ErrNotReceiver, domain.ErrNotSender:
		return http.StatusForbidden
	case domain.ErrInvalidTransactionState,
		domain.ErrAlreadyApproved,
		domain.ErrConflict:
		return http.StatusConflict
	}

	return http.StatusInternalServerError
}

func respondError(gctx *gin.Context, err error) {
	status := errorStatus(err)
	if status == http.StatusInternalServerError {
		gctx.JSON(status, web.Error(errorspkg.ErrInternal))
		return
	}

	gctx.JSON(status, web.Error(err))
}

func bindFailed(gctx *gin.Context, err error) {
	zerolog.Ctx(gctx.Request.Context()).Info().Err(err).Send()

	var ve validator.ValidationErrors
	if errors.As(err, &ve) {
		gctx.JSON(http.StatusBadRequest, web.Response{Error: web.GetErrorMsg(ve)})
		return
	}

	gctx.JSON(http.StatusBadRequest, web.Error(err))
}

type createRequest struct {
	ReceiverEmail string `json:"receiver_email" binding:"required,email"`
	Amount        string `json:"amount" binding:"required"`
	Description   string `json:"description"`
	Notes         string `json:"notes"`
}

// Create handles http request to open an escrow transaction from the caller to the receiver.
func (h *Handler) Create(gctx *gin.Context) {
	ctx := gctx.Request.Context()

	var req createRequest
	if err := gctx.ShouldBindJSON(&req); err != nil {
		bindFailed(gctx, err)
		return
	}

	authPayload := middleware.AuthPayload(gctx)

	receiver, err := h.accounts.GetByEmail(ctx, req.ReceiverEmail)
	if err != nil {
		if err == domain.ErrAccountNotFound {
			respondError(gctx, domain.ErrReceiverNotFound)
			return
		}

		respondError(gctx, err)

		return
	}

	arg := domain.CreateTransactionParams{
		SenderID:    authPayload.AccountID,
		ReceiverID:  receiver.ID,
		Amount:      req.Amount,
		Description: req.Description,
		Notes:       req.Notes,
	}

	tx, err := h.service.Create(ctx, arg)
	if err != nil {
		respondError(gctx, err)
		return
	}

	gctx.JSON(http.StatusCreated, web.Response{Data: transactionData{Transaction: tx}})
}

type listRequest struct {
	PageID   int32 `form:"page_id" binding:"required,min=1,max=1000000"`
	PageSize int32 `form:"page_size" binding:"required,min=1,max=100"`
}

// List returns the caller's transactions, newest first.
func (h *Handler) List(gctx *gin.Context) {
	ctx := gctx.Request.Context()

	var req listRequest
	if err := gctx.ShouldBindQuery(&req); err != nil {
		bindFailed(gctx, err)
		return
	}

	authPayload := middleware.AuthPayload(gctx)

	arg := domain.ListTransactionsParams{
		AccountID: authPayload.AccountID,
		Limit:     req.PageSize,
		Offset:    (req.PageID - 1) * req.PageSize,
	}

	txs, err := h.service.List(ctx, arg)
	if err != nil {
		respondError(gctx, err)
		return
	}

	if txs == nil {
		txs = []domain.Transaction{}
	}

	gctx.JSON(http.StatusOK, web.Response{Data: transactionsData{Transactions: txs}})
}

type idRequest struct {
	ID string `uri:"id" binding:"required"`
}

// Get returns one transaction visible to the caller.
func (h *Handler) Get(gctx *gin.Context) {
	h.byID(gctx, h.service.Get)
}

// Approve records the receiver's approval and releases the funds.
func (h *Handler) Approve(gctx *gin.Context) {
	h.byID(gctx, h.service.Approve)
}

// Cancel withdraws a transaction the receiver has not approved and refunds the sender.
func (h *Handler) Cancel(gctx *gin.Context) {
	h.byID(gctx, h.service.Cancel)
}

func (h *Handler) byID(gctx *gin.Context, op func(ctx context.Context, id string, accountID int32) (domain.Transaction, error)) {
	ctx := gctx.Request.Context()

	var req idRequest
	if err := gctx.ShouldBindUri(&req); err != nil {
		bindFailed(gctx, err)
		return
	}

	authPayload := middleware.AuthPayload(gctx)

	tx, err := op(ctx, req.ID, authPayload.AccountID)
	if err != nil {
		respondError(gctx, err)
		return
	}

	gctx.JSON(http.StatusOK, web.Response{Data: transactionData{Transaction: tx}})
}
