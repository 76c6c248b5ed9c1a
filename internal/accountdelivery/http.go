// Package accountdelivery manages delivery layer of accounts.
package accountdelivery

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-petr/pet-escrow/internal/domain"
	"github.com/go-petr/pet-escrow/internal/middleware"
	"github.com/go-petr/pet-escrow/pkg/errorspkg"
	"github.com/go-petr/pet-escrow/pkg/tokenpkg"
	"github.com/go-petr/pet-escrow/pkg/web"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// Service provides service layer interface needed by account delivery layer.
//
//go:generate mockgen -source http.go -destination http_mock.go -package accountdelivery
type Service interface {
	Create(ctx context.Context, username, password, fullname, email string) (domain.Account, error)
	CheckPassword(ctx context.Context, username, password string) (domain.Account, error)
	Get(ctx context.Context, id int32) (domain.Account, error)
	ListEntries(ctx context.Context, accountID, pageSize, pageID int32) ([]domain.Entry, error)
}

// Funder credits external money to an account.
type Funder interface {
	AddFunds(ctx context.Context, accountID int32, amount string) (domain.Account, error)
}

// Handler facilitates account delivery layer logic.
type Handler struct {
	service       Service
	funder        Funder
	tokenMaker    tokenpkg.Maker
	tokenDuration time.Duration
}

// NewHandler returns account handler.
func NewHandler(as Service, f Funder, tokenMaker tokenpkg.Maker, tokenDuration time.Duration) *Handler {
	return &Handler{
		service:       as,
		funder:        f,
		tokenMaker:    tokenMaker,
		tokenDuration: tokenDuration,
	}
}

type accountData struct {
	Account domain.Account `json:"account"`
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

func (h *Handler) respondWithToken(gctx *gin.Context, account domain.Account) {
	l := zerolog.Ctx(gctx.Request.Context())

	accessToken, payload, err := h.tokenMaker.CreateToken(account.ID, account.Username, h.tokenDuration)
	if err != nil {
		l.Error().Err(err).Msg("create access token")
		gctx.JSON(http.StatusInternalServerError, web.Error(errorspkg.ErrInternal))

		return
	}

	gctx.JSON(http.StatusOK, web.Response{
		AccessToken:          accessToken,
		AccessTokenExpiresAt: &payload.ExpiredAt,
		Data:                 accountData{Account: account},
	})
}

type createRequest struct {
	Username string `json:"username" binding:"required,alphanum"`
	Password string `json:"password" binding:"required,min=6"`
	FullName string `json:"fullname" binding:"required"`
	Email    string `json:"email" binding:"required,email"`
}

// Create handles http request to register an account.
func (h *Handler) Create(gctx *gin.Context) {
	ctx := gctx.Request.Context()

	var req createRequest
	if err := gctx.ShouldBindJSON(&req); err != nil {
		bindFailed(gctx, err)
		return
	}

	account, err := h.service.Create(ctx, req.Username, req.Password, req.FullName, req.Email)
	if err != nil {
		switch err {
		case domain.ErrUsernameAlreadyExists, domain.ErrEmailAlreadyExists:
			gctx.JSON(http.StatusConflict, web.Error(err))
			return
		}

		gctx.JSON(http.StatusInternalServerError, web.Error(errorspkg.ErrInternal))

		return
	}

	h.respondWithToken(gctx, account)
}

type loginRequest struct {
	Username string `json:"username" binding:"required,alphanum"`
	Password string `json:"password" binding:"required,min=6"`
}

// Login handles http login request and returns the account with an access token.
func (h *Handler) Login(gctx *gin.Context) {
	ctx := gctx.Request.Context()

	var req loginRequest
	if err := gctx.ShouldBindJSON(&req); err != nil {
		bindFailed(gctx, err)
		return
	}

	account, err := h.service.CheckPassword(ctx, req.Username, req.Password)
	if err != nil {
		switch err {
		case domain.ErrAccountNotFound:
			gctx.JSON(http.StatusNotFound, web.Error(err))
			return
		case domain.ErrWrongPassword:
			gctx.JSON(http.StatusUnauthorized, web.Error(err))
			return
		}

		gctx.JSON(http.StatusInternalServerError, web.Error(errorspkg.ErrInternal))

		return
	}

	h.respondWithToken(gctx, account)
}

// Me returns the caller's account with its current balance.
func (h *Handler) Me(gctx *gin.Context) {
	ctx := gctx.Request.Context()
	authPayload := middleware.AuthPayload(gctx)

	account, err := h.service.Get(ctx, authPayload.AccountID)
	if err != nil {
		if err == domain.ErrAccountNotFound {
			gctx.JSON(http.StatusNotFound, web.Error(err))
			return
		}

		gctx.JSON(http.StatusInternalServerError, web.Error(errorspkg.ErrInternal))

		return
	}

	gctx.JSON(http.StatusOK, web.Response{Data: accountData{Account: account}})
}

type entriesRequest struct {
	PageID   int32 `form:"page_id" binding:"required,min=1,max=1000000"`
	PageSize int32 `form:"page_size" binding:"required,min=1,max=100"`
}

type entriesData struct {
	Entries []domain.Entry `json:"entries"`
}

// Entries lists the caller's balance journal.
func (h *Handler) Entries(gctx *gin.Context) {
	ctx := gctx.Request.Context()

	var req entriesRequest
	if err := gctx.ShouldBindQuery(&req); err != nil {
		bindFailed(gctx, err)
		return
	}

	authPayload := middleware.AuthPayload(gctx)

	entries, err := h.service.ListEntries(ctx, authPayload.AccountID, req.PageSize, req.PageID)
	if err != nil {
		gctx.JSON(http.StatusInternalServerError, web.Error(errorspkg.ErrInternal))
		return
	}

	if entries == nil {
		entries = []domain.Entry{}
	}

	gctx.JSON(http.StatusOK, web.Response{Data: entriesData{Entries: entries}})
}

type addFundsRequest struct {
	Amount string `json:"amount" binding:"required,amount"`
}

type balanceData struct {
	Balance decimal.Decimal `json:"balance"`
}

// AddFunds credits external money to the caller's account.
func (h *Handler) AddFunds(gctx *gin.Context) {
	ctx := gctx.Request.Context()

	var req addFundsRequest
	if err := gctx.ShouldBindJSON(&req); err != nil {
		bindFailed(gctx, err)
		return
	}

	authPayload := middleware.AuthPayload(gctx)

	account, err := h.funder.AddFunds(ctx, authPayload.AccountID, req.Amount)
	if err != nil {
		switch err {
		case domain.ErrInvalidAmount, domain.ErrAmountTooSmall:
			gctx.JSON(http.StatusBadRequest, web.Error(err))
			return
		case domain.ErrAccountNotFound:
			gctx.JSON(http.StatusNotFound, web.Error(err))
			return
		case domain.ErrConflict:
			gctx.JSON(http.StatusConflict, web.Error(err))
			return
		}

		gctx.JSON(http.StatusInternalServerError, web.Error(errorspkg.ErrInternal))

		return
	}

	gctx.JSON(http.StatusOK, web.Response{Data: balanceData{Balance: account.Balance}})
}
