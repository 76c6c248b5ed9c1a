package accountdelivery

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-petr/pet-escrow/internal/domain"
	"github.com/go-petr/pet-escrow/internal/middleware"
	"github.com/go-petr/pet-escrow/pkg/errorspkg"
	"github.com/go-petr/pet-escrow/pkg/randompkg"
	"github.com/go-petr/pet-escrow/pkg/tokenpkg"
	"github.com/go-playground/validator/v10"
	"github.com/golang/mock/gomock"
	"github.com/google/go-cmp/cmp"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

var testTokenMaker tokenpkg.Maker

func TestMain(m *testing.M) {
	var err error

	testTokenMaker, err = tokenpkg.NewPasetoMaker(randompkg.String(32))
	if err != nil {
		panic(err)
	}

	if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
		if err := v.RegisterValidation("amount", ValidAmount); err != nil {
			panic(err)
		}
	}

	gin.SetMode(gin.ReleaseMode)
	os.Exit(m.Run())
}

func randomAccount() domain.Account {
	return domain.Account{
		ID:        randompkg.IntBetween(1, 1000),
		Username:  randompkg.Owner(),
		FullName:  randompkg.Owner(),
		Email:     randompkg.Email(),
		Balance:   randompkg.MoneyAmountBetween(100, 1000),
		CreatedAt: time.Now().Truncate(time.Second).UTC(),
	}
}

type accountResponse struct {
	AccessToken string      `json:"access_token"`
	Data        accountData `json:"data"`
	Error       string      `json:"error"`
}

func decodeAccount(t *testing.T, recorder *httptest.ResponseRecorder) accountResponse {
	t.Helper()

	var res accountResponse
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &res))

	return res
}

func newServer(handler *Handler) *gin.Engine {
	server := gin.New()
	server.POST("/accounts", handler.Create)
	server.POST("/accounts/login", handler.Login)

	authRoutes := server.Group("/").Use(middleware.AuthMiddleware(testTokenMaker))
	authRoutes.GET("/accounts/me", handler.Me)
	authRoutes.GET("/accounts/entries", handler.Entries)
	authRoutes.POST("/accounts/funds", handler.AddFunds)

	return server
}

func newRequest(t *testing.T, method, url string, body any, account *domain.Account) *http.Request {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	request, err := http.NewRequest(method, url, reader)
	require.NoError(t, err)

	if account != nil {
		err = middleware.AddAuthorization(request, testTokenMaker, middleware.AuthTypeBearer,
			account.ID, account.Username, time.Minute)
		require.NoError(t, err)
	}

	return request
}

func TestCreateAPI(t *testing.T) {
	t.Parallel()

	account := randomAccount()
	password := randompkg.String(8)

	validBody := gin.H{
		"username": account.Username,
		"password": password,
		"fullname": account.FullName,
		"email":    account.Email,
	}

	testCases := []struct {
		name          string
		requestBody   gin.H
		buildStubs    func(service *MockService)
		checkResponse func(t *testing.T, recorder *httptest.ResponseRecorder)
	}{
		{
			name:        "OK",
			requestBody: validBody,
			buildStubs: func(service *MockService) {
				service.EXPECT().
					Create(gomock.Any(), gomock.Eq(account.Username), gomock.Eq(password),
						gomock.Eq(account.FullName), gomock.Eq(account.Email)).
					Times(1).
					Return(account, nil)
			},
			checkResponse: func(t *testing.T, recorder *httptest.ResponseRecorder) {
				require.Equal(t, http.StatusOK, recorder.Code)

				res := decodeAccount(t, recorder)
				require.NotEmpty(t, res.AccessToken)

				payload, err := testTokenMaker.VerifyToken(res.AccessToken)
				require.NoError(t, err)
				require.Equal(t, account.ID, payload.AccountID)

				if diff := cmp.Diff(account, res.Data.Account); diff != "" {
					t.Errorf("account mismatch (-want +got):\n%s", diff)
				}
			},
		},
		{
			name: "InvalidUsername",
			requestBody: gin.H{
				"username": "user&%",
				"password": password,
				"fullname": account.FullName,
				"email":    account.Email,
			},
			buildStubs: func(service *MockService) {
				service.EXPECT().
					Create(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
					Times(0)
			},
			checkResponse: func(t *testing.T, recorder *httptest.ResponseRecorder) {
				require.Equal(t, http.StatusBadRequest, recorder.Code)
			},
		},
		{
			name: "ShortPassword",
			requestBody: gin.H{
				"username": account.Username,
				"password": "xyz",
				"fullname": account.FullName,
				"email":    account.Email,
			},
			buildStubs: func(service *MockService) {
				service.EXPECT().
					Create(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
					Times(0)
			},
			checkResponse: func(t *testing.T, recorder *httptest.ResponseRecorder) {
				require.Equal(t, http.StatusBadRequest, recorder.Code)
				require.Equal(t, "Password must be at least 6", decodeAccount(t, recorder).Error)
			},
		},
		{
			name: "InvalidEmail",
			requestBody: gin.H{
				"username": account.Username,
				"password": password,
				"fullname": account.FullName,
				"email":    "user%email.com",
			},
			buildStubs: func(service *MockService) {
				service.EXPECT().
					Create(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
					Times(0)
			},
			checkResponse: func(t *testing.T, recorder *httptest.ResponseRecorder) {
				require.Equal(t, http.StatusBadRequest, recorder.Code)
			},
		},
		{
			name:        "UsernameAlreadyExists",
			requestBody: validBody,
			buildStubs: func(service *MockService) {
				service.EXPECT().
					Create(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
					Times(1).
					Return(domain.Account{}, domain.ErrUsernameAlreadyExists)
			},
			checkResponse: func(t *testing.T, recorder *httptest.ResponseRecorder) {
				require.Equal(t, http.StatusConflict, recorder.Code)
			},
		},
		{
			name:        "EmailAlreadyExists",
			requestBody: validBody,
			buildStubs: func(service *MockService) {
				service.EXPECT().
					Create(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
					Times(1).
					Return(domain.Account{}, domain.ErrEmailAlreadyExists)
			},
			checkResponse: func(t *testing.T, recorder *httptest.ResponseRecorder) {
				require.Equal(t, http.StatusConflict, recorder.Code)
			},
		},
		{
			name:        "InternalError",
			requestBody: validBody,
			buildStubs: func(service *MockService) {
				service.EXPECT().
					Create(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
					Times(1).
					Return(domain.Account{}, errorspkg.ErrInternal)
			},
			checkResponse: func(t *testing.T, recorder *httptest.ResponseRecorder) {
				require.Equal(t, http.StatusInternalServerError, recorder.Code)
				require.Equal(t, errorspkg.ErrInternal.Error(), decodeAccount(t, recorder).Error)
			},
		},
	}

	for i := range testCases {
		tc := testCases[i]

		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			ctrl := gomock.NewController(t)
			defer ctrl.Finish()

			service := NewMockService(ctrl)
			tc.buildStubs(service)

			server := newServer(NewHandler(service, NewMockFunder(ctrl), testTokenMaker, time.Minute))

			recorder := httptest.NewRecorder()
			server.ServeHTTP(recorder, newRequest(t, http.MethodPost, "/accounts", tc.requestBody, nil))

			tc.checkResponse(t, recorder)
		})
	}
}

func TestLoginAPI(t *testing.T) {
	t.Parallel()

	account := randomAccount()
	password := randompkg.String(8)

	testCases := []struct {
		name       string
		body       gin.H
		buildStubs func(service *MockService)
		wantStatus int
	}{
		{
			name: "OK",
			body: gin.H{"username": account.Username, "password": password},
			buildStubs: func(service *MockService) {
				service.EXPECT().
					CheckPassword(gomock.Any(), gomock.Eq(account.Username), gomock.Eq(password)).
					Times(1).
					Return(account, nil)
			},
			wantStatus: http.StatusOK,
		},
		{
			name: "InvalidUsername",
			body: gin.H{"username": "invalid-%user#1", "password": password},
			buildStubs: func(service *MockService) {
				service.EXPECT().
					CheckPassword(gomock.Any(), gomock.Any(), gomock.Any()).
					Times(0)
			},
			wantStatus: http.StatusBadRequest,
		},
		{
			name: "AccountNotFound",
			body: gin.H{"username": account.Username, "password": password},
			buildStubs: func(service *MockService) {
				service.EXPECT().
					CheckPassword(gomock.Any(), gomock.Any(), gomock.Any()).
					Times(1).
					Return(domain.Account{}, domain.ErrAccountNotFound)
			},
			wantStatus: http.StatusNotFound,
		},
		{
			name: "WrongPassword",
			body: gin.H{"username": account.Username, "password": password},
			buildStubs: func(service *MockService) {
				service.EXPECT().
					CheckPassword(gomock.Any(), gomock.Any(), gomock.Any()).
					Times(1).
					Return(domain.Account{}, domain.ErrWrongPassword)
			},
			wantStatus: http.StatusUnauthorized,
		},
		{
			name: "InternalError",
			body: gin.H{"username": account.Username, "password": password},
			buildStubs: func(service *MockService) {
				service.EXPECT().
					CheckPassword(gomock.Any(), gomock.Any(), gomock.Any()).
					Times(1).
					Return(domain.Account{}, errorspkg.ErrInternal)
			},
			wantStatus: http.StatusInternalServerError,
		},
	}

	for i := range testCases {
		tc := testCases[i]

		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			ctrl := gomock.NewController(t)
			defer ctrl.Finish()

			service := NewMockService(ctrl)
			tc.buildStubs(service)

			server := newServer(NewHandler(service, NewMockFunder(ctrl), testTokenMaker, time.Minute))

			recorder := httptest.NewRecorder()
			server.ServeHTTP(recorder, newRequest(t, http.MethodPost, "/accounts/login", tc.body, nil))

			require.Equal(t, tc.wantStatus, recorder.Code)

			if tc.wantStatus == http.StatusOK {
				res := decodeAccount(t, recorder)
				require.NotEmpty(t, res.AccessToken)
				require.Equal(t, account.Username, res.Data.Account.Username)
			}
		})
	}
}

func TestMeAPI(t *testing.T) {
	t.Parallel()

	account := randomAccount()

	testCases := []struct {
		name       string
		auth       bool
		buildStubs func(service *MockService)
		wantStatus int
	}{
		{
			name: "OK",
			auth: true,
			buildStubs: func(service *MockService) {
				service.EXPECT().
					Get(gomock.Any(), gomock.Eq(account.ID)).
					Times(1).
					Return(account, nil)
			},
			wantStatus: http.StatusOK,
		},
		{
			name: "NoAuthorization",
			buildStubs: func(service *MockService) {
				service.EXPECT().
					Get(gomock.Any(), gomock.Any()).
					Times(0)
			},
			wantStatus: http.StatusUnauthorized,
		},
		{
			name: "NotFound",
			auth: true,
			buildStubs: func(service *MockService) {
				service.EXPECT().
					Get(gomock.Any(), gomock.Eq(account.ID)).
					Times(1).
					Return(domain.Account{}, domain.ErrAccountNotFound)
			},
			wantStatus: http.StatusNotFound,
		},
		{
			name: "InternalError",
			auth: true,
			buildStubs: func(service *MockService) {
				service.EXPECT().
					Get(gomock.Any(), gomock.Eq(account.ID)).
					Times(1).
					Return(domain.Account{}, errorspkg.ErrInternal)
			},
			wantStatus: http.StatusInternalServerError,
		},
	}

	for i := range testCases {
		tc := testCases[i]

		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			ctrl := gomock.NewController(t)
			defer ctrl.Finish()

			service := NewMockService(ctrl)
			tc.buildStubs(service)

			server := newServer(NewHandler(service, NewMockFunder(ctrl), testTokenMaker, time.Minute))

			var caller *domain.Account
			if tc.auth {
				caller = &account
			}

			recorder := httptest.NewRecorder()
			server.ServeHTTP(recorder, newRequest(t, http.MethodGet, "/accounts/me", nil, caller))

			require.Equal(t, tc.wantStatus, recorder.Code)

			if tc.wantStatus == http.StatusOK {
				res := decodeAccount(t, recorder)
				require.True(t, account.Balance.Equal(res.Data.Account.Balance))
			}
		})
	}
}

func TestEntriesAPI(t *testing.T) {
	t.Parallel()

	account := randomAccount()

	entries := []domain.Entry{
		{ID: 1, AccountID: account.ID, Kind: domain.EntryFunding, Amount: decimal.NewFromInt(100)},
		{ID: 2, AccountID: account.ID, TransactionID: "ESK1", Kind: domain.EntryEscrowHold, Amount: decimal.NewFromInt(-10)},
	}

	testCases := []struct {
		name       string
		query      string
		buildStubs func(service *MockService)
		wantStatus int
		wantLen    int
	}{
		{
			name:  "OK",
			query: "?page_id=1&page_size=5",
			buildStubs: func(service *MockService) {
				service.EXPECT().
					ListEntries(gomock.Any(), gomock.Eq(account.ID), gomock.Eq(int32(5)), gomock.Eq(int32(1))).
					Times(1).
					Return(entries, nil)
			},
			wantStatus: http.StatusOK,
			wantLen:    2,
		},
		{
			name:  "Empty",
			query: "?page_id=3&page_size=5",
			buildStubs: func(service *MockService) {
				service.EXPECT().
					ListEntries(gomock.Any(), gomock.Eq(account.ID), gomock.Eq(int32(5)), gomock.Eq(int32(3))).
					Times(1).
					Return(nil, nil)
			},
			wantStatus: http.StatusOK,
		},
		{
			name:  "InvalidPageSize",
			query: "?page_id=1&page_size=101",
			buildStubs: func(service *MockService) {
				service.EXPECT().
					ListEntries(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
					Times(0)
			},
			wantStatus: http.StatusBadRequest,
		},
		{
			name:  "PageIDTooLarge",
			query: "?page_id=2147483647&page_size=100",
			buildStubs: func(service *MockService) {
				service.EXPECT().
					ListEntries(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
					Times(0)
			},
			wantStatus: http.StatusBadRequest,
		},
		{
			name:  "MissingPageID",
			query: "?page_size=5",
			buildStubs: func(service *MockService) {
				service.EXPECT().
					ListEntries(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
					Times(0)
			},
			wantStatus: http.StatusBadRequest,
		},
		{
			name:  "InternalError",
			query: "?page_id=1&page_size=5",
			buildStubs: func(service *MockService) {
				service.EXPECT().
					ListEntries(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
					Times(1).
					Return(nil, errorspkg.ErrInternal)
			},
			wantStatus: http.StatusInternalServerError,
		},
	}

	for i := range testCases {
		tc := testCases[i]

		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			ctrl := gomock.NewController(t)
			defer ctrl.Finish()

			service := NewMockService(ctrl)
			tc.buildStubs(service)

			server := newServer(NewHandler(service, NewMockFunder(ctrl), testTokenMaker, time.Minute))

			recorder := httptest.NewRecorder()
			server.ServeHTTP(recorder, newRequest(t, http.MethodGet, "/accounts/entries"+tc.query, nil, &account))

			require.Equal(t, tc.wantStatus, recorder.Code)

			if tc.wantStatus == http.StatusOK {
				var res struct {
					Data entriesData `json:"data"`
				}
				require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &res))
				require.NotNil(t, res.Data.Entries)
				require.Len(t, res.Data.Entries, tc.wantLen)
			}
		})
	}
}

func TestAddFundsAPI(t *testing.T) {
	t.Parallel()

	account := randomAccount()
	funded := account
	funded.Balance = account.Balance.Add(decimal.RequireFromString("50.25"))

	testCases := []struct {
		name       string
		body       gin.H
		buildStubs func(funder *MockFunder)
		wantStatus int
	}{
		{
			name: "OK",
			body: gin.H{"amount": "50.25"},
			buildStubs: func(funder *MockFunder) {
				funder.EXPECT().
					AddFunds(gomock.Any(), gomock.Eq(account.ID), gomock.Eq("50.25")).
					Times(1).
					Return(funded, nil)
			},
			wantStatus: http.StatusOK,
		},
		{
			name: "AmountTooSmall",
			body: gin.H{"amount": "0.5"},
			buildStubs: func(funder *MockFunder) {
				funder.EXPECT().
					AddFunds(gomock.Any(), gomock.Any(), gomock.Any()).
					Times(0)
			},
			wantStatus: http.StatusBadRequest,
		},
		{
			name: "TooManyDecimals",
			body: gin.H{"amount": "1.005"},
			buildStubs: func(funder *MockFunder) {
				funder.EXPECT().
					AddFunds(gomock.Any(), gomock.Any(), gomock.Any()).
					Times(0)
			},
			wantStatus: http.StatusBadRequest,
		},
		{
			name: "MissingAmount",
			body: gin.H{},
			buildStubs: func(funder *MockFunder) {
				funder.EXPECT().
					AddFunds(gomock.Any(), gomock.Any(), gomock.Any()).
					Times(0)
			},
			wantStatus: http.StatusBadRequest,
		},
		{
			name: "Conflict",
			body: gin.H{"amount": "10"},
			buildStubs: func(funder *MockFunder) {
				funder.EXPECT().
					AddFunds(gomock.Any(), gomock.Any(), gomock.Any()).
					Times(1).
					Return(domain.Account{}, domain.ErrConflict)
			},
			wantStatus: http.StatusConflict,
		},
		{
			name: "InternalError",
			body: gin.H{"amount": "10"},
			buildStubs: func(funder *MockFunder) {
				funder.EXPECT().
					AddFunds(gomock.Any(), gomock.Any(), gomock.Any()).
					Times(1).
					Return(domain.Account{}, errorspkg.ErrInternal)
			},
			wantStatus: http.StatusInternalServerError,
		},
	}

	for i := range testCases {
		tc := testCases[i]

		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			ctrl := gomock.NewController(t)
			defer ctrl.Finish()

			funder := NewMockFunder(ctrl)
			tc.buildStubs(funder)

			server := newServer(NewHandler(NewMockService(ctrl), funder, testTokenMaker, time.Minute))

			recorder := httptest.NewRecorder()
			server.ServeHTTP(recorder, newRequest(t, http.MethodPost, "/accounts/funds", tc.body, &account))

			require.Equal(t, tc.wantStatus, recorder.Code)

			if tc.wantStatus == http.StatusOK {
				var res struct {
					Data balanceData `json:"data"`
				}
				require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &res))
				require.True(t, funded.Balance.Equal(res.Data.Balance))
			}
		})
	}
}
