// Package httpserver manages server creation and api routing.
package httpserver

import (
	"database/sql"
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/go-petr/pet-escrow/internal/accountdelivery"
	"github.com/go-petr/pet-escrow/internal/accountrepo"
	"github.com/go-petr/pet-escrow/internal/accountservice"
	"github.com/go-petr/pet-escrow/internal/entryrepo"
	"github.com/go-petr/pet-escrow/internal/escrowdelivery"
	"github.com/go-petr/pet-escrow/internal/escrowrepo"
	"github.com/go-petr/pet-escrow/internal/escrowservice"
	"github.com/go-petr/pet-escrow/internal/middleware"
	"github.com/go-petr/pet-escrow/pkg/configpkg"
	"github.com/go-petr/pet-escrow/pkg/tokenpkg"
	"github.com/go-petr/pet-escrow/pkg/txidpkg"
)

// DriverMemory selects the in-process store instead of a database.
const DriverMemory = "memory"

// Server holds db connection, handlers router and configuration.
type Server struct {
	DB     *sql.DB
	Cache  *redis.Client
	Engine *gin.Engine
	Config configpkg.Config
}

// ServeHTTP implements the http.Handler interface for the Server type.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.Engine.ServeHTTP(w, r)
}

type backend struct {
	store    escrowservice.Store
	accounts accountservice.Repo
	entries  accountservice.EntryRepo
}

func newBackend(conn *sql.DB, config configpkg.Config) (backend, error) {
	if config.DBDriver == DriverMemory {
		mem := escrowrepo.NewRepoMem(config.EscrowLockTimeout)

		return backend{
			store:    mem,
			accounts: mem.Accounts(),
			entries:  mem.Entries(),
		}, nil
	}

	if conn == nil {
		return backend{}, errors.New("database connection is required for driver " + config.DBDriver)
	}

	return backend{
		store:    escrowrepo.NewStorePGS(conn, config.EscrowLockTimeout),
		accounts: accountrepo.NewRepoPGS(conn),
		entries:  entryrepo.NewRepoPGS(conn),
	}, nil
}

// New creates Server type with instantiated domains and routes.
//
// conn may be nil when config.DBDriver is DriverMemory. cache may be nil, which disables
// Idempotency-Key replay.
func New(conn *sql.DB, cache *redis.Client, logger zerolog.Logger, config configpkg.Config) (*Server, error) {
	b, err := newBackend(conn, config)
	if err != nil {
		return nil, err
	}

	tokenMaker, err := tokenpkg.NewMaker(config.TokenType, config.TokenSymmetricKey)
	if err != nil {
		return nil, fmt.Errorf("cannot create token maker: %w", err)
	}

	accountService := accountservice.New(b.accounts, b.entries)
	escrowService := escrowservice.New(b.store, txidpkg.New(), config.EscrowMaxAttempts)

	accountHandler := accountdelivery.NewHandler(accountService, escrowService, tokenMaker, config.AccessTokenDuration)
	escrowHandler := escrowdelivery.NewHandler(escrowService, accountService)

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()

	engine.Use(middleware.RequestLogger(logger))

	engine.POST("/accounts", accountHandler.Create)
	engine.POST("/accounts/login", accountHandler.Login)

	authRoutes := engine.Group("/").Use(middleware.AuthMiddleware(tokenMaker))
	idempotent := middleware.Idempotency(cache, config.IdempotencyTTL)

	authRoutes.GET("/accounts/me", accountHandler.Me)
	authRoutes.GET("/accounts/entries", accountHandler.Entries)
	authRoutes.POST("/accounts/funds", idempotent, accountHandler.AddFunds)

	authRoutes.POST("/transactions", idempotent, escrowHandler.Create)
	authRoutes.GET("/transactions", escrowHandler.List)
	authRoutes.GET("/transactions/:id", escrowHandler.Get)
	authRoutes.POST("/transactions/:id/approve", escrowHandler.Approve)
	authRoutes.POST("/transactions/:id/cancel", escrowHandler.Cancel)

	if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
		err := v.RegisterValidation("amount", accountdelivery.ValidAmount)
		if err != nil {
			return nil, errors.New("cannot register amount validator")
		}
	}

	server := &Server{
		DB:     conn,
		Cache:  cache,
		Engine: engine,
		Config: config,
	}

	return server, nil
}
