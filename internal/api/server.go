// Package api is the HTTP surface over the transfer engine. It parses
// requests, resolves the acting user from the session token and maps
// engine error kinds to HTTP statuses; all correctness lives below it.
package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/payring/payring/internal/auth"
	"github.com/payring/payring/internal/directory"
	"github.com/payring/payring/internal/ledger"
	"github.com/payring/payring/internal/metrics"
	"github.com/payring/payring/internal/transfer"
	"github.com/payring/payring/pkg/money"
)

// Server wires the gin router to the services.
type Server struct {
	transfers *transfer.Service
	accounts  *directory.Directory
	sessions  *auth.Service
	log       zerolog.Logger
}

// NewServer creates the API server.
func NewServer(transfers *transfer.Service, accounts *directory.Directory, sessions *auth.Service, log zerolog.Logger) *Server {
	return &Server{transfers: transfers, accounts: accounts, sessions: sessions, log: log}
}

// Router builds the HTTP routes.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "healthy"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{})))

	v1 := r.Group("/api/v1")
	v1.POST("/auth/register", s.register)
	v1.POST("/auth/login", s.login)

	authorized := v1.Group("", auth.Middleware(s.sessions))
	authorized.POST("/transfers", s.submitTransfer)
	authorized.GET("/accounts", s.listAccounts)
	authorized.GET("/accounts/:id/history", s.history)
	authorized.GET("/accounts/:id/commissions", s.commissions)
	authorized.GET("/contacts/frequent", s.frequentContacts)
	authorized.GET("/contacts/referred", s.referralContacts)

	return r
}

type registerRequest struct {
	Name     string `json:"name" binding:"required"`
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required,min=8"`
}

func (s *Server) register(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	user, err := s.sessions.Register(c.Request.Context(), req.Name, req.Email, req.Password)
	if errors.Is(err, auth.ErrEmailExists) {
		c.JSON(http.StatusConflict, gin.H{"error": "email already registered"})
		return
	}
	if err != nil {
		s.log.Error().Err(err).Msg("register failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "registration failed"})
		return
	}
	c.JSON(http.StatusCreated, user)
}

type loginRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

func (s *Server) login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	token, user, err := s.sessions.Login(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid email or password"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": token, "user": user})
}

type transferRequest struct {
	OriginAccountID          int64  `json:"origin_account_id" binding:"required"`
	DestinationAccountID     int64  `json:"destination_account_id"`
	DestinationAccountNumber string `json:"destination_account_number"`
	Amount                   string `json:"amount" binding:"required"`
}

func (s *Server) submitTransfer(c *gin.Context) {
	var req transferRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	amount, err := money.Parse(req.Amount)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid amount"})
		return
	}

	dest := transfer.DestinationRef{
		AccountID:     req.DestinationAccountID,
		AccountNumber: req.DestinationAccountNumber,
	}
	result, err := s.transfers.Transfer(c.Request.Context(), req.OriginAccountID, dest, amount, auth.UserID(c))
	if err != nil {
		s.renderTransferError(c, err)
		return
	}
	c.JSON(http.StatusCreated, result)
}

// renderTransferError is the single place mapping engine error kinds to
// HTTP statuses. Unclassified failures stay opaque.
func (s *Server) renderTransferError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, transfer.ErrAmountBelowMinimum),
		errors.Is(err, transfer.ErrSameAccount),
		errors.Is(err, transfer.ErrInsufficientFunds):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, transfer.ErrNotAccountOwner):
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
	case errors.Is(err, transfer.ErrDestinationNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, ledger.ErrContention):
		c.JSON(http.StatusConflict, gin.H{"error": "account busy, retry the transfer"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "transfer failed"})
	}
}

func (s *Server) listAccounts(c *gin.Context) {
	views, err := s.accounts.ListByUser(c.Request.Context(), auth.UserID(c))
	if err != nil {
		s.log.Error().Err(err).Msg("list accounts failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list accounts"})
		return
	}
	c.JSON(http.StatusOK, views)
}

func (s *Server) frequentContacts(c *gin.Context) {
	contacts, err := s.accounts.FrequentContacts(c.Request.Context(), auth.UserID(c))
	if err != nil {
		s.log.Error().Err(err).Msg("frequent contacts failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list contacts"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"contacts": contacts})
}

func (s *Server) referralContacts(c *gin.Context) {
	contacts, err := s.accounts.ReferralContacts(c.Request.Context(), auth.UserID(c))
	if err != nil {
		s.log.Error().Err(err).Msg("referral contacts failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list contacts"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"contacts": contacts})
}

func (s *Server) history(c *gin.Context) {
	accountID, page, ok := s.pagedAccountQuery(c)
	if !ok {
		return
	}
	transfers, err := s.transfers.History(c.Request.Context(), accountID, auth.UserID(c), page)
	if err != nil {
		s.renderTransferError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"transfers": transfers})
}

func (s *Server) commissions(c *gin.Context) {
	accountID, page, ok := s.pagedAccountQuery(c)
	if !ok {
		return
	}
	commissions, err := s.transfers.Commissions(c.Request.Context(), accountID, auth.UserID(c), page)
	if err != nil {
		s.renderTransferError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"commissions": commissions})
}

func (s *Server) pagedAccountQuery(c *gin.Context) (int64, ledger.Page, bool) {
	accountID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid account id"})
		return 0, ledger.Page{}, false
	}
	pageNum, err := strconv.Atoi(c.DefaultQuery("page", "1"))
	if err != nil || pageNum < 1 {
		pageNum = 1
	}
	perPage, err := strconv.Atoi(c.DefaultQuery("per_page", "50"))
	if err != nil || perPage < 1 || perPage > 200 {
		perPage = 50
	}
	return accountID, ledger.Page{Offset: (pageNum - 1) * perPage, Limit: perPage}, true
}
