package handlers

import (
	"context"
	"net/http"
	"strings"
	"time"

	"stockfolio/internal/auth"
	"stockfolio/internal/metrics"
	"stockfolio/internal/models"
	"stockfolio/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

type Pinger interface {
	Ping(ctx context.Context) error
}

type Handler struct {
	portfolio *service.PortfolioService
	users     *service.UserService
	wishlist  *service.WishlistService
	markets   *service.MarketService
	tokens    *auth.Tokens
	store     Pinger
	log       *logrus.Logger
}

type Deps struct {
	Portfolio *service.PortfolioService
	Users     *service.UserService
	Wishlist  *service.WishlistService
	Markets   *service.MarketService
	Tokens    *auth.Tokens
	Store     Pinger
}

func NewHandler(d Deps, log *logrus.Logger) *Handler {
	return &Handler{
		portfolio: d.Portfolio,
		users:     d.Users,
		wishlist:  d.Wishlist,
		markets:   d.Markets,
		tokens:    d.Tokens,
		store:     d.Store,
		log:       log,
	}
}

// Register mounts every route on r.
func (h *Handler) Register(r *gin.Engine) {
	r.Use(metrics.Middleware("/health", "/metrics"))
	r.GET("/health", h.Health)
	r.GET("/metrics", metrics.Handler())

	api := r.Group("/api")
	api.POST("/auth/signup", h.SignUp)
	api.POST("/auth/signin", h.SignIn)
	api.GET("/stock-price", h.GetStockPrice)
	api.GET("/stock-details/:symbol", h.GetStockDetails)
	api.GET("/search-stocks", h.SearchStocks)
	api.GET("/exchange-rate", h.GetExchangeRate)
	api.GET("/stock-news/:symbol", h.GetStockNews)

	private := api.Group("", auth.RequireAuth(h.tokens))
	private.GET("/portfolio/stocks", h.GetPortfolio)
	private.POST("/portfolio/stocks", h.AddStock)
	private.GET("/portfolio/stocks/:symbol", h.GetStock)
	private.PUT("/portfolio/stocks/:symbol", h.UpdateStock)
	private.DELETE("/portfolio/stocks/:symbol", h.DeleteStock)
	private.GET("/portfolio/transactions", h.GetTransactions)
	private.GET("/wishlist", h.GetWishlist)
	private.POST("/wishlist", h.AddWishlist)
	private.DELETE("/wishlist/:symbol", h.RemoveWishlist)
}

func (h *Handler) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()
	if err := h.store.Ping(ctx); err != nil {
		h.log.Errorf("health: store ping failed: %v", err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

type signUpRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name"`
}

func (h *Handler) SignUp(c *gin.Context) {
	var req signUpRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.log.Warnf("invalid signup body: %v", err)
		fail(c, http.StatusBadRequest, "All fields are required")
		return
	}
	s, err := h.users.SignUp(c.Request.Context(), req.Email, req.Password, req.Name)
	if err != nil {
		h.respondError(c, err, "", "Failed to create account")
		return
	}
	ok(c, http.StatusCreated, s)
}

type signInRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (h *Handler) SignIn(c *gin.Context) {
	var req signInRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.log.Warnf("invalid signin body: %v", err)
		fail(c, http.StatusBadRequest, "Email and password are required")
		return
	}
	s, err := h.users.SignIn(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		h.respondError(c, err, "", "Failed to sign in")
		return
	}
	ok(c, http.StatusOK, s)
}

func (h *Handler) GetPortfolio(c *gin.Context) {
	p, err := h.portfolio.Portfolio(c.Request.Context(), auth.Owner(c))
	if err != nil {
		h.respondError(c, err, "", "Failed to fetch portfolio")
		return
	}
	ok(c, http.StatusOK, p)
}

type addStockRequest struct {
	Symbol   string           `json:"symbol" binding:"required"`
	Units    *decimal.Decimal `json:"units" binding:"required"`
	BuyPrice *decimal.Decimal `json:"buyPrice" binding:"required"`
}

func (h *Handler) AddStock(c *gin.Context) {
	var req addStockRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.log.Warnf("invalid add stock body: %v", err)
		fail(c, http.StatusBadRequest, "Missing required fields: symbol, units, buyPrice")
		return
	}
	holding, err := h.portfolio.Buy(c.Request.Context(), auth.Owner(c), req.Symbol, *req.Units, *req.BuyPrice)
	if err != nil {
		h.respondError(c, err, "", "Failed to add stock")
		return
	}
	ok(c, http.StatusCreated, holding)
}

func (h *Handler) GetStock(c *gin.Context) {
	holding, err := h.portfolio.Holding(c.Request.Context(), auth.Owner(c), c.Param("symbol"))
	if err != nil {
		h.respondError(c, err, "Stock not found", "Failed to fetch stock")
		return
	}
	ok(c, http.StatusOK, holding)
}

type updateStockRequest struct {
	Action models.Kind      `json:"action" binding:"required"`
	Units  *decimal.Decimal `json:"units" binding:"required"`
	Price  *decimal.Decimal `json:"price" binding:"required"`
}

func (h *Handler) UpdateStock(c *gin.Context) {
	var req updateStockRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.log.Warnf("invalid update stock body: %v", err)
		fail(c, http.StatusBadRequest, "Missing required fields: action, units, price")
		return
	}
	action := models.Kind(strings.ToUpper(strings.TrimSpace(string(req.Action))))
	res, err := h.portfolio.Trade(c.Request.Context(), auth.Owner(c), c.Param("symbol"), action, *req.Units, *req.Price)
	if err != nil {
		h.respondError(c, err, "Stock not found", "Failed to update stock")
		return
	}
	if res.Closed {
		ok(c, http.StatusOK, gin.H{
			"message":     "All units sold. Stock removed from portfolio.",
			"realizedPnl": res.RealizedPnl,
		})
		return
	}
	ok(c, http.StatusOK, res.Holding)
}

func (h *Handler) DeleteStock(c *gin.Context) {
	if err := h.portfolio.DeleteHolding(c.Request.Context(), auth.Owner(c), c.Param("symbol")); err != nil {
		h.respondError(c, err, "Stock not found", "Failed to delete stock")
		return
	}
	ok(c, http.StatusOK, gin.H{"message": "Stock deleted successfully"})
}

func (h *Handler) GetTransactions(c *gin.Context) {
	txs, err := h.portfolio.Transactions(c.Request.Context(), auth.Owner(c))
	if err != nil {
		h.respondError(c, err, "", "Failed to fetch transactions")
		return
	}
	ok(c, http.StatusOK, txs)
}

func (h *Handler) GetWishlist(c *gin.Context) {
	items, err := h.wishlist.List(c.Request.Context(), auth.Owner(c))
	if err != nil {
		h.respondError(c, err, "", "Failed to fetch wishlist")
		return
	}
	ok(c, http.StatusOK, items)
}

type wishlistRequest struct {
	Symbol      string           `json:"symbol" binding:"required"`
	Notes       string           `json:"notes"`
	TargetPrice *decimal.Decimal `json:"targetPrice"`
}

func (h *Handler) AddWishlist(c *gin.Context) {
	var req wishlistRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "Symbol is required")
		return
	}
	item, err := h.wishlist.Add(c.Request.Context(), auth.Owner(c), req.Symbol, req.Notes, req.TargetPrice)
	if err != nil {
		h.respondError(c, err, "", "Failed to add to wishlist")
		return
	}
	ok(c, http.StatusCreated, item)
}

func (h *Handler) RemoveWishlist(c *gin.Context) {
	if err := h.wishlist.Remove(c.Request.Context(), auth.Owner(c), c.Param("symbol")); err != nil {
		h.respondError(c, err, "Symbol not in wishlist", "Failed to remove from wishlist")
		return
	}
	ok(c, http.StatusOK, gin.H{"message": "Removed from wishlist"})
}

func (h *Handler) GetStockPrice(c *gin.Context) {
	symbol := c.Query("symbol")
	if symbol == "" {
		fail(c, http.StatusBadRequest, "Symbol is required")
		return
	}
	q, err := h.markets.Quote(c.Request.Context(), symbol)
	if err != nil {
		h.respondError(c, err, "", "Failed to fetch price")
		return
	}
	ok(c, http.StatusOK, q)
}

func (h *Handler) GetStockDetails(c *gin.Context) {
	d, err := h.markets.Details(c.Request.Context(), c.Param("symbol"))
	if err != nil {
		h.respondError(c, err, "", "Failed to fetch stock details")
		return
	}
	ok(c, http.StatusOK, d)
}

// SearchStocks answers with a bare {results} body rather than the envelope;
// the search box client reads it that way.
func (h *Handler) SearchStocks(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"results": h.markets.Search(c.Request.Context(), c.Query("q"))})
}

func (h *Handler) GetExchangeRate(c *gin.Context) {
	ok(c, http.StatusOK, h.markets.ExchangeRate(c.Request.Context()))
}

func (h *Handler) GetStockNews(c *gin.Context) {
	articles, err := h.markets.News(c.Request.Context(), c.Param("symbol"))
	if err != nil {
		h.respondError(c, err, "", "Failed to fetch news")
		return
	}
	ok(c, http.StatusOK, articles)
}
