package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"investa/internal/database"
	"investa/internal/directory"
	"investa/internal/models"
	"investa/internal/portfolio"
	"investa/internal/search"
	"investa/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// Ledger is the subset of the ledger store the API writes and reads.
type Ledger interface {
	InsertTrade(ctx context.Context, t models.Trade) (int64, error)
	FetchTrades(ctx context.Context) ([]models.Trade, error)
	InsertTransaction(ctx context.Context, c models.CashTransaction) (int64, error)
	FetchTransactions(ctx context.Context) ([]models.CashTransaction, error)
	DeleteRecord(ctx context.Context, table string, id int64) error
	FetchTags(ctx context.Context) ([]string, error)
	InsertTag(ctx context.Context, name string) (int64, error)
}

type Portfolio interface {
	Snapshot(ctx context.Context) (portfolio.Snapshot, error)
}

type Prices interface {
	service.PriceProvider
	Stats(ctx context.Context, ticker string) (service.Bar, bool)
	FetchInfo(ctx context.Context, ticker string) service.Info
}

type Syncer interface {
	SyncIfNeeded(ctx context.Context) (directory.SyncResult, error)
	Force(ctx context.Context) (directory.SyncResult, error)
}

type Handler struct {
	ledger    Ledger
	portfolio Portfolio
	prices    Prices
	search    *search.Searcher
	syncer    Syncer
	log       *logrus.Logger
}

func NewHandler(l Ledger, pf Portfolio, p Prices, s *search.Searcher, sy Syncer, log *logrus.Logger) *Handler {
	return &Handler{ledger: l, portfolio: pf, prices: p, search: s, syncer: sy, log: log}
}

func (h *Handler) Register(rg *gin.Engine) {
	rg.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })

	rg.GET("/trades", h.GetTrades)
	rg.POST("/trades", h.PostTrade)
	rg.DELETE("/trades/:id", h.deleteFrom(database.TableInvestments))

	rg.GET("/transactions", h.GetTransactions)
	rg.POST("/transactions", h.PostTransaction)
	rg.DELETE("/transactions/:id", h.deleteFrom(database.TableTransactions))

	rg.GET("/tags", h.GetTags)
	rg.POST("/tags", h.PostTag)
	rg.DELETE("/tags/:id", h.deleteFrom(database.TableTags))

	rg.GET("/portfolio", h.GetPortfolio)

	rg.GET("/tickers/search", h.SearchTickers)
	rg.GET("/tickers/options", h.TickerOptions)
	rg.GET("/tickers/extract", h.ExtractTicker)
	rg.POST("/tickers/sync", h.SyncTickers)

	rg.GET("/prices/:ticker", h.GetPrice)
	rg.GET("/prices/:ticker/history", h.GetHistory)
	rg.GET("/prices/:ticker/stats", h.GetStats)
	rg.GET("/prices/:ticker/info", h.GetInfo)
}

type TradeRequest struct {
	Date     string `json:"date" binding:"required"`
	Ticker   string `json:"ticker" binding:"required"`
	Side     string `json:"side" binding:"required"`
	Shares   string `json:"shares" binding:"required"`
	Price    string `json:"price" binding:"required"`
	Currency string `json:"currency"`
	Note     string `json:"note"`
}

type TransactionRequest struct {
	Date     string `json:"date" binding:"required"`
	Kind     string `json:"kind" binding:"required"`
	Amount   string `json:"amount" binding:"required"`
	Currency string `json:"currency"`
	Category string `json:"category"`
	Tag      string `json:"tag"`
	Note     string `json:"note"`
}

type TagRequest struct {
	Name string `json:"name" binding:"required"`
}

// parseDate accepts a calendar date or a full RFC 3339 timestamp.
func parseDate(s string) (time.Time, error) {
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339, s)
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, gin.H{"error": msg})
}

func (h *Handler) PostTrade(c *gin.Context) {
	var req TradeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.log.Warnf("invalid trade body: %v", err)
		badRequest(c, err.Error())
		return
	}
	date, err := parseDate(req.Date)
	if err != nil {
		badRequest(c, "invalid date format")
		return
	}
	side, err := models.ParseSide(req.Side)
	if err != nil {
		badRequest(c, err.Error())
		return
	}
	shares, err := decimal.NewFromString(req.Shares)
	if err != nil {
		badRequest(c, "invalid shares format")
		return
	}
	price, err := decimal.NewFromString(req.Price)
	if err != nil {
		badRequest(c, "invalid price format")
		return
	}

	t := models.Trade{Date: date, Ticker: req.Ticker, Side: side, Shares: shares, Price: price, Currency: req.Currency, Note: req.Note}
	id, err := h.ledger.InsertTrade(c.Request.Context(), t)
	if errors.Is(err, models.ErrInvalidTrade) {
		badRequest(c, err.Error())
		return
	}
	if err != nil {
		h.log.Errorf("insert trade failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "insert failed"})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"id": id})
}

func (h *Handler) GetTrades(c *gin.Context) {
	rows, err := h.ledger.FetchTrades(c.Request.Context())
	if err != nil {
		h.log.Errorf("fetch trades failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query failed"})
		return
	}
	c.JSON(http.StatusOK, rows)
}

func (h *Handler) PostTransaction(c *gin.Context) {
	var req TransactionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.log.Warnf("invalid transaction body: %v", err)
		badRequest(c, err.Error())
		return
	}
	date, err := parseDate(req.Date)
	if err != nil {
		badRequest(c, "invalid date format")
		return
	}
	kind, err := models.ParseKind(req.Kind)
	if err != nil {
		badRequest(c, err.Error())
		return
	}
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		badRequest(c, "invalid amount format")
		return
	}

	tx := models.CashTransaction{Date: date, Kind: kind, Amount: amount, Currency: req.Currency, Category: req.Category, Tag: req.Tag, Note: req.Note}
	id, err := h.ledger.InsertTransaction(c.Request.Context(), tx)
	if errors.Is(err, models.ErrInvalidTransaction) {
		badRequest(c, err.Error())
		return
	}
	if err != nil {
		h.log.Errorf("insert transaction failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "insert failed"})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"id": id})
}

func (h *Handler) GetTransactions(c *gin.Context) {
	rows, err := h.ledger.FetchTransactions(c.Request.Context())
	if err != nil {
		h.log.Errorf("fetch transactions failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query failed"})
		return
	}
	c.JSON(http.StatusOK, rows)
}

func (h *Handler) deleteFrom(table string) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := strconv.ParseInt(c.Param("id"), 10, 64)
		if err != nil {
			badRequest(c, "invalid id")
			return
		}
		err = h.ledger.DeleteRecord(c.Request.Context(), table, id)
		if errors.Is(err, database.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		if err != nil {
			h.log.Errorf("delete from %s failed: %v", table, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "delete failed"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "deleted"})
	}
}

func (h *Handler) GetTags(c *gin.Context) {
	tags, err := h.ledger.FetchTags(c.Request.Context())
	if err != nil {
		h.log.Errorf("fetch tags failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query failed"})
		return
	}
	c.JSON(http.StatusOK, tags)
}

func (h *Handler) PostTag(c *gin.Context) {
	var req TagRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	id, err := h.ledger.InsertTag(c.Request.Context(), req.Name)
	var tagErr *database.TagError
	switch {
	case err == nil:
		c.JSON(http.StatusCreated, gin.H{"id": id, "name": strings.TrimSpace(req.Name)})
	case errors.Is(err, database.ErrDuplicateTag) && errors.As(err, &tagErr):
		c.JSON(http.StatusConflict, gin.H{"error": tagErr.Error(), "reason": tagErr.Reason})
	case errors.As(err, &tagErr):
		badRequest(c, tagErr.Error())
	default:
		h.log.Errorf("insert tag failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "insert failed"})
	}
}

func (h *Handler) GetPortfolio(c *gin.Context) {
	snap, err := h.portfolio.Snapshot(c.Request.Context())
	if err != nil {
		h.log.Errorf("portfolio snapshot failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query failed"})
		return
	}
	c.JSON(http.StatusOK, snap)
}

// limitParam reads ?limit=, 0 when absent.
func limitParam(c *gin.Context) (int, bool) {
	v := c.Query("limit")
	if v == "" {
		return 0, true
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		badRequest(c, "invalid limit")
		return 0, false
	}
	return n, true
}

func (h *Handler) SearchTickers(c *gin.Context) {
	limit, ok := limitParam(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, h.search.SearchTickers(c.Request.Context(), c.Query("q"), limit))
}

func (h *Handler) TickerOptions(c *gin.Context) {
	limit, ok := limitParam(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, h.search.FormattedOptions(c.Request.Context(), c.Query("q"), limit))
}

func (h *Handler) ExtractTicker(c *gin.Context) {
	sym, ok := search.ExtractSymbol(c.Query("option"))
	if !ok {
		badRequest(c, "option has no symbol")
		return
	}
	c.JSON(http.StatusOK, gin.H{"symbol": sym})
}

func (h *Handler) SyncTickers(c *gin.Context) {
	sync := h.syncer.SyncIfNeeded
	if force, _ := strconv.ParseBool(c.Query("force")); force {
		sync = h.syncer.Force
	}
	res, err := sync(c.Request.Context())
	if err != nil {
		h.log.Errorf("ticker sync failed: %v", err)
		status := http.StatusInternalServerError
		if errors.Is(err, directory.ErrFeedUnavailable) {
			status = http.StatusBadGateway
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}
	if res.Status == directory.Synced {
		h.search.Reset()
	}
	c.JSON(http.StatusOK, res)
}

func (h *Handler) GetPrice(c *gin.Context) {
	q := h.prices.FetchOne(c.Request.Context(), c.Param("ticker"))
	if !q.OK() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": q.Reason, "ticker": q.Ticker, "state": q.State})
		return
	}
	c.JSON(http.StatusOK, q)
}

func (h *Handler) GetHistory(c *gin.Context) {
	period, err := service.ParsePeriod(c.DefaultQuery("period", string(service.Month)))
	if err != nil {
		badRequest(c, err.Error())
		return
	}
	hist := h.prices.FetchHistory(c.Request.Context(), c.Param("ticker"), period)
	if !hist.OK() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": hist.Reason, "ticker": hist.Ticker, "state": hist.State})
		return
	}
	c.JSON(http.StatusOK, hist)
}

func (h *Handler) GetStats(c *gin.Context) {
	bar, ok := h.prices.Stats(c.Request.Context(), c.Param("ticker"))
	if !ok {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "no data"})
		return
	}
	c.JSON(http.StatusOK, bar)
}

func (h *Handler) GetInfo(c *gin.Context) {
	info := h.prices.FetchInfo(c.Request.Context(), c.Param("ticker"))
	if !info.OK() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": info.Reason, "ticker": info.Ticker, "state": info.State})
		return
	}
	c.JSON(http.StatusOK, info)
}
