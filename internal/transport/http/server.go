package http

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"robotrader/internal/funds"
	"robotrader/internal/intraday"
	"robotrader/internal/logger"
	"robotrader/internal/market"
	"robotrader/internal/orders"
	"robotrader/internal/store"
	"robotrader/internal/trading"

	"github.com/gin-gonic/gin"
)

// Server exposes a read-only status API over the running engine.
type Server struct {
	addr   string
	router *gin.Engine
	srv    *http.Server

	manager     *trading.Manager
	ledger      *funds.Ledger
	registry    *intraday.Registry
	coordinator *orders.Coordinator
	journal     *store.Store

	startedAt time.Time
}

type ServerConfig struct {
	Addr        string
	Manager     *trading.Manager
	Ledger      *funds.Ledger
	Registry    *intraday.Registry
	Coordinator *orders.Coordinator
	Journal     *store.Store
}

func NewServer(cfg ServerConfig) (*Server, error) {
	if cfg.Manager == nil || cfg.Ledger == nil {
		return nil, errors.New("http: manager and ledger are required")
	}
	if cfg.Addr == "" {
		cfg.Addr = ":9981"
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	s := &Server{
		addr:        cfg.Addr,
		router:      router,
		manager:     cfg.Manager,
		ledger:      cfg.Ledger,
		registry:    cfg.Registry,
		coordinator: cfg.Coordinator,
		journal:     cfg.Journal,
		startedAt:   time.Now(),
	}
	s.registerRoutes()
	return s, nil
}

func (s *Server) registerRoutes() {
	s.router.GET("/healthz", s.handleHealth)
	api := s.router.Group("/api")
	api.GET("/status", s.handleStatus)
	api.GET("/stocks", s.handleStocks)
	api.GET("/stocks/:code", s.handleStock)
	api.GET("/trades", s.handleTrades)
}

// Start serves until the listener fails or Shutdown is called.
func (s *Server) Start() error {
	s.srv = &http.Server{Addr: s.addr, Handler: s.router}
	logger.Infof("http: status server listening on %s", s.addr)
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "uptime": time.Since(s.startedAt).String()})
}

func (s *Server) handleStatus(c *gin.Context) {
	counts := make(map[string]int)
	for _, st := range trading.AllStates {
		if n := len(s.manager.ByState(st)); n > 0 {
			counts[st.String()] = n
		}
	}

	resp := gin.H{
		"funds":  s.ledger.Snapshot(),
		"states": counts,
	}
	if s.registry != nil {
		resp["tracked_stocks"] = s.registry.Len()
	}
	if s.coordinator != nil {
		pending := s.coordinator.Pending()
		out := make([]gin.H, 0, len(pending))
		for _, o := range pending {
			out = append(out, gin.H{
				"broker_id": o.BrokerID,
				"code":      o.Code,
				"side":      o.Side.String(),
				"quantity":  o.Quantity,
				"price":     o.Price,
				"deadline":  o.Deadline,
			})
		}
		resp["pending_orders"] = out
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleStocks(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"stocks": s.manager.All()})
}

func (s *Server) handleStock(c *gin.Context) {
	code := c.Param("code")
	view, ok := s.manager.Get(code)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "stock not managed"})
		return
	}
	resp := gin.H{"stock": view}
	if s.registry != nil {
		if rec, ok := s.registry.Get(code); ok {
			bars := rec.Bars()
			n := 30
			if raw := c.Query("bars"); raw != "" {
				if v, err := strconv.Atoi(raw); err == nil && v > 0 {
					n = v
				}
			}
			resp["bars"] = market.TailBars(bars, n)
			resp["quote"] = rec.Snapshot()
		}
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleTrades(c *gin.Context) {
	if s.journal == nil {
		c.JSON(http.StatusOK, gin.H{"trades": []struct{}{}})
		return
	}
	limit := 50
	if raw := c.Query("limit"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil && v > 0 {
			limit = v
		}
	}
	trades, err := s.journal.RecentTrades(limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"trades": trades})
}
