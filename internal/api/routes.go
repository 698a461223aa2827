package api

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/rawblock/veilwallet/internal/builder"
	"github.com/rawblock/veilwallet/internal/db"
	"github.com/rawblock/veilwallet/internal/wallet"
	"github.com/rawblock/veilwallet/pkg/models"
)

// APIHandler serves the local wallet REST surface.
type APIHandler struct {
	wallet *wallet.Wallet
	store  db.Store
	wsHub  *Hub
}

// SetupRouter wires middleware and wallet routes.
func SetupRouter(w *wallet.Wallet, store db.Store, wsHub *Hub) *gin.Engine {
	r := gin.Default()

	// CORS — configurable via ALLOWED_ORIGINS; defaults open for the local
	// dashboard.
	allowedOrigins := os.Getenv("ALLOWED_ORIGINS")
	r.Use(func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if allowedOrigins == "" || allowedOrigins == "*" {
			c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		} else {
			for _, allowed := range strings.Split(allowedOrigins, ",") {
				if strings.TrimSpace(allowed) == origin {
					c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
					break
				}
			}
		}
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}
		c.Next()
	})

	handler := &APIHandler{wallet: w, store: store, wsHub: wsHub}

	// New subscribers get the current sync state before any live event.
	wsHub.SetSnapshot(func() []byte {
		synced, target := w.SyncProgress()
		payload, err := json.Marshal(gin.H{
			"type":         "status",
			"state":        w.SyncState(),
			"syncHeight":   synced,
			"targetHeight": target,
		})
		if err != nil {
			return nil
		}
		return payload
	})

	// ── Public endpoints (no auth) ─────────────────────────────
	pub := r.Group("/api/v1")
	{
		pub.GET("/health", handler.handleHealth)
		pub.GET("/status", handler.handleStatus)
		pub.GET("/ws", wsHub.Subscribe)
	}

	// ── Protected endpoints ────────────────────────────────────
	prot := r.Group("/api/v1")
	prot.Use(AuthMiddleware())
	prot.Use(NewRateLimiter(120, 30).Middleware())
	{
		prot.GET("/ws", wsHub.Subscribe)
		prot.GET("/address", handler.handleAddress)
		prot.GET("/balance", handler.handleBalance)
		prot.GET("/outputs", handler.handleOutputs)
		prot.GET("/transactions", handler.handleTransactions)
		prot.POST("/sync/start", handler.handleSyncStart)
		prot.POST("/sync/stop", handler.handleSyncStop)

		// The spend path gets its own, much tighter budget.
		prot.POST("/transfer", NewSpendRateLimiter().Middleware(), handler.handleTransfer)
	}
	return r
}

func (h *APIHandler) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *APIHandler) handleStatus(c *gin.Context) {
	synced, target := h.wallet.SyncProgress()
	c.JSON(http.StatusOK, gin.H{
		"state":        h.wallet.SyncState(),
		"syncHeight":   synced,
		"targetHeight": target,
	})
}

func (h *APIHandler) handleAddress(c *gin.Context) {
	primary, err := h.wallet.PrimaryAddress()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	carrot, err := h.wallet.CarrotAddress()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	resp := gin.H{"primary": primary, "carrot": carrot}

	if majStr := c.Query("major"); majStr != "" {
		maj, err1 := strconv.ParseUint(majStr, 10, 32)
		min, err2 := strconv.ParseUint(c.DefaultQuery("minor", "0"), 10, 32)
		if err1 != nil || err2 != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "major/minor must be unsigned integers"})
			return
		}
		sub, err := h.wallet.SubaddressAt(uint32(maj), uint32(min))
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		resp["subaddress"] = sub
	}
	c.JSON(http.StatusOK, resp)
}

func (h *APIHandler) handleBalance(c *gin.Context) {
	asset := c.Query("asset")
	total, unlocked, err := h.wallet.Balance(c.Request.Context(), asset)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"total": total, "unlocked": unlocked, "asset": asset})
}

func (h *APIHandler) handleOutputs(c *gin.Context) {
	filter := models.OutputFilter{AssetType: c.Query("asset")}
	if v := c.Query("spent"); v != "" {
		spent := v == "true"
		filter.IsSpent = &spent
	}
	outs, err := h.store.GetOutputs(c.Request.Context(), filter)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"outputs": outs, "count": len(outs)})
}

func (h *APIHandler) handleTransactions(c *gin.Context) {
	recs, err := h.store.GetTransactions(c.Request.Context(), models.TransactionFilter{
		AssetType: c.Query("asset"),
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"transactions": recs, "count": len(recs)})
}

type transferRequest struct {
	Address  string `json:"address" binding:"required"`
	Amount   uint64 `json:"amount" binding:"required"`
	Asset    string `json:"asset"`
	Priority int    `json:"priority"`
}

func (h *APIHandler) handleTransfer(c *gin.Context) {
	var req transferRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	res, err := h.wallet.Transfer(c.Request.Context(), req.Address, req.Amount, builder.Options{
		AssetType: req.Asset,
		Priority:  builder.Priority(req.Priority),
	})
	if err != nil {
		status := http.StatusInternalServerError
		switch {
		case models.IsKind(err, models.ErrInvalidDestination):
			status = http.StatusBadRequest
		case models.IsKind(err, models.ErrInsufficientFunds),
			models.IsKind(err, models.ErrFeeExceedsInputs):
			status = http.StatusConflict
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"txid": res.TxID.String(), "fee": res.Fee, "change": res.Change})
}

func (h *APIHandler) handleSyncStart(c *gin.Context) {
	go func() {
		if err := h.wallet.Sync(context.Background()); err != nil {
			payload, _ := json.Marshal(gin.H{"type": "sync_error", "error": err.Error()})
			h.wsHub.Broadcast(payload)
		}
	}()
	c.JSON(http.StatusAccepted, gin.H{"status": "started"})
}

func (h *APIHandler) handleSyncStop(c *gin.Context) {
	h.wallet.StopSync()
	c.JSON(http.StatusOK, gin.H{"status": "stopping"})
}

// BroadcastSyncEvent adapts the Hub into the engine's event sink.
func BroadcastSyncEvent(hub *Hub) models.EventFunc {
	return func(ev models.SyncEvent) {
		payload, err := json.Marshal(gin.H{"type": ev.Type.String(), "event": ev})
		if err != nil {
			return
		}
		hub.Broadcast(payload)
	}
}
