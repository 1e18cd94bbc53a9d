package api

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

type handlers struct {
	d Deps
}

func (h *handlers) symbols(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"symbols": h.d.Store.Symbols(),
		"known":   h.d.Store.KnownSymbols(),
	})
}

func (h *handlers) buffer(c *gin.Context) {
	s := h.d.Store.BufferFor(symbolParam(c))
	switch c.Query("view") {
	case "arrays":
		c.JSON(http.StatusOK, gin.H{
			"symbol":  s.Symbol,
			"candles": s.CandleArrays(),
			"prices":  s.PricePoints(),
		})
	case "", "raw":
		c.JSON(http.StatusOK, s)
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "view must be raw or arrays"})
	}
}

func (h *handlers) latest(c *gin.Context) {
	symbol := symbolParam(c)
	lv, ok := h.d.Store.LatestFor(symbol)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "no data for " + symbol})
		return
	}
	c.JSON(http.StatusOK, lv)
}

func (h *handlers) stats(c *gin.Context) {
	c.JSON(http.StatusOK, h.d.Store.Stats())
}

func (h *handlers) clear(c *gin.Context) {
	h.d.Store.ClearData()
	h.d.Log.Infow("[api] buffers cleared")
	if h.d.OnClear != nil {
		h.d.OnClear()
	}
	c.Status(http.StatusNoContent)
}

func (h *handlers) active(c *gin.Context) {
	v := h.d.Store.ActiveView()
	c.JSON(http.StatusOK, gin.H{
		"symbol":     v.Symbol,
		"hasData":    v.Latest != nil,
		"latest":     v.Latest,
		"lastCandle": v.LastCandle,
		"series":     v.Series,
	})
}

type selectRequest struct {
	Symbol string `json:"symbol" binding:"required"`
}

func (h *handlers) selectActive(c *gin.Context) {
	var req selectRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Symbol) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "symbol is required"})
		return
	}
	h.d.Store.SelectActive(req.Symbol)
	h.active(c)
}

func (h *handlers) connection(c *gin.Context) {
	h.writeConnection(c, http.StatusOK)
}

func (h *handlers) writeConnection(c *gin.Context, code int) {
	c.JSON(code, gin.H{
		"state":      h.d.Conn.State(),
		"transport":  h.d.Conn.TransportName(),
		"reconnects": h.d.Conn.Reconnects(),
	})
}

func (h *handlers) connect(c *gin.Context) {
	h.d.Conn.Connect()
	h.writeConnection(c, http.StatusAccepted)
}

func (h *handlers) disconnect(c *gin.Context) {
	h.d.Conn.Disconnect()
	h.connection(c)
}

func (h *handlers) reconnect(c *gin.Context) {
	h.d.Log.Infow("[api] manual reconnect", "transport", h.d.Conn.TransportName())
	h.d.Conn.Reconnect()
	h.writeConnection(c, http.StatusAccepted)
}
