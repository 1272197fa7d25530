package handler

import (
	"errors"
	"net/http"
	"strings"

	"lucledger/internal/billing"
	"lucledger/internal/model"
	"lucledger/internal/repository"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
)

type PricingHandler struct {
	store *billing.PriceStore
}

func NewPricingHandler(store *billing.PriceStore) *PricingHandler {
	return &PricingHandler{store: store}
}

// 模型名可能包含斜杠（如 @cf/meta/llama），路由使用通配参数
func modelParam(c *gin.Context) string {
	return strings.TrimPrefix(c.Param("model"), "/")
}

// ListPrices GET /pricing
func (h *PricingHandler) ListPrices(c *gin.Context) {
	prices := h.store.ListPrices()
	items := make([]gin.H, 0, len(prices))
	for _, p := range prices {
		items = append(items, gin.H{
			"model":                   p.Model,
			"source":                  p.Source,
			"inputCostPerMillionUsd":  p.PriceData.InputCostPerMillion,
			"outputCostPerMillionUsd": p.PriceData.OutputCostPerMillion,
			"updatedAt":               p.UpdatedAt,
		})
	}
	c.JSON(http.StatusOK, gin.H{"items": items, "total": len(items)})
}

// SetPrice PUT /pricing/*model
func (h *PricingHandler) SetPrice(c *gin.Context) {
	var req model.SetPricingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	price, err := h.store.SetPrice(c.Request.Context(), modelParam(c), req.InputCostPerMillionUSD, req.OutputCostPerMillionUSD)
	if err != nil {
		if errors.Is(err, billing.ErrInvalidPrice) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		log.Errorf("pricing: failed to save override: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to save price"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"model":                   price.Model,
		"source":                  price.Source,
		"inputCostPerMillionUsd":  price.PriceData.InputCostPerMillion,
		"outputCostPerMillionUsd": price.PriceData.OutputCostPerMillion,
		"updatedAt":               price.UpdatedAt,
	})
}

// DeletePrice DELETE /pricing/*model
func (h *PricingHandler) DeletePrice(c *gin.Context) {
	if err := h.store.DeletePrice(c.Request.Context(), modelParam(c)); err != nil {
		if errors.Is(err, repository.ErrPricingNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "price override not found"})
			return
		}
		log.Errorf("pricing: failed to delete override: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to delete price"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "deleted"})
}
