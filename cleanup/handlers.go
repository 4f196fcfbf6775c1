package cleanup

import (
	"errors"
	"net/http"
	"strings"

	"bitbucket.org/mmdatafocus/katsync_backend/appctx"
	"bitbucket.org/mmdatafocus/katsync_backend/config"
	"bitbucket.org/mmdatafocus/katsync_backend/utils"
	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
)

type ValidateSKURequest struct {
	SKU string `json:"sku" binding:"required"`
}

type RenameRequest struct {
	OldSKU  string `json:"old_sku" binding:"required"`
	NewSKU  string `json:"new_sku" binding:"required"`
	Confirm bool   `json:"confirm"`
}

func performedBy(c *gin.Context) string {
	if name, ok := appctx.GetString(c.Request.Context(), appctx.ContextKeyUserName); ok && name != "" {
		return name
	}
	return "api"
}

func ValidateSKUHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		sku := strings.TrimSpace(c.Query("sku"))
		if sku == "" {
			var req ValidateSKURequest
			if err := c.ShouldBindJSON(&req); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "sku is required"})
				return
			}
			sku = req.SKU
		}
		c.JSON(http.StatusOK, ValidateSKU(sku))
	}
}

func RenamePreviewHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		service := NewService(config.GetDB(), config.GetLogger())
		var req RenameRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			var validationErrors validator.ValidationErrors
			if errors.As(err, &validationErrors) {
				c.JSON(http.StatusBadRequest, gin.H{"errors": utils.ProcessValidationErrors(err)})
				return
			}
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}
		preview, err := service.PreviewRename(c.Request.Context(), req.OldSKU, req.NewSKU)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, preview)
	}
}

func RenameHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		service := NewService(config.GetDB(), config.GetLogger())
		var req RenameRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}
		if !req.Confirm {
			c.JSON(http.StatusBadRequest, gin.H{"error": "confirm must be true"})
			return
		}
		result, err := service.ExecuteRename(c.Request.Context(), req.OldSKU, req.NewSKU, performedBy(c))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, result)
	}
}

func DuplicateOrdersHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		service := NewService(config.GetDB(), config.GetLogger())
		groups, malformed, err := service.AnalyzeDuplicateOrders(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"duplicate_groups": groups,
			"malformed_orders": malformed,
		})
	}
}

func CleanupOrdersHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		service := NewService(config.GetDB(), config.GetLogger())
		dryRun := !strings.EqualFold(c.Query("dryRun"), "false")
		result, err := service.CleanupOrders(c.Request.Context(), dryRun, performedBy(c))
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, result)
	}
}
