package dedup

import (
	"net/http"

	"bitbucket.org/mmdatafocus/katsync_backend/config"
	"github.com/gin-gonic/gin"
)

type PlanRequest struct {
	ProtectedCodes []string `json:"protected_codes"`
}

type ExecuteRequest struct {
	ProtectedCodes []string `json:"protected_codes"`
	Confirm        bool     `json:"confirm" binding:"required"`
}

func protectedSet(codes []string) map[string]bool {
	set := make(map[string]bool, len(codes))
	for _, code := range codes {
		set[code] = true
	}
	return set
}

// AnalyzeHandler runs duplicate detection against the live card list.
func AnalyzeHandler(remote RemoteCardAPI) gin.HandlerFunc {
	return func(c *gin.Context) {
		service := NewService(remote, config.GetDB(), config.GetLogger())
		groups, err := service.Analyze(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"group_count": len(groups), "groups": groups})
	}
}

// PreviewHandler returns the planned action per group without touching the
// remote side.
func PreviewHandler(remote RemoteCardAPI) gin.HandlerFunc {
	return func(c *gin.Context) {
		service := NewService(remote, config.GetDB(), config.GetLogger())
		var req PlanRequest
		_ = c.ShouldBindJSON(&req)

		groups, err := service.Analyze(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
			return
		}
		actions := service.Plan(groups, protectedSet(req.ProtectedCodes))
		c.JSON(http.StatusOK, gin.H{"actions": actions})
	}
}

// ExecuteHandler re-analyzes against live state, plans and executes. The
// plan is always rebuilt server-side so a stale client preview cannot drive
// deletions.
func ExecuteHandler(remote RemoteCardAPI) gin.HandlerFunc {
	return func(c *gin.Context) {
		service := NewService(remote, config.GetDB(), config.GetLogger())
		var req ExecuteRequest
		if err := c.ShouldBindJSON(&req); err != nil || !req.Confirm {
			c.JSON(http.StatusBadRequest, gin.H{"error": "confirm must be true"})
			return
		}

		groups, err := service.Analyze(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
			return
		}
		actions := service.Plan(groups, protectedSet(req.ProtectedCodes))
		result := service.Execute(c.Request.Context(), actions)
		c.JSON(http.StatusOK, result)
	}
}

// ExportHandler uploads the current analysis as a spreadsheet and returns
// its storage path.
func ExportHandler(remote RemoteCardAPI) gin.HandlerFunc {
	return func(c *gin.Context) {
		service := NewService(remote, config.GetDB(), config.GetLogger())
		groups, err := service.Analyze(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
			return
		}
		path, err := service.ExportAnalysis(c.Request.Context(), groups)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"report": path, "group_count": len(groups)})
	}
}
