package httpapi

import (
	"bytes"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"call-insights/internal/reporting"
	"call-insights/pkg/logger"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

func leaderboardRequest(c *gin.Context, workspaceID string) (reporting.LeaderboardRequest, error) {
	req := reporting.LeaderboardRequest{
		WorkspaceID: workspaceID,
		Timeframe:   reporting.Timeframe(c.Query("timeframe")),
		SortBy:      reporting.SortBy(c.Query("sort_by")),
	}
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return req, reporting.ErrInvalidRequest
		}
		req.Limit = n
	}
	return req, nil
}

func (h Handlers) Leaderboard(c *gin.Context) {
	id, ok := identity(c)
	if !ok {
		return
	}
	req, err := leaderboardRequest(c, id.WorkspaceID)
	if err != nil {
		writeError(c, err)
		return
	}
	lb, err := h.Reports.Leaderboard(c.Request.Context(), req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, lb)
}

func (h Handlers) LeaderboardXLSX(c *gin.Context) {
	id, ok := identity(c)
	if !ok {
		return
	}
	req, err := leaderboardRequest(c, id.WorkspaceID)
	if err != nil {
		writeError(c, err)
		return
	}
	lb, err := h.Reports.Leaderboard(c.Request.Context(), req)
	if err != nil {
		writeError(c, err)
		return
	}

	var buf bytes.Buffer
	if err := reporting.WriteLeaderboardXLSX(&buf, lb); err != nil {
		writeError(c, err)
		return
	}
	if h.Audit != nil {
		if err := h.Audit.LogReportExported(c.Request.Context(), id.WorkspaceID, actor(c, id), "leaderboard"); err != nil {
			logger.FromGin(c).Warn("audit append failed", "err", err)
		}
	}
	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="leaderboard-%s.xlsx"`, lb.Timeframe))
	c.Data(http.StatusOK, xlsxContentType, buf.Bytes())
}

func (h Handlers) MyDashboard(c *gin.Context) {
	id, ok := identity(c)
	if !ok {
		return
	}
	d, err := h.Reports.UserDashboard(c.Request.Context(), reporting.DashboardRequest{
		WorkspaceID: id.WorkspaceID,
		OwnerID:     id.UserID,
		Timeframe:   reporting.Timeframe(c.Query("timeframe")),
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, d)
}

func (h Handlers) Analytics(c *gin.Context) {
	id, ok := identity(c)
	if !ok {
		return
	}
	a, err := h.Reports.Analytics(c.Request.Context(), reporting.AnalyticsRequest{
		WorkspaceID: id.WorkspaceID,
		Timeframe:   reporting.Timeframe(c.Query("timeframe")),
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, a)
}
