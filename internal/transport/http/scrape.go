package httptransport

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"scrapeapi/backend/internal/middleware"
)

// ScrapeHandler 受保护的抓取任务端点。
// 抓取本身不在本服务实现，这里只负责接收已通过
// 认证/限流/授权管道的请求并回执任务受理结果。
type ScrapeHandler struct{}

// NewScrapeHandler 创建抓取处理器
func NewScrapeHandler() *ScrapeHandler {
	return &ScrapeHandler{}
}

type submitScrapeRequest struct {
	URL string `json:"url" binding:"required,url"`
}

type scrapeJobResponse struct {
	JobID      string    `json:"jobId"`
	URL        string    `json:"url"`
	Owner      string    `json:"owner"`
	Tier       string    `json:"tier"`
	AcceptedAt time.Time `json:"acceptedAt"`
}

// Submit 受理抓取任务
func (h *ScrapeHandler) Submit(c *gin.Context) {
	user, ok := middleware.CurrentUser(c)
	if !ok {
		Unauthorized(c, "authentication failed")
		return
	}

	var req submitScrapeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "invalid request body")
		return
	}

	Created(c, scrapeJobResponse{
		JobID:      uuid.New().String(),
		URL:        req.URL,
		Owner:      user.ID,
		Tier:       string(user.Tier),
		AcceptedAt: time.Now(),
	})
}
