package handler

import (
	"github.com/gin-gonic/gin"

	"living-world-engine/internal/application/choice"
	"living-world-engine/internal/domain/entity"
	"living-world-engine/internal/interfaces/http/dto"
	"living-world-engine/pkg/logger"
)

// ChoiceHandler 玩家选择处理器
type ChoiceHandler struct {
	service *choice.Service
}

// NewChoiceHandler 创建选择处理器
func NewChoiceHandler(service *choice.Service) *ChoiceHandler {
	return &ChoiceHandler{service: service}
}

// Process 处理玩家选择。
// 安全网关否决返回 200 与 committed=false，不是错误响应。
// POST /v1/worlds/:world_id/choices
func (h *ChoiceHandler) Process(c *gin.Context) {
	var req dto.ChoiceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		dto.BadRequest(c, err.Error())
		return
	}

	ctx := logger.WithContext(c.Request.Context(), logger.PlayerIDKey, req.PlayerID)
	ctx = logger.WithContext(ctx, logger.WorldIDKey, c.Param("world_id"))

	result, err := h.service.ProcessChoice(ctx, &entity.PlayerChoice{
		PlayerID: req.PlayerID,
		WorldID:  c.Param("world_id"),
		Intent:   req.Intent,
		Category: entity.ChoiceCategory(req.Category),
		Context:  req.Context,
	})
	if err != nil {
		dto.Error(c, err)
		return
	}
	dto.Success(c, result)
}

// Preferences 读取玩家偏好向量
// GET /v1/worlds/:world_id/players/:player_id/preferences
func (h *ChoiceHandler) Preferences(c *gin.Context) {
	bias, err := h.service.GetPreferences(c.Request.Context(), c.Param("player_id"), c.Param("world_id"))
	if err != nil {
		dto.Error(c, err)
		return
	}
	dto.Success(c, bias)
}
