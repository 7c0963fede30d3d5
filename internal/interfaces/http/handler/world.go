package handler

import (
	"time"

	"github.com/gin-gonic/gin"

	"living-world-engine/internal/application/admin"
	"living-world-engine/internal/application/worldstate"
	"living-world-engine/internal/domain/entity"
	"living-world-engine/internal/interfaces/http/dto"
	"living-world-engine/pkg/logger"
)

// WorldHandler 世界生命周期与管理面处理器
type WorldHandler struct {
	manager *worldstate.Manager
	admin   *admin.Service
}

// NewWorldHandler 创建世界处理器
func NewWorldHandler(manager *worldstate.Manager, adminSvc *admin.Service) *WorldHandler {
	return &WorldHandler{manager: manager, admin: adminSvc}
}

// Create 创建并激活世界
// POST /v1/worlds
func (h *WorldHandler) Create(c *gin.Context) {
	var req dto.CreateWorldRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		dto.BadRequest(c, err.Error())
		return
	}

	world, err := h.manager.InitializeWorld(c.Request.Context(), req.Name,
		time.Duration(req.EvolutionIntervalSeconds)*time.Second)
	if err != nil {
		dto.Error(c, err)
		return
	}
	dto.Created(c, world)
}

// Get 读取世界状态视图
// GET /v1/worlds/:world_id
func (h *WorldHandler) Get(c *gin.Context) {
	ctx := logger.WithContext(c.Request.Context(), logger.WorldIDKey, c.Param("world_id"))

	view, err := h.manager.GetWorldState(ctx, c.Param("world_id"))
	if err != nil {
		dto.Error(c, err)
		return
	}
	dto.Success(c, view)
}

// Pause 暂停世界演化
// POST /v1/worlds/:world_id/pause
func (h *WorldHandler) Pause(c *gin.Context) {
	if err := h.admin.PauseWorld(c.Request.Context(), c.Param("world_id")); err != nil {
		dto.Error(c, err)
		return
	}
	dto.NoContent(c)
}

// Resume 恢复世界演化
// POST /v1/worlds/:world_id/resume
func (h *WorldHandler) Resume(c *gin.Context) {
	if err := h.admin.ResumeWorld(c.Request.Context(), c.Param("world_id")); err != nil {
		dto.Error(c, err)
		return
	}
	dto.NoContent(c)
}

// Archive 归档世界（终态）
// POST /v1/worlds/:world_id/archive
func (h *WorldHandler) Archive(c *gin.Context) {
	if err := h.admin.ArchiveWorld(c.Request.Context(), c.Param("world_id")); err != nil {
		dto.Error(c, err)
		return
	}
	dto.NoContent(c)
}

// SetFlags 覆盖世界标记
// PUT /v1/worlds/:world_id/flags
func (h *WorldHandler) SetFlags(c *gin.Context) {
	var req dto.SetFlagsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		dto.BadRequest(c, err.Error())
		return
	}

	if err := h.admin.SetWorldFlags(c.Request.Context(), c.Param("world_id"), req.Flags); err != nil {
		dto.Error(c, err)
		return
	}
	dto.NoContent(c)
}

// Evolve 手动触发一个演化批次
// POST /v1/worlds/:world_id/evolve
func (h *WorldHandler) Evolve(c *gin.Context) {
	var req dto.EvolveRequest
	if err := c.ShouldBindJSON(&req); err != nil && c.Request.ContentLength > 0 {
		dto.BadRequest(c, err.Error())
		return
	}

	result, err := h.manager.EvolveWorld(c.Request.Context(), c.Param("world_id"), "manual")
	if err != nil {
		dto.Error(c, err)
		return
	}
	dto.Success(c, result)
}

// Validate 一致性校验（只读）
// POST /v1/worlds/:world_id/validate
func (h *WorldHandler) Validate(c *gin.Context) {
	report, err := h.manager.ValidateWorldConsistency(c.Request.Context(), c.Param("world_id"))
	if err != nil {
		dto.Error(c, err)
		return
	}
	dto.Success(c, report)
}

// Repair 校验并回放修复派生状态
// POST /v1/worlds/:world_id/repair
func (h *WorldHandler) Repair(c *gin.Context) {
	result, err := h.manager.ValidateAndRepairWorld(c.Request.Context(), c.Param("world_id"))
	if err != nil {
		dto.Error(c, err)
		return
	}
	dto.Success(c, result)
}

// Analytics 世界分析报表
// GET /v1/worlds/:world_id/analytics
func (h *WorldHandler) Analytics(c *gin.Context) {
	analytics, err := h.admin.GetWorldAnalytics(c.Request.Context(), c.Param("world_id"))
	if err != nil {
		dto.Error(c, err)
		return
	}
	dto.Success(c, analytics)
}

// Export 导出世界全量状态
// POST /v1/worlds/:world_id/export
func (h *WorldHandler) Export(c *gin.Context) {
	export, err := h.admin.ExportWorldState(c.Request.Context(), c.Param("world_id"))
	if err != nil {
		dto.Error(c, err)
		return
	}
	dto.Success(c, export)
}

// Import 以导出快照覆盖重建世界
// POST /v1/worlds/:world_id/import
func (h *WorldHandler) Import(c *gin.Context) {
	var export entity.WorldExport
	if err := c.ShouldBindJSON(&export); err != nil {
		dto.BadRequest(c, err.Error())
		return
	}
	if export.World != nil && export.World.ID != c.Param("world_id") {
		dto.BadRequest(c, "snapshot world id does not match path")
		return
	}

	if err := h.admin.ImportWorldState(c.Request.Context(), &export); err != nil {
		dto.Error(c, err)
		return
	}
	dto.NoContent(c)
}

// InvalidateCache 强制失效世界缓存
// POST /v1/worlds/:world_id/cache/invalidate
func (h *WorldHandler) InvalidateCache(c *gin.Context) {
	if err := h.admin.InvalidateCache(c.Request.Context(), c.Param("world_id")); err != nil {
		dto.Error(c, err)
		return
	}
	dto.NoContent(c)
}

// DebugMetrics 只读调试指标
// GET /v1/debug/metrics
func (h *WorldHandler) DebugMetrics(c *gin.Context) {
	m, err := h.admin.GetDebugMetrics(c.Request.Context())
	if err != nil {
		dto.Error(c, err)
		return
	}
	dto.Success(c, m)
}
