package handler

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"living-world-engine/internal/application/subsystem"
	"living-world-engine/internal/application/timeline"
	"living-world-engine/internal/domain/entity"
	"living-world-engine/internal/domain/repository"
	"living-world-engine/internal/interfaces/http/dto"
)

// EntityHandler 世界实体处理器
type EntityHandler struct {
	entities  repository.EntityRepository
	engine    *timeline.Engine
	genealogy *subsystem.GenealogyService
}

// NewEntityHandler 创建实体处理器
func NewEntityHandler(entities repository.EntityRepository, engine *timeline.Engine, genealogy *subsystem.GenealogyService) *EntityHandler {
	return &EntityHandler{entities: entities, engine: engine, genealogy: genealogy}
}

// Create 创建实体及其时间轴，并生成初始历史
// POST /v1/worlds/:world_id/entities
func (h *EntityHandler) Create(c *gin.Context) {
	var req dto.CreateEntityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		dto.BadRequest(c, err.Error())
		return
	}

	worldID := c.Param("world_id")
	ctx := c.Request.Context()

	var ent *entity.WorldEntity
	switch entity.EntityKind(req.Kind) {
	case entity.EntityKindCharacter:
		ent = entity.NewCharacter(worldID, req.Name)
	case entity.EntityKindLocation:
		ent = entity.NewLocation(worldID, req.Name)
	case entity.EntityKindObject:
		ent = entity.NewObject(worldID, req.Name)
	}
	ent.ID = uuid.NewString()

	tl, err := h.engine.CreateTimeline(ctx, worldID, ent.ID, ent.Kind)
	if err != nil {
		dto.Error(c, err)
		return
	}
	ent.TimelineID = tl.ID

	if err := h.entities.Create(ctx, ent); err != nil {
		dto.Error(c, err)
		return
	}

	seed := req.HistorySeed
	if seed == 0 {
		seed = timeline.EvolutionSeed(ent.ID, 0)
	}
	if _, err := h.engine.GenerateHistory(ctx, ent.ID, req.HistoryDepth, seed); err != nil {
		dto.Error(c, err)
		return
	}

	created, err := h.entities.GetByID(ctx, ent.ID)
	if err != nil {
		dto.Error(c, err)
		return
	}
	dto.Created(c, created)
}

// Get 读取单个实体
// GET /v1/entities/:entity_id
func (h *EntityHandler) Get(c *gin.Context) {
	ent, err := h.entities.GetByID(c.Request.Context(), c.Param("entity_id"))
	if err != nil {
		dto.Error(c, err)
		return
	}
	dto.Success(c, ent)
}

// List 分页列出世界实体
// GET /v1/worlds/:world_id/entities
func (h *EntityHandler) List(c *gin.Context) {
	var params dto.EntityListParams
	if err := c.ShouldBindQuery(&params); err != nil {
		dto.BadRequest(c, err.Error())
		return
	}

	var filter *repository.EntityFilter
	if params.Kind != "" || params.Name != "" {
		filter = &repository.EntityFilter{
			Kind: entity.EntityKind(params.Kind),
			Name: params.Name,
		}
	}

	page, err := h.entities.ListByWorld(c.Request.Context(), c.Param("world_id"),
		filter, repository.NewPagination(params.Page, params.PageSize))
	if err != nil {
		dto.Error(c, err)
		return
	}
	dto.SuccessWithPage(c, page.Items, &dto.PageMeta{
		Page:       page.Page,
		PageSize:   page.PageSize,
		Total:      page.Total,
		TotalPages: page.TotalPages,
	})
}

// GenerateFamilyTree 为角色生成祖先代际
// POST /v1/worlds/:world_id/entities/:entity_id/family-tree
func (h *EntityHandler) GenerateFamilyTree(c *gin.Context) {
	var req dto.FamilyTreeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		dto.BadRequest(c, err.Error())
		return
	}

	ancestors, err := h.genealogy.GenerateFamilyTree(c.Request.Context(),
		c.Param("world_id"), c.Param("entity_id"), req.Generations)
	if err != nil {
		dto.Error(c, err)
		return
	}
	dto.Created(c, ancestors)
}

// AddFamilyTie 建立亲子边；闭合祖先环的请求被拒绝
// POST /v1/worlds/:world_id/family-ties
func (h *EntityHandler) AddFamilyTie(c *gin.Context) {
	var req dto.FamilyTieRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		dto.BadRequest(c, err.Error())
		return
	}

	if err := h.genealogy.AddFamilyTie(c.Request.Context(),
		c.Param("world_id"), req.ParentID, req.ChildID); err != nil {
		dto.Error(c, err)
		return
	}
	dto.NoContent(c)
}
