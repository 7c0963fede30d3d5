package handler

import (
	"github.com/gin-gonic/gin"

	"living-world-engine/internal/application/timeline"
	"living-world-engine/internal/domain/entity"
	"living-world-engine/internal/domain/repository"
	"living-world-engine/internal/interfaces/http/dto"
)

// TimelineHandler 时间轴处理器
type TimelineHandler struct {
	engine    *timeline.Engine
	timelines repository.TimelineRepository
}

// NewTimelineHandler 创建时间轴处理器
func NewTimelineHandler(engine *timeline.Engine, timelines repository.TimelineRepository) *TimelineHandler {
	return &TimelineHandler{engine: engine, timelines: timelines}
}

// Get 读取时间轴元信息
// GET /v1/timelines/:timeline_id
func (h *TimelineHandler) Get(c *gin.Context) {
	tl, err := h.timelines.GetByID(c.Request.Context(), c.Param("timeline_id"))
	if err != nil {
		dto.Error(c, err)
		return
	}
	dto.Success(c, tl)
}

// AppendEvent 追加事件
// POST /v1/timelines/:timeline_id/events
func (h *TimelineHandler) AppendEvent(c *gin.Context) {
	var req dto.AppendEventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		dto.BadRequest(c, err.Error())
		return
	}

	event := &entity.TimelineEvent{
		EventType:       entity.EventType(req.EventType),
		Description:     req.Description,
		WorldTime:       req.WorldTime,
		LocationID:      req.LocationID,
		Significance:    req.Significance,
		EmotionalImpact: req.Impact,
		Payload:         req.Payload,
		Participants:    req.Participants,
	}

	if err := h.engine.AppendEvent(c.Request.Context(), c.Param("timeline_id"), event); err != nil {
		dto.Error(c, err)
		return
	}
	dto.Created(c, event)
}

// QueryEvents 游标遍历时间轴事件；带时间区间参数时走区间查询
// GET /v1/timelines/:timeline_id/events
func (h *TimelineHandler) QueryEvents(c *gin.Context) {
	var params dto.EventQueryParams
	if err := c.ShouldBindQuery(&params); err != nil {
		dto.BadRequest(c, err.Error())
		return
	}

	cursor := repository.NewEventCursor(params.Limit)
	// 缺省 (-1,-1) 表示从头遍历，保留游标的哨兵起点
	if params.AfterTime != -1 || params.AfterSeq != -1 {
		cursor.After = entity.OrderKey{WorldTime: params.AfterTime, Seq: params.AfterSeq}
	}

	var (
		events []*entity.TimelineEvent
		next   repository.EventCursor
		err    error
	)
	if params.StartTime >= 0 && params.EndTime >= 0 {
		events, next, err = h.engine.QueryEventsByTimeRange(c.Request.Context(),
			c.Param("timeline_id"), params.StartTime, params.EndTime, cursor)
	} else {
		events, next, err = h.engine.QueryEvents(c.Request.Context(), c.Param("timeline_id"), cursor)
	}
	if err != nil {
		dto.Error(c, err)
		return
	}

	dto.Success(c, gin.H{
		"events": events,
		"next_cursor": gin.H{
			"after_time": next.After.WorldTime,
			"after_seq":  next.After.Seq,
		},
		"has_more": len(events) == cursor.Limit,
	})
}
