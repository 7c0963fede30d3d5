// Package subsystem 实现按实体种类划分的派生状态子系统
package subsystem

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"

	"living-world-engine/internal/domain/entity"
	"living-world-engine/internal/domain/repository"
	apperrors "living-world-engine/pkg/errors"
	"living-world-engine/pkg/logger"
)

var genealogyTracer = otel.Tracer("subsystem.genealogy")

// 家谱生成的防御上限
const (
	maxGenerations   = 8
	maxAncestryDepth = 64
)

// TimelineAppender 家谱生成需要的最小时间轴能力
type TimelineAppender interface {
	CreateTimeline(ctx context.Context, worldID, entityID string, kind entity.EntityKind) (*entity.Timeline, error)
	AppendEvent(ctx context.Context, timelineID string, event *entity.TimelineEvent) error
}

// GenealogyService 家谱服务。
// 家族图允许一般环（联姻闭环），但祖先链必须无环：任何角色不得
// 出现在自己的祖先集合里。无环性靠写入时的向上遍历检查保证，
// 不靠数据结构本身。
type GenealogyService struct {
	entities  repository.EntityRepository
	relations repository.RelationRepository
	timelines TimelineAppender
	tx        repository.Transactor
}

// NewGenealogyService 创建家谱服务
func NewGenealogyService(
	entities repository.EntityRepository,
	relations repository.RelationRepository,
	timelines TimelineAppender,
	tx repository.Transactor,
) *GenealogyService {
	return &GenealogyService{
		entities:  entities,
		relations: relations,
		timelines: timelines,
		tx:        tx,
	}
}

// AddFamilyTie 建立 parent→child 的亲子边。
// 若 child 已在 parent 的祖先集合中，建边会闭合祖先环，
// 以 GenealogyCycle 拒绝。
func (s *GenealogyService) AddFamilyTie(ctx context.Context, worldID, parentID, childID string) error {
	ctx, span := genealogyTracer.Start(ctx, "genealogy.AddFamilyTie")
	defer span.End()

	if parentID == childID {
		return apperrors.ErrGenealogyCycle.WithDetail("character cannot be its own parent")
	}

	ancestors, err := s.AncestorSet(ctx, worldID, parentID)
	if err != nil {
		return err
	}
	if ancestors[childID] {
		return apperrors.ErrGenealogyCycle.WithDetail(
			fmt.Sprintf("%s is already an ancestor of %s", childID, parentID))
	}

	return s.tx.WithTransaction(ctx, func(ctx context.Context) error {
		rel := entity.NewRelation(worldID, parentID, childID, entity.RelationTypeParentOf)
		rel.Strength = 1
		if err := s.relations.Create(ctx, rel); err != nil {
			return err
		}

		family := entity.NewRelation(worldID, parentID, childID, entity.RelationTypeFamily)
		family.Strength = 0.9
		return s.relations.Create(ctx, family)
	})
}

// AncestorSet 收集角色的全部祖先 ID
func (s *GenealogyService) AncestorSet(ctx context.Context, worldID, characterID string) (map[string]bool, error) {
	edges, err := s.relations.ListByType(ctx, worldID, entity.RelationTypeParentOf)
	if err != nil {
		return nil, err
	}

	// parent_of: source 是 target 的父/母
	parentsOf := make(map[string][]string)
	for _, edge := range edges {
		parentsOf[edge.TargetEntityID] = append(parentsOf[edge.TargetEntityID], edge.SourceEntityID)
	}

	ancestors := make(map[string]bool)
	frontier := []string{characterID}
	for depth := 0; depth < maxAncestryDepth && len(frontier) > 0; depth++ {
		var next []string
		for _, id := range frontier {
			for _, parent := range parentsOf[id] {
				if ancestors[parent] {
					continue
				}
				ancestors[parent] = true
				next = append(next, parent)
			}
		}
		frontier = next
	}
	return ancestors, nil
}

// GenerateFamilyTree 为角色生成指定代数的祖先。
// 每代为上一代的每个成员生成两位父母，连同出生事件、亲子边一并提交；
// 已有完整祖先的代不会重复生成（幂等）。
func (s *GenealogyService) GenerateFamilyTree(ctx context.Context, worldID, characterID string, generations int) ([]*entity.WorldEntity, error) {
	ctx, span := genealogyTracer.Start(ctx, "genealogy.GenerateFamilyTree")
	defer span.End()

	if generations < 1 {
		return nil, apperrors.ErrInvalidParam.WithDetail("generations must be positive")
	}
	if generations > maxGenerations {
		generations = maxGenerations
	}

	root, err := s.entities.GetByID(ctx, characterID)
	if err != nil {
		return nil, err
	}
	if root.Kind != entity.EntityKindCharacter {
		return nil, apperrors.ErrInvalidParam.WithDetail("family trees apply to characters only")
	}

	edges, err := s.relations.ListByType(ctx, worldID, entity.RelationTypeParentOf)
	if err != nil {
		return nil, err
	}
	parentsOf := make(map[string][]string)
	for _, edge := range edges {
		parentsOf[edge.TargetEntityID] = append(parentsOf[edge.TargetEntityID], edge.SourceEntityID)
	}

	var created []*entity.WorldEntity

	err = s.tx.WithTransaction(ctx, func(ctx context.Context) error {
		currentGen := []*entity.WorldEntity{root}

		for gen := 1; gen <= generations; gen++ {
			var nextGen []*entity.WorldEntity

			for _, child := range currentGen {
				existing := parentsOf[child.ID]
				if len(existing) >= 2 {
					// 该成员父母齐全，只向上收集
					for _, pid := range existing {
						parent, err := s.entities.GetByID(ctx, pid)
						if err != nil {
							return err
						}
						nextGen = append(nextGen, parent)
					}
					continue
				}

				for i := len(existing); i < 2; i++ {
					parent, err := s.createAncestor(ctx, worldID, child, gen, i)
					if err != nil {
						return err
					}
					parentsOf[child.ID] = append(parentsOf[child.ID], parent.ID)
					created = append(created, parent)
					nextGen = append(nextGen, parent)
				}
			}

			currentGen = nextGen
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	logger.Info(ctx, "family tree generated",
		"character_id", characterID,
		"generations", generations,
		"ancestors_created", len(created),
	)
	return created, nil
}

// createAncestor 创建单个祖先：实体、时间轴、出生与亲子事件、关系边
func (s *GenealogyService) createAncestor(ctx context.Context, worldID string, child *entity.WorldEntity, gen, idx int) (*entity.WorldEntity, error) {
	parent := entity.NewCharacter(worldID, fmt.Sprintf("%s forebear g%d-%d", child.Name, gen, idx+1))
	parent.ID = uuid.NewString()
	parent.Character.Generation = childGeneration(child) + 1

	tl, err := s.timelines.CreateTimeline(ctx, worldID, parent.ID, entity.EntityKindCharacter)
	if err != nil {
		return nil, err
	}
	parent.TimelineID = tl.ID

	if err := s.entities.Create(ctx, parent); err != nil {
		return nil, err
	}

	// 祖先出生在更早的逻辑时间；代数越深时间越早
	bornAt := int64(-int64(gen) * 100)

	born := entity.NewTimelineEvent(worldID, parent.ID, entity.EventTypeCharacterBorn, bornAt, "")
	born.Payload = entity.AttributeMap{"generation": float64(parent.Character.Generation)}
	born.Significance = 7
	if err := s.timelines.AppendEvent(ctx, tl.ID, born); err != nil {
		return nil, err
	}

	tie := entity.NewTimelineEvent(worldID, parent.ID, entity.EventTypeFamilyTie, bornAt+1, "")
	tie.AddParticipant(child.ID)
	tie.Significance = 5
	if err := s.timelines.AppendEvent(ctx, tl.ID, tie); err != nil {
		return nil, err
	}

	rel := entity.NewRelation(worldID, parent.ID, child.ID, entity.RelationTypeParentOf)
	rel.Strength = 1
	if err := s.relations.Create(ctx, rel); err != nil {
		return nil, err
	}

	family := entity.NewRelation(worldID, parent.ID, child.ID, entity.RelationTypeFamily)
	family.Strength = 0.9
	if err := s.relations.Create(ctx, family); err != nil {
		return nil, err
	}

	return parent, nil
}

// childGeneration 读取角色代际，载荷缺失按 0
func childGeneration(e *entity.WorldEntity) int {
	if e.Character == nil {
		return 0
	}
	return e.Character.Generation
}
