// Package apptest 提供应用层测试用的内存存储。
// 实现全部仓储接口与 Transactor；事务以整库快照模拟，
// 回调出错时恢复快照，与 SQL 事务的整体提交/整体回滚语义对齐。
package apptest

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"living-world-engine/internal/domain/entity"
	"living-world-engine/internal/domain/repository"
	apperrors "living-world-engine/pkg/errors"
)

// Store 内存存储
type Store struct {
	mu        sync.Mutex
	worlds    map[string]*entity.World
	entities  map[string]*entity.WorldEntity
	timelines map[string]*entity.Timeline
	events    map[string]*entity.TimelineEvent
	relations map[string]*entity.Relation
	prefs     map[string]*entity.PlayerPreference
}

// NewStore 创建空存储
func NewStore() *Store {
	return &Store{
		worlds:    make(map[string]*entity.World),
		entities:  make(map[string]*entity.WorldEntity),
		timelines: make(map[string]*entity.Timeline),
		events:    make(map[string]*entity.TimelineEvent),
		relations: make(map[string]*entity.Relation),
		prefs:     make(map[string]*entity.PlayerPreference),
	}
}

// clone JSON 往返深拷贝，存取两侧都不共享指针
func clone[T any](v T) T {
	var out T
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	if err := json.Unmarshal(b, &out); err != nil {
		panic(err)
	}
	return out
}

type snapshot struct {
	worlds    map[string]*entity.World
	entities  map[string]*entity.WorldEntity
	timelines map[string]*entity.Timeline
	events    map[string]*entity.TimelineEvent
	relations map[string]*entity.Relation
	prefs     map[string]*entity.PlayerPreference
}

func (s *Store) snapshot() snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return snapshot{
		worlds:    clone(s.worlds),
		entities:  clone(s.entities),
		timelines: clone(s.timelines),
		events:    clone(s.events),
		relations: clone(s.relations),
		prefs:     clone(s.prefs),
	}
}

func (s *Store) restore(snap snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.worlds = snap.worlds
	s.entities = snap.entities
	s.timelines = snap.timelines
	s.events = snap.events
	s.relations = snap.relations
	s.prefs = snap.prefs
}

type txMarker struct{}

// WithTransaction 快照事务。已在事务中时复用，与生产实现的嵌套语义一致。
func (s *Store) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if ctx.Value(txMarker{}) != nil {
		return fn(ctx)
	}
	snap := s.snapshot()
	err := fn(context.WithValue(ctx, txMarker{}, struct{}{}))
	if err != nil {
		s.restore(snap)
	}
	return err
}

// Worlds 世界仓储
func (s *Store) Worlds() repository.WorldRepository { return worldRepo{s} }

// Entities 实体仓储
func (s *Store) Entities() repository.EntityRepository { return entityRepo{s} }

// Timelines 时间轴仓储
func (s *Store) Timelines() repository.TimelineRepository { return timelineRepo{s} }

// Events 事件仓储
func (s *Store) Events() repository.EventRepository { return eventRepo{s} }

// Relations 关系仓储
func (s *Store) Relations() repository.RelationRepository { return relationRepo{s} }

// Prefs 偏好仓储
func (s *Store) Prefs() repository.PreferenceRepository { return prefRepo{s} }

// EventCount 世界事件总数，断言用
func (s *Store) EventCount(worldID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, ev := range s.events {
		if ev.WorldID == worldID {
			n++
		}
	}
	return n
}

type worldRepo struct{ s *Store }

func (r worldRepo) Create(_ context.Context, world *entity.World) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if world.ID == "" {
		world.ID = uuid.NewString()
	}
	r.s.worlds[world.ID] = clone(world)
	return nil
}

func (r worldRepo) GetByID(_ context.Context, id string) (*entity.World, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	w, ok := r.s.worlds[id]
	if !ok {
		return nil, apperrors.ErrWorldNotFound.WithDetail(id)
	}
	return clone(w), nil
}

func (r worldRepo) Update(_ context.Context, world *entity.World) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	stored, ok := r.s.worlds[world.ID]
	if !ok {
		return apperrors.ErrWorldNotFound.WithDetail(world.ID)
	}
	next := clone(world)
	next.Version = stored.Version + 1
	next.UpdatedAt = time.Now()
	r.s.worlds[world.ID] = next
	world.Version = next.Version
	return nil
}

func (r worldRepo) UpdateStatus(_ context.Context, id string, from, to entity.WorldStatus) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	w, ok := r.s.worlds[id]
	if !ok {
		return apperrors.ErrWorldNotFound.WithDetail(id)
	}
	if w.Status != from || !from.CanTransitionTo(to) {
		return apperrors.ErrInvalidTransition.WithDetail(
			string(w.Status) + " -> " + string(to))
	}
	w.Status = to
	w.Version++
	w.UpdatedAt = time.Now()
	return nil
}

func (r worldRepo) SetFlags(_ context.Context, id string, flags entity.AttributeMap) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	w, ok := r.s.worlds[id]
	if !ok {
		return apperrors.ErrWorldNotFound.WithDetail(id)
	}
	w.Flags = clone(flags)
	w.Version++
	w.UpdatedAt = time.Now()
	return nil
}

func (r worldRepo) List(_ context.Context, pagination repository.Pagination) (*repository.PagedResult[*entity.World], error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var all []*entity.World
	for _, w := range r.s.worlds {
		all = append(all, clone(w))
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ID < all[j].ID })
	return page(all, pagination), nil
}

func (r worldRepo) ListDueForEvolution(_ context.Context, now time.Time, limit int) ([]*entity.World, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var due []*entity.World
	for _, w := range r.s.worlds {
		if w.EvolutionDue(now) {
			due = append(due, clone(w))
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].ID < due[j].ID })
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

func (r worldRepo) SetLastValidated(_ context.Context, id string, worldTime int64) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	w, ok := r.s.worlds[id]
	if !ok {
		return apperrors.ErrWorldNotFound.WithDetail(id)
	}
	w.LastValidatedTime = worldTime
	return nil
}

type entityRepo struct{ s *Store }

func (r entityRepo) Create(_ context.Context, e *entity.WorldEntity) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	r.s.entities[e.ID] = clone(e)
	return nil
}

func (r entityRepo) GetByID(_ context.Context, id string) (*entity.WorldEntity, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	e, ok := r.s.entities[id]
	if !ok {
		return nil, apperrors.ErrEntityNotFound.WithDetail(id)
	}
	return clone(e), nil
}

func (r entityRepo) UpdateDerived(_ context.Context, e *entity.WorldEntity) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	stored, ok := r.s.entities[e.ID]
	if !ok {
		return apperrors.ErrEntityNotFound.WithDetail(e.ID)
	}
	next := clone(e)
	next.CreatedAt = stored.CreatedAt
	next.UpdatedAt = time.Now()
	r.s.entities[e.ID] = next
	return nil
}

func (r entityRepo) ListByWorld(_ context.Context, worldID string, filter *repository.EntityFilter, pagination repository.Pagination) (*repository.PagedResult[*entity.WorldEntity], error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var all []*entity.WorldEntity
	for _, e := range r.s.entities {
		if e.WorldID != worldID {
			continue
		}
		if filter != nil {
			if filter.Kind != "" && e.Kind != filter.Kind {
				continue
			}
			if filter.Name != "" && !strings.Contains(strings.ToLower(e.Name), strings.ToLower(filter.Name)) {
				continue
			}
		}
		all = append(all, clone(e))
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ID < all[j].ID })
	return page(all, pagination), nil
}

func (r entityRepo) ListAllByWorld(_ context.Context, worldID string) ([]*entity.WorldEntity, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var all []*entity.WorldEntity
	for _, e := range r.s.entities {
		if e.WorldID == worldID {
			all = append(all, clone(e))
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ID < all[j].ID })
	return all, nil
}

func (r entityRepo) CountByKind(_ context.Context, worldID string) (map[string]int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	counts := make(map[string]int64)
	for _, e := range r.s.entities {
		if e.WorldID == worldID {
			counts[string(e.Kind)]++
		}
	}
	return counts, nil
}

func (r entityRepo) ExistingIDs(_ context.Context, worldID string, ids []string) (map[string]bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	existing := make(map[string]bool)
	for _, id := range ids {
		if e, ok := r.s.entities[id]; ok && e.WorldID == worldID {
			existing[id] = true
		}
	}
	return existing, nil
}

func (r entityRepo) DeleteByWorld(_ context.Context, worldID string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for id, e := range r.s.entities {
		if e.WorldID == worldID {
			delete(r.s.entities, id)
		}
	}
	return nil
}

type timelineRepo struct{ s *Store }

func (r timelineRepo) Create(_ context.Context, timeline *entity.Timeline) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, tl := range r.s.timelines {
		if tl.EntityID == timeline.EntityID {
			return apperrors.ErrDuplicateTimeline.WithDetail("entity " + timeline.EntityID)
		}
	}
	if timeline.ID == "" {
		timeline.ID = uuid.NewString()
	}
	r.s.timelines[timeline.ID] = clone(timeline)
	return nil
}

func (r timelineRepo) GetByID(_ context.Context, id string) (*entity.Timeline, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	tl, ok := r.s.timelines[id]
	if !ok {
		return nil, apperrors.ErrTimelineNotFound.WithDetail(id)
	}
	return clone(tl), nil
}

func (r timelineRepo) GetByEntity(_ context.Context, entityID string) (*entity.Timeline, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, tl := range r.s.timelines {
		if tl.EntityID == entityID {
			return clone(tl), nil
		}
	}
	return nil, apperrors.ErrTimelineNotFound.WithDetail("entity " + entityID)
}

func (r timelineRepo) ListByWorld(_ context.Context, worldID string) ([]*entity.Timeline, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var all []*entity.Timeline
	for _, tl := range r.s.timelines {
		if tl.WorldID == worldID {
			all = append(all, clone(tl))
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ID < all[j].ID })
	return all, nil
}

func (r timelineRepo) AdvanceCursor(_ context.Context, id string, key entity.OrderKey, appended int64) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	tl, ok := r.s.timelines[id]
	if !ok {
		return apperrors.ErrTimelineNotFound.WithDetail(id)
	}
	if !tl.LastKey.Less(key) {
		return apperrors.ErrOutOfOrderEvent.WithDetail("cursor must advance monotonically")
	}
	tl.LastKey = key
	tl.EventCount += appended
	tl.UpdatedAt = time.Now()
	return nil
}

func (r timelineRepo) DeleteByWorld(_ context.Context, worldID string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for id, tl := range r.s.timelines {
		if tl.WorldID == worldID {
			delete(r.s.timelines, id)
		}
	}
	return nil
}

type eventRepo struct{ s *Store }

func (r eventRepo) Append(_ context.Context, event *entity.TimelineEvent) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	r.s.events[event.ID] = clone(event)
	return nil
}

func (r eventRepo) AppendBatch(ctx context.Context, events []*entity.TimelineEvent) error {
	for _, ev := range events {
		if err := r.Append(ctx, ev); err != nil {
			return err
		}
	}
	return nil
}

func (r eventRepo) GetByID(_ context.Context, id string) (*entity.TimelineEvent, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	ev, ok := r.s.events[id]
	if !ok {
		return nil, apperrors.ErrNotFound.WithDetail("event " + id)
	}
	return clone(ev), nil
}

func (r eventRepo) ListByTimeline(_ context.Context, timelineID string, cursor repository.EventCursor) ([]*entity.TimelineEvent, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*entity.TimelineEvent
	for _, ev := range r.s.events {
		if ev.TimelineID == timelineID && cursor.After.Less(ev.Key()) {
			out = append(out, clone(ev))
		}
	}
	sortByKey(out)
	return truncate(out, cursor.Limit), nil
}

func (r eventRepo) ListByTimeRange(_ context.Context, timelineID string, startTime, endTime int64, cursor repository.EventCursor) ([]*entity.TimelineEvent, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*entity.TimelineEvent
	for _, ev := range r.s.events {
		if ev.TimelineID != timelineID || ev.WorldTime < startTime || ev.WorldTime > endTime {
			continue
		}
		if cursor.After.Less(ev.Key()) {
			out = append(out, clone(ev))
		}
	}
	sortByKey(out)
	return truncate(out, cursor.Limit), nil
}

// afterWorldPos 判断事件是否位于世界级游标位置 (world_time, entity_id, seq) 之后
func afterWorldPos(cursor repository.EventCursor, ev *entity.TimelineEvent) bool {
	if ev.WorldTime != cursor.After.WorldTime {
		return ev.WorldTime > cursor.After.WorldTime
	}
	if ev.EntityID != cursor.AfterEntity {
		return ev.EntityID > cursor.AfterEntity
	}
	return ev.Seq > cursor.After.Seq
}

func (r eventRepo) ListByWorld(_ context.Context, worldID string, cursor repository.EventCursor) ([]*entity.TimelineEvent, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*entity.TimelineEvent
	for _, ev := range r.s.events {
		if ev.WorldID == worldID && afterWorldPos(cursor, ev) {
			out = append(out, clone(ev))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].WorldTime != out[j].WorldTime {
			return out[i].WorldTime < out[j].WorldTime
		}
		if out[i].EntityID != out[j].EntityID {
			return out[i].EntityID < out[j].EntityID
		}
		return out[i].Seq < out[j].Seq
	})
	return truncate(out, cursor.Limit), nil
}

func (r eventRepo) CountByTimeline(_ context.Context, timelineID string) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var n int64
	for _, ev := range r.s.events {
		if ev.TimelineID == timelineID {
			n++
		}
	}
	return n, nil
}

func (r eventRepo) CountByWorld(_ context.Context, worldID string) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var n int64
	for _, ev := range r.s.events {
		if ev.WorldID == worldID {
			n++
		}
	}
	return n, nil
}

func (r eventRepo) CountByTypeForWorld(_ context.Context, worldID string) (map[string]int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	counts := make(map[string]int64)
	for _, ev := range r.s.events {
		if ev.WorldID == worldID {
			counts[string(ev.EventType)]++
		}
	}
	return counts, nil
}

func (r eventRepo) DeleteByWorld(_ context.Context, worldID string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for id, ev := range r.s.events {
		if ev.WorldID == worldID {
			delete(r.s.events, id)
		}
	}
	return nil
}

type relationRepo struct{ s *Store }

func (r relationRepo) Create(_ context.Context, relation *entity.Relation) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if relation.ID == "" {
		relation.ID = uuid.NewString()
	}
	r.s.relations[relation.ID] = clone(relation)
	return nil
}

func (r relationRepo) GetByID(_ context.Context, id string) (*entity.Relation, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	rel, ok := r.s.relations[id]
	if !ok {
		return nil, apperrors.ErrNotFound.WithDetail("relation " + id)
	}
	return clone(rel), nil
}

func (r relationRepo) GetBetween(_ context.Context, worldID, sourceID, targetID string, relType entity.RelationType) (*entity.Relation, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, rel := range r.s.relations {
		if rel.WorldID != worldID || rel.RelationType != relType {
			continue
		}
		if rel.SourceEntityID == sourceID && rel.TargetEntityID == targetID {
			return clone(rel), nil
		}
		if !relType.Directed() && rel.SourceEntityID == targetID && rel.TargetEntityID == sourceID {
			return clone(rel), nil
		}
	}
	return nil, apperrors.ErrNotFound.WithDetail("relation between " + sourceID + " and " + targetID)
}

func (r relationRepo) UpdateStrength(_ context.Context, id string, strength float64) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	rel, ok := r.s.relations[id]
	if !ok {
		return apperrors.ErrNotFound.WithDetail("relation " + id)
	}
	rel.Strength = strength
	rel.UpdatedAt = time.Now()
	return nil
}

func (r relationRepo) ListByEntity(_ context.Context, entityID string) ([]*entity.Relation, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*entity.Relation
	for _, rel := range r.s.relations {
		if rel.SourceEntityID == entityID || rel.TargetEntityID == entityID {
			out = append(out, clone(rel))
		}
	}
	sortRelations(out)
	return out, nil
}

func (r relationRepo) ListByWorld(_ context.Context, worldID string, filter *repository.RelationFilter) ([]*entity.Relation, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*entity.Relation
	for _, rel := range r.s.relations {
		if rel.WorldID != worldID {
			continue
		}
		if filter != nil {
			if filter.RelationType != "" && rel.RelationType != filter.RelationType {
				continue
			}
			if rel.Strength < filter.MinStrength {
				continue
			}
		}
		out = append(out, clone(rel))
	}
	sortRelations(out)
	return out, nil
}

func (r relationRepo) ListByType(ctx context.Context, worldID string, relType entity.RelationType) ([]*entity.Relation, error) {
	return r.ListByWorld(ctx, worldID, &repository.RelationFilter{RelationType: relType})
}

func (r relationRepo) DeleteByEntity(_ context.Context, entityID string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for id, rel := range r.s.relations {
		if rel.SourceEntityID == entityID || rel.TargetEntityID == entityID {
			delete(r.s.relations, id)
		}
	}
	return nil
}

func (r relationRepo) DeleteByWorld(_ context.Context, worldID string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for id, rel := range r.s.relations {
		if rel.WorldID == worldID {
			delete(r.s.relations, id)
		}
	}
	return nil
}

type prefRepo struct{ s *Store }

func prefKey(playerID, worldID string) string { return playerID + "|" + worldID }

func (r prefRepo) Get(_ context.Context, playerID, worldID string) (*entity.PlayerPreference, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	pref, ok := r.s.prefs[prefKey(playerID, worldID)]
	if !ok {
		return nil, nil
	}
	return clone(pref), nil
}

func (r prefRepo) Upsert(_ context.Context, pref *entity.PlayerPreference) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.prefs[prefKey(pref.PlayerID, pref.WorldID)] = clone(pref)
	return nil
}

func (r prefRepo) ListByWorld(_ context.Context, worldID string) ([]*entity.PlayerPreference, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*entity.PlayerPreference
	for _, pref := range r.s.prefs {
		if pref.WorldID == worldID {
			out = append(out, clone(pref))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PlayerID < out[j].PlayerID })
	return out, nil
}

func sortByKey(events []*entity.TimelineEvent) {
	sort.Slice(events, func(i, j int) bool { return events[i].Key().Less(events[j].Key()) })
}

func sortRelations(relations []*entity.Relation) {
	sort.Slice(relations, func(i, j int) bool { return relations[i].ID < relations[j].ID })
}

func truncate(events []*entity.TimelineEvent, limit int) []*entity.TimelineEvent {
	if limit > 0 && len(events) > limit {
		return events[:limit]
	}
	return events
}

func page[T any](all []T, pagination repository.Pagination) *repository.PagedResult[T] {
	total := int64(len(all))
	start := pagination.Offset()
	if start > len(all) {
		start = len(all)
	}
	end := start + pagination.Limit()
	if end > len(all) {
		end = len(all)
	}
	return repository.NewPagedResult(all[start:end], total, pagination)
}
