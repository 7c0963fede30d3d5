package worldstate

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"living-world-engine/internal/application/apptest"
	"living-world-engine/internal/application/subsystem"
	"living-world-engine/internal/application/timeline"
	"living-world-engine/internal/config"
	"living-world-engine/internal/domain/entity"
	"living-world-engine/internal/domain/repository"
	apperrors "living-world-engine/pkg/errors"
)

func newManagerFixture(t *testing.T) (*Manager, *apptest.Store) {
	t.Helper()
	store := apptest.NewStore()
	subsystems := subsystem.NewRegistry()
	engine := timeline.NewEngine(store.Timelines(), store.Events(), store.Entities(), store,
		subsystems, nil, config.HistoryConfig{DefaultDepth: 5, MaxDepth: 50})
	mgr := NewManager(store.Worlds(), store.Entities(), store.Timelines(), store.Events(),
		store.Relations(), store, engine, subsystems, NewRegistry(), nil,
		config.EvolutionConfig{DefaultInterval: time.Hour, MaxBatchEvents: 50}, 0)
	return mgr, store
}

func seedActiveWorld(t *testing.T, store *apptest.Store, status entity.WorldStatus) *entity.World {
	t.Helper()
	world := entity.NewWorld("realm", time.Hour)
	world.ID = "w1"
	world.Status = status
	if err := store.Worlds().Create(context.Background(), world); err != nil {
		t.Fatalf("seed world: %v", err)
	}
	return world
}

func seedWorldEntity(t *testing.T, store *apptest.Store, kind entity.EntityKind, id, name string) *entity.WorldEntity {
	t.Helper()
	ctx := context.Background()

	var ent *entity.WorldEntity
	switch kind {
	case entity.EntityKindCharacter:
		ent = entity.NewCharacter("w1", name)
	case entity.EntityKindLocation:
		ent = entity.NewLocation("w1", name)
	default:
		ent = entity.NewObject("w1", name)
	}
	ent.ID = id

	tl := entity.NewTimeline("w1", id, kind)
	if err := store.Timelines().Create(ctx, tl); err != nil {
		t.Fatalf("seed timeline: %v", err)
	}
	ent.TimelineID = tl.ID
	if err := store.Entities().Create(ctx, ent); err != nil {
		t.Fatalf("seed entity: %v", err)
	}
	return ent
}

func TestInitializeWorldActivates(t *testing.T) {
	mgr, store := newManagerFixture(t)
	ctx := context.Background()

	world, err := mgr.InitializeWorld(ctx, "realm", 0)
	if err != nil {
		t.Fatalf("InitializeWorld: %v", err)
	}
	if world.Status != entity.WorldStatusActive {
		t.Errorf("status = %s, want active", world.Status)
	}
	if world.EvolutionInterval != time.Hour {
		t.Errorf("interval = %v, want default 1h", world.EvolutionInterval)
	}

	stored, err := store.Worlds().GetByID(ctx, world.ID)
	if err != nil {
		t.Fatal(err)
	}
	if stored.Status != entity.WorldStatusActive {
		t.Errorf("stored status = %s, want active", stored.Status)
	}
	if mgr.Registry().Size() != 1 {
		t.Errorf("registry size = %d, want 1", mgr.Registry().Size())
	}
}

func TestInitializeWorldRejectsEmptyName(t *testing.T) {
	mgr, _ := newManagerFixture(t)
	_, err := mgr.InitializeWorld(context.Background(), "", 0)
	if !apperrors.Is(err, apperrors.CodeInvalidParam) {
		t.Fatalf("err = %v, want invalid param", err)
	}
}

func TestEvolveWorldAdvancesClock(t *testing.T) {
	mgr, store := newManagerFixture(t)
	seedActiveWorld(t, store, entity.WorldStatusActive)
	seedWorldEntity(t, store, entity.EntityKindCharacter, "c1", "Aris")
	seedWorldEntity(t, store, entity.EntityKindObject, "o1", "Sword")
	ctx := context.Background()

	result, err := mgr.EvolveWorld(ctx, "w1", "manual")
	if err != nil {
		t.Fatalf("EvolveWorld: %v", err)
	}
	if result.Paused {
		t.Fatal("active world reported paused")
	}
	if result.NewTime != 1 {
		t.Errorf("new time = %d, want 1", result.NewTime)
	}

	world, _ := store.Worlds().GetByID(ctx, "w1")
	if world.CurrentTime != 1 {
		t.Errorf("world clock = %d, want 1", world.CurrentTime)
	}
	if world.Version == 0 {
		t.Error("world version not bumped by evolution commit")
	}
	if n := store.EventCount("w1"); n != result.EventsGenerated {
		t.Errorf("stored events = %d, result says %d", n, result.EventsGenerated)
	}
}

// evolutionShape 在独立的存储上运行一个演化批次并返回事件序列指纹
func evolutionShape(t *testing.T) string {
	t.Helper()
	mgr, store := newManagerFixture(t)
	seedActiveWorld(t, store, entity.WorldStatusActive)
	seedWorldEntity(t, store, entity.EntityKindCharacter, "c1", "Aris")
	seedWorldEntity(t, store, entity.EntityKindLocation, "l1", "Forest")
	seedWorldEntity(t, store, entity.EntityKindObject, "o1", "Sword")
	ctx := context.Background()

	if _, err := mgr.EvolveWorld(ctx, "w1", "manual"); err != nil {
		t.Fatalf("EvolveWorld: %v", err)
	}

	events, err := store.Events().ListByWorld(ctx, "w1", repository.NewEventCursor(1000))
	if err != nil {
		t.Fatal(err)
	}
	type shape struct {
		EntityID string
		Type     entity.EventType
		Key      entity.OrderKey
	}
	var shapes []shape
	for _, ev := range events {
		shapes = append(shapes, shape{ev.EntityID, ev.EventType, ev.Key()})
	}
	b, _ := json.Marshal(shapes)
	return string(b)
}

func TestEvolveWorldIsDeterministic(t *testing.T) {
	a := evolutionShape(t)
	b := evolutionShape(t)
	if a != b {
		t.Errorf("identical worlds evolved differently:\n%s\n%s", a, b)
	}
}

func TestEvolveWorldPausedIsExplicitNoop(t *testing.T) {
	mgr, store := newManagerFixture(t)
	world := seedActiveWorld(t, store, entity.WorldStatusPaused)
	seedWorldEntity(t, store, entity.EntityKindCharacter, "c1", "Aris")
	ctx := context.Background()

	result, err := mgr.EvolveWorld(ctx, "w1", "scheduled")
	if err != nil {
		t.Fatalf("EvolveWorld on paused world: %v", err)
	}
	if !result.Paused {
		t.Error("result not marked paused")
	}
	if result.EventsGenerated != 0 {
		t.Errorf("generated %d events, want 0", result.EventsGenerated)
	}
	if result.NewTime != world.CurrentTime {
		t.Errorf("new time = %d, want unchanged %d", result.NewTime, world.CurrentTime)
	}

	stored, _ := store.Worlds().GetByID(ctx, "w1")
	if stored.CurrentTime != world.CurrentTime {
		t.Error("paused evolution moved the world clock")
	}
	if !stored.LastEvolutionAt.Equal(world.LastEvolutionAt) {
		t.Error("paused evolution touched the evolution timestamp")
	}
	if n := store.EventCount("w1"); n != 0 {
		t.Errorf("stored events = %d, want 0", n)
	}
}

func TestEvolveWorldArchivedRejected(t *testing.T) {
	mgr, store := newManagerFixture(t)
	seedActiveWorld(t, store, entity.WorldStatusArchived)

	_, err := mgr.EvolveWorld(context.Background(), "w1", "manual")
	if !apperrors.Is(err, apperrors.CodeWorldArchived) {
		t.Fatalf("err = %v, want world archived", err)
	}
}

func TestUpdateWorldStateRejectsClockRollback(t *testing.T) {
	mgr, store := newManagerFixture(t)
	world := seedActiveWorld(t, store, entity.WorldStatusActive)
	world.CurrentTime = 10
	if err := store.Worlds().Update(context.Background(), world); err != nil {
		t.Fatal(err)
	}

	_, err := mgr.UpdateWorldState(context.Background(), "w1", func(w *entity.World) error {
		w.CurrentTime = 5
		return nil
	})
	if !apperrors.Is(err, apperrors.CodeConsistencyViolation) {
		t.Fatalf("err = %v, want consistency violation", err)
	}

	stored, _ := store.Worlds().GetByID(context.Background(), "w1")
	if stored.CurrentTime != 10 {
		t.Errorf("clock = %d after rejected rollback, want 10", stored.CurrentTime)
	}
}

func TestGetWorldStateWithoutCache(t *testing.T) {
	mgr, store := newManagerFixture(t)
	seedActiveWorld(t, store, entity.WorldStatusActive)
	seedWorldEntity(t, store, entity.EntityKindCharacter, "c1", "Aris")
	seedWorldEntity(t, store, entity.EntityKindLocation, "l1", "Forest")

	view, err := mgr.GetWorldState(context.Background(), "w1")
	if err != nil {
		t.Fatalf("GetWorldState: %v", err)
	}
	if view.World.ID != "w1" {
		t.Errorf("world = %s", view.World.ID)
	}
	if len(view.Entities) != 2 {
		t.Errorf("entities = %d, want 2", len(view.Entities))
	}
}

// appendThroughEngine 借时间轴引擎写入事件，保证游标与派生状态同步
func appendThroughEngine(t *testing.T, mgr *Manager, store *apptest.Store, ent *entity.WorldEntity, events ...*entity.TimelineEvent) {
	t.Helper()
	engine := timeline.NewEngine(store.Timelines(), store.Events(), store.Entities(), store,
		mgr.subsystems, nil, config.HistoryConfig{DefaultDepth: 5, MaxDepth: 50})
	for _, ev := range events {
		if err := engine.AppendEvent(context.Background(), ent.TimelineID, ev); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
}

func TestValidateWorldConsistencyClean(t *testing.T) {
	mgr, store := newManagerFixture(t)
	world := seedActiveWorld(t, store, entity.WorldStatusActive)
	world.CurrentTime = 3
	if err := store.Worlds().Update(context.Background(), world); err != nil {
		t.Fatal(err)
	}
	ent := seedWorldEntity(t, store, entity.EntityKindCharacter, "c1", "Aris")
	appendThroughEngine(t, mgr, store, ent,
		entity.NewTimelineEvent("w1", "c1", entity.EventTypeCharacterBorn, 0, "born"),
		entity.NewTimelineEvent("w1", "c1", entity.EventTypeTimePassed, 2, "tick"),
	)

	report, err := mgr.ValidateWorldConsistency(context.Background(), "w1")
	if err != nil {
		t.Fatalf("ValidateWorldConsistency: %v", err)
	}
	if !report.Consistent {
		t.Fatalf("violations = %v, want none", report.Violations)
	}
	if report.TimelinesChecked != 1 || report.EventsChecked != 2 {
		t.Errorf("checked %d timelines / %d events, want 1 / 2",
			report.TimelinesChecked, report.EventsChecked)
	}

	// 通过校验后记录检查点
	stored, _ := store.Worlds().GetByID(context.Background(), "w1")
	if stored.LastValidatedTime != 3 {
		t.Errorf("checkpoint = %d, want 3", stored.LastValidatedTime)
	}
}

func TestValidateDetectsCursorMismatch(t *testing.T) {
	mgr, store := newManagerFixture(t)
	seedActiveWorld(t, store, entity.WorldStatusActive)
	ent := seedWorldEntity(t, store, entity.EntityKindCharacter, "c1", "Aris")
	ctx := context.Background()

	// 绕过引擎直接落事件，游标没有跟进
	stray := entity.NewTimelineEvent("w1", "c1", entity.EventTypeTimePassed, 1, "tick")
	stray.TimelineID = ent.TimelineID
	if err := store.Events().Append(ctx, stray); err != nil {
		t.Fatal(err)
	}

	report, err := mgr.ValidateWorldConsistency(ctx, "w1")
	if err != nil {
		t.Fatal(err)
	}
	if report.Consistent {
		t.Fatal("cursor mismatch not detected")
	}
	if len(report.Violations) == 0 {
		t.Fatal("no violations reported")
	}

	// 有违例时不得推进检查点
	stored, _ := store.Worlds().GetByID(ctx, "w1")
	if stored.LastValidatedTime != 0 {
		t.Errorf("checkpoint = %d, want untouched 0", stored.LastValidatedTime)
	}
}

func TestValidateDetectsOrphanParticipant(t *testing.T) {
	mgr, store := newManagerFixture(t)
	seedActiveWorld(t, store, entity.WorldStatusActive)
	ent := seedWorldEntity(t, store, entity.EntityKindCharacter, "c1", "Aris")

	ev := entity.NewTimelineEvent("w1", "c1", entity.EventTypeCharacterMet, 1, "met a stranger")
	ev.AddParticipant("ghost")
	appendThroughEngine(t, mgr, store, ent, ev)

	report, err := mgr.ValidateWorldConsistency(context.Background(), "w1")
	if err != nil {
		t.Fatal(err)
	}
	if report.Consistent {
		t.Fatal("orphan participant not detected")
	}
}

func TestValidateDetectsGenealogyCycle(t *testing.T) {
	mgr, store := newManagerFixture(t)
	seedActiveWorld(t, store, entity.WorldStatusActive)
	seedWorldEntity(t, store, entity.EntityKindCharacter, "a", "A")
	seedWorldEntity(t, store, entity.EntityKindCharacter, "b", "B")
	ctx := context.Background()

	// 互为父代，构成环
	if err := store.Relations().Create(ctx, entity.NewRelation("w1", "a", "b", entity.RelationTypeParentOf)); err != nil {
		t.Fatal(err)
	}
	if err := store.Relations().Create(ctx, entity.NewRelation("w1", "b", "a", entity.RelationTypeParentOf)); err != nil {
		t.Fatal(err)
	}

	report, err := mgr.ValidateWorldConsistency(ctx, "w1")
	if err != nil {
		t.Fatal(err)
	}
	if report.Consistent {
		t.Fatal("genealogy cycle not detected")
	}
}

func TestValidateAndRepairRestoresDerivedState(t *testing.T) {
	mgr, store := newManagerFixture(t)
	seedActiveWorld(t, store, entity.WorldStatusActive)
	obj := seedWorldEntity(t, store, entity.EntityKindObject, "o1", "Sword")
	ctx := context.Background()

	use := entity.NewTimelineEvent("w1", "o1", entity.EventTypeObjectUsed, 1, "")
	use.Payload = entity.AttributeMap{"wear_delta": 0.4}
	appendThroughEngine(t, mgr, store, obj, use)

	// 损坏派生状态
	broken, _ := store.Entities().GetByID(ctx, "o1")
	broken.Object.Wear = 0.9
	broken.Object.Broken = true
	if err := store.Entities().UpdateDerived(ctx, broken); err != nil {
		t.Fatal(err)
	}

	result, err := mgr.ValidateAndRepairWorld(ctx, "w1")
	if err != nil {
		t.Fatalf("ValidateAndRepairWorld: %v", err)
	}
	if result.EntitiesRepaired != 1 {
		t.Errorf("repaired = %d, want 1", result.EntitiesRepaired)
	}

	restored, _ := store.Entities().GetByID(ctx, "o1")
	if restored.Object.Wear != 0.4 || restored.Object.Broken {
		t.Errorf("derived state after repair = wear %v broken %v, want 0.4 false",
			restored.Object.Wear, restored.Object.Broken)
	}
	if restored.LastApplied != use.Key() {
		t.Errorf("LastApplied = %+v, want %+v", restored.LastApplied, use.Key())
	}
}

func TestRepairIsNoopOnHealthyWorld(t *testing.T) {
	mgr, store := newManagerFixture(t)
	seedActiveWorld(t, store, entity.WorldStatusActive)
	ent := seedWorldEntity(t, store, entity.EntityKindCharacter, "c1", "Aris")
	appendThroughEngine(t, mgr, store, ent,
		entity.NewTimelineEvent("w1", "c1", entity.EventTypeCharacterBorn, 0, "born"))

	result, err := mgr.ValidateAndRepairWorld(context.Background(), "w1")
	if err != nil {
		t.Fatal(err)
	}
	if result.EntitiesRepaired != 0 {
		t.Errorf("repaired = %d on healthy world, want 0", result.EntitiesRepaired)
	}
	if !result.Report.Consistent {
		t.Errorf("violations = %v, want none", result.Report.Violations)
	}
}
