package choice

import (
	"context"
	"fmt"
	"math"
	"sync"
	"testing"

	"living-world-engine/internal/application/apptest"
	"living-world-engine/internal/application/subsystem"
	"living-world-engine/internal/application/timeline"
	"living-world-engine/internal/application/worldstate"
	"living-world-engine/internal/config"
	"living-world-engine/internal/domain/entity"
	"living-world-engine/internal/infrastructure/safety"
	apperrors "living-world-engine/pkg/errors"
)

// denyGate 恒定否决的网关桩
type denyGate struct {
	reason   string
	fallback string
}

func (g *denyGate) Validate(ctx context.Context, content string, choiceContext map[string]string) (*safety.Verdict, error) {
	return &safety.Verdict{Approved: false, Reason: g.reason, FallbackNarrative: g.fallback}, nil
}

// recordingGate 记录调用次数的放行桩
type recordingGate struct {
	calls int
}

func (g *recordingGate) Validate(ctx context.Context, content string, choiceContext map[string]string) (*safety.Verdict, error) {
	g.calls++
	return &safety.Verdict{Approved: true}, nil
}

func newChoiceFixture(t *testing.T, gate safety.Gate) (*Service, *apptest.Store) {
	t.Helper()
	store := apptest.NewStore()
	engine := timeline.NewEngine(store.Timelines(), store.Events(), store.Entities(), store,
		subsystem.NewRegistry(), nil, config.HistoryConfig{DefaultDepth: 5, MaxDepth: 50})
	svc := NewService(store.Worlds(), store.Entities(), store.Relations(), store.Prefs(),
		store, engine, gate, worldstate.NewRegistry(), nil, nil,
		config.ChoiceConfig{PreferenceDecay: 0.3, MaxConsequences: 20})
	return svc, store
}

func seedWorld(t *testing.T, store *apptest.Store, status entity.WorldStatus) *entity.World {
	t.Helper()
	world := entity.NewWorld("test", 0)
	world.ID = "w1"
	world.Status = status
	if err := store.Worlds().Create(context.Background(), world); err != nil {
		t.Fatalf("seed world: %v", err)
	}
	return world
}

func seedTarget(t *testing.T, store *apptest.Store, kind entity.EntityKind, id, name string) *entity.WorldEntity {
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

func socialChoice(target string) *entity.PlayerChoice {
	return &entity.PlayerChoice{
		PlayerID: "player-1",
		WorldID:  "w1",
		Intent:   "share a meal with the blacksmith",
		Category: entity.ChoiceCategorySocial,
		Context:  map[string]string{"target_entity_id": target},
	}
}

func TestProcessChoiceRejectsEmptyIntent(t *testing.T) {
	svc, store := newChoiceFixture(t, safety.NewPermissiveGate())
	seedWorld(t, store, entity.WorldStatusActive)

	_, err := svc.ProcessChoice(context.Background(), &entity.PlayerChoice{
		PlayerID: "player-1", WorldID: "w1", Category: entity.ChoiceCategorySocial,
	})
	if !apperrors.Is(err, apperrors.CodeInvalidParam) {
		t.Fatalf("err = %v, want invalid param", err)
	}
}

func TestProcessChoiceOnPausedWorld(t *testing.T) {
	svc, store := newChoiceFixture(t, safety.NewPermissiveGate())
	seedWorld(t, store, entity.WorldStatusPaused)

	_, err := svc.ProcessChoice(context.Background(), socialChoice(""))
	if !apperrors.Is(err, apperrors.CodeWorldPaused) {
		t.Fatalf("err = %v, want world paused", err)
	}
}

func TestProcessChoiceOnArchivedWorld(t *testing.T) {
	svc, store := newChoiceFixture(t, safety.NewPermissiveGate())
	seedWorld(t, store, entity.WorldStatusArchived)

	_, err := svc.ProcessChoice(context.Background(), socialChoice(""))
	if !apperrors.Is(err, apperrors.CodeWorldArchived) {
		t.Fatalf("err = %v, want world archived", err)
	}
}

func TestSafetyGateRejectionIsNotAnError(t *testing.T) {
	gate := &denyGate{reason: "violent escalation", fallback: "a guard steps between you"}
	svc, store := newChoiceFixture(t, gate)
	seedWorld(t, store, entity.WorldStatusActive)
	seedTarget(t, store, entity.EntityKindCharacter, "c1", "Blacksmith")

	choice := socialChoice("c1")
	choice.Category = entity.ChoiceCategoryConflict
	choice.Intent = "attack the blacksmith"

	result, err := svc.ProcessChoice(context.Background(), choice)
	if err != nil {
		t.Fatalf("ProcessChoice: %v", err)
	}
	if result.Committed {
		t.Error("rejected choice must not commit")
	}
	if result.FallbackNarrative != "a guard steps between you" {
		t.Errorf("fallback = %q", result.FallbackNarrative)
	}
	if len(result.Events) != 0 || len(result.Consequences) != 0 {
		t.Error("rejected choice must carry no events or consequences")
	}

	// 世界没有任何写入
	if n := store.EventCount("w1"); n != 0 {
		t.Errorf("stored events = %d, want 0", n)
	}
	world, _ := store.Worlds().GetByID(context.Background(), "w1")
	if world.Version != 0 {
		t.Errorf("world version = %d, want 0", world.Version)
	}
}

func TestNonSensitiveChoiceSkipsGate(t *testing.T) {
	gate := &recordingGate{}
	svc, store := newChoiceFixture(t, gate)
	seedWorld(t, store, entity.WorldStatusActive)
	seedTarget(t, store, entity.EntityKindCharacter, "c1", "Blacksmith")

	if _, err := svc.ProcessChoice(context.Background(), socialChoice("c1")); err != nil {
		t.Fatal(err)
	}
	if gate.calls != 0 {
		t.Errorf("gate called %d times for a social choice, want 0", gate.calls)
	}

	choice := socialChoice("c1")
	choice.Category = entity.ChoiceCategorySensitive
	if _, err := svc.ProcessChoice(context.Background(), choice); err != nil {
		t.Fatal(err)
	}
	if gate.calls != 1 {
		t.Errorf("gate called %d times for a sensitive choice, want 1", gate.calls)
	}
}

func TestProcessChoiceCommitsPrimaryAndConsequences(t *testing.T) {
	svc, store := newChoiceFixture(t, safety.NewPermissiveGate())
	seedWorld(t, store, entity.WorldStatusActive)
	target := seedTarget(t, store, entity.EntityKindCharacter, "c1", "Blacksmith")
	ctx := context.Background()

	result, err := svc.ProcessChoice(ctx, socialChoice("c1"))
	if err != nil {
		t.Fatalf("ProcessChoice: %v", err)
	}
	if !result.Committed {
		t.Fatal("choice did not commit")
	}
	if len(result.Consequences) != 1 {
		t.Fatalf("consequences = %d, want 1", len(result.Consequences))
	}
	if len(result.Events) != 2 {
		t.Fatalf("events = %d, want primary + consequence", len(result.Events))
	}

	primary := result.Events[0]
	if primary.EventType != entity.EventTypeChoiceMade {
		t.Errorf("primary type = %s, want choice.made", primary.EventType)
	}
	if len(primary.ConsequenceRefs) != 1 || primary.ConsequenceRefs[0] != result.Events[1].ID {
		t.Errorf("primary refs %v do not point at the consequence event", primary.ConsequenceRefs)
	}
	if result.Events[1].EventType != entity.EventTypeRelationChanged {
		t.Errorf("consequence type = %s, want relation.changed", result.Events[1].EventType)
	}

	tl, _ := store.Timelines().GetByID(ctx, target.TimelineID)
	if tl.EventCount != 2 {
		t.Errorf("timeline events = %d, want 2", tl.EventCount)
	}

	// 提交递增写版本
	world, _ := store.Worlds().GetByID(ctx, "w1")
	if world.Version != 1 {
		t.Errorf("world version = %d, want 1", world.Version)
	}
}

func TestProcessChoiceRejectsForeignTarget(t *testing.T) {
	svc, store := newChoiceFixture(t, safety.NewPermissiveGate())
	seedWorld(t, store, entity.WorldStatusActive)

	stranger := entity.NewCharacter("w2", "Stranger")
	stranger.ID = "x1"
	if err := store.Entities().Create(context.Background(), stranger); err != nil {
		t.Fatal(err)
	}

	_, err := svc.ProcessChoice(context.Background(), socialChoice("x1"))
	if !apperrors.Is(err, apperrors.CodeInvalidParam) {
		t.Fatalf("err = %v, want invalid param", err)
	}
}

func TestPropagationFailureRollsBackEverything(t *testing.T) {
	svc, store := newChoiceFixture(t, safety.NewPermissiveGate())
	seedWorld(t, store, entity.WorldStatusActive)
	target := seedTarget(t, store, entity.EntityKindCharacter, "c1", "Blacksmith")
	ctx := context.Background()

	// 把目标时间轴尾部推到世界时钟之后，使传播写入必然乱序失败
	ahead := entity.NewTimelineEvent("w1", "c1", entity.EventTypeTimePassed, 5, "tick")
	ahead.TimelineID = target.TimelineID
	ahead.Seq = 0
	if err := store.Events().Append(ctx, ahead); err != nil {
		t.Fatal(err)
	}
	if err := store.Timelines().AdvanceCursor(ctx, target.TimelineID, ahead.Key(), 1); err != nil {
		t.Fatal(err)
	}

	_, err := svc.ProcessChoice(ctx, socialChoice("c1"))
	if !apperrors.Is(err, apperrors.CodeOutOfOrderEvent) {
		t.Fatalf("err = %v, want out-of-order", err)
	}

	// 整体回滚：没有半写入
	if n := store.EventCount("w1"); n != 1 {
		t.Errorf("stored events = %d, want only the pre-seeded one", n)
	}
	world, _ := store.Worlds().GetByID(ctx, "w1")
	if world.Version != 0 {
		t.Errorf("world version = %d, want 0", world.Version)
	}
	pref, _ := store.Prefs().Get(ctx, "player-1", "w1")
	if pref != nil {
		t.Error("preference must not update for a failed choice")
	}
}

func TestPartialConsequenceFailureLeavesSiblingTimelineUntouched(t *testing.T) {
	svc, store := newChoiceFixture(t, safety.NewPermissiveGate())
	seedWorld(t, store, entity.WorldStatusActive)
	loc := seedTarget(t, store, entity.EntityKindLocation, "l1", "Forest")
	obj := seedTarget(t, store, entity.EntityKindObject, "o1", "Sword")
	ctx := context.Background()

	// 只让物品侧的写入失败
	ahead := entity.NewTimelineEvent("w1", "o1", entity.EventTypeObjectUsed, 5, "")
	ahead.TimelineID = obj.TimelineID
	ahead.Seq = 0
	if err := store.Events().Append(ctx, ahead); err != nil {
		t.Fatal(err)
	}
	if err := store.Timelines().AdvanceCursor(ctx, obj.TimelineID, ahead.Key(), 1); err != nil {
		t.Fatal(err)
	}

	choice := socialChoice("l1")
	choice.Category = entity.ChoiceCategoryExploration
	choice.Context["secondary_entity_id"] = "o1"

	_, err := svc.ProcessChoice(ctx, choice)
	if err == nil {
		t.Fatal("choice with a doomed consequence committed")
	}

	// 地点时间轴在物品侧失败后保持原样
	locTL, _ := store.Timelines().GetByID(ctx, loc.TimelineID)
	if locTL.EventCount != 0 {
		t.Errorf("location timeline events = %d after rollback, want 0", locTL.EventCount)
	}
	objTL, _ := store.Timelines().GetByID(ctx, obj.TimelineID)
	if objTL.EventCount != 1 {
		t.Errorf("object timeline events = %d, want only the pre-seeded one", objTL.EventCount)
	}
}

func TestCraftingChoiceRepairsObject(t *testing.T) {
	svc, store := newChoiceFixture(t, safety.NewPermissiveGate())
	seedWorld(t, store, entity.WorldStatusActive)
	obj := seedTarget(t, store, entity.EntityKindObject, "o1", "Sword")
	ctx := context.Background()

	obj.Object.Wear = 0.5
	if err := store.Entities().UpdateDerived(ctx, obj); err != nil {
		t.Fatal(err)
	}

	choice := socialChoice("o1")
	choice.Category = entity.ChoiceCategoryCrafting
	choice.Intent = "sharpen the blade"

	result, err := svc.ProcessChoice(ctx, choice)
	if err != nil {
		t.Fatal(err)
	}
	if result.Consequences[0].EventType != entity.EventTypeObjectRepaired {
		t.Errorf("consequence type = %s, want object.repaired", result.Consequences[0].EventType)
	}

	// 修复量 0.25 落到磨损上
	stored, _ := store.Entities().GetByID(ctx, "o1")
	if math.Abs(stored.Object.Wear-0.25) > 1e-9 {
		t.Errorf("wear = %v, want 0.25", stored.Object.Wear)
	}
}

func TestConcurrentChoicesOnOneWorldAllCommit(t *testing.T) {
	svc, store := newChoiceFixture(t, safety.NewPermissiveGate())
	seedWorld(t, store, entity.WorldStatusActive)
	target := seedTarget(t, store, entity.EntityKindCharacter, "c1", "Blacksmith")
	ctx := context.Background()

	// 同一世界上的并发选择由世界锁串行化，
	// 不允许任何一个因时间轴尾部竞争而失败
	const workers = 4
	errs := make(chan error, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			choice := socialChoice("c1")
			choice.PlayerID = fmt.Sprintf("player-%d", i)
			result, err := svc.ProcessChoice(ctx, choice)
			if err == nil && !result.Committed {
				err = fmt.Errorf("choice for player-%d did not commit", i)
			}
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Errorf("concurrent choice failed: %v", err)
		}
	}

	// 每次选择落主事件 + 后果事件各一
	if n := store.EventCount("w1"); n != workers*2 {
		t.Errorf("stored events = %d, want %d", n, workers*2)
	}
	tl, err := store.Timelines().GetByID(ctx, target.TimelineID)
	if err != nil {
		t.Fatal(err)
	}
	if tl.EventCount != workers*2 {
		t.Errorf("timeline events = %d, want %d", tl.EventCount, workers*2)
	}
	world, _ := store.Worlds().GetByID(ctx, "w1")
	if world.Version != workers {
		t.Errorf("world version = %d, want %d", world.Version, workers)
	}
}

func TestTrackPlayerPreferencesEMA(t *testing.T) {
	svc, _ := newChoiceFixture(t, safety.NewPermissiveGate())
	ctx := context.Background()

	bias, err := svc.TrackPlayerPreferences(ctx, "player-1", "w1", entity.ChoiceCategorySocial)
	if err != nil {
		t.Fatal(err)
	}
	if math.Abs(bias["social"]-0.3) > 1e-9 {
		t.Errorf("social bias = %v, want 0.3", bias["social"])
	}

	bias, err = svc.TrackPlayerPreferences(ctx, "player-1", "w1", entity.ChoiceCategoryConflict)
	if err != nil {
		t.Fatal(err)
	}
	if math.Abs(bias["social"]-0.21) > 1e-9 {
		t.Errorf("social bias after decay = %v, want 0.21", bias["social"])
	}
	if math.Abs(bias["conflict"]-0.3) > 1e-9 {
		t.Errorf("conflict bias = %v, want 0.3", bias["conflict"])
	}
}

func TestGetPreferencesForUnknownPlayer(t *testing.T) {
	svc, _ := newChoiceFixture(t, safety.NewPermissiveGate())

	bias, err := svc.GetPreferences(context.Background(), "nobody", "w1")
	if err != nil {
		t.Fatal(err)
	}
	if len(bias) != 0 {
		t.Errorf("bias = %v, want empty", bias)
	}
}

func TestAdjustRelationsBetweenCharacterTargets(t *testing.T) {
	svc, store := newChoiceFixture(t, safety.NewPermissiveGate())
	seedWorld(t, store, entity.WorldStatusActive)
	seedTarget(t, store, entity.EntityKindCharacter, "c1", "Blacksmith")
	seedTarget(t, store, entity.EntityKindCharacter, "c2", "Baker")
	ctx := context.Background()

	choice := socialChoice("c1")
	choice.Context["secondary_entity_id"] = "c2"

	if _, err := svc.ProcessChoice(ctx, choice); err != nil {
		t.Fatal(err)
	}

	rel, err := store.Relations().GetBetween(ctx, "w1", "c1", "c2", entity.RelationTypeKnows)
	if err != nil {
		t.Fatalf("relation not created: %v", err)
	}
	// 新建边默认强度 0.5，社交选择上调 0.1
	if math.Abs(rel.Strength-0.6) > 1e-9 {
		t.Errorf("strength = %v, want 0.6", rel.Strength)
	}
}
