package admin

import (
	"context"
	"testing"
	"time"

	"living-world-engine/internal/application/apptest"
	"living-world-engine/internal/application/worldstate"
	"living-world-engine/internal/domain/entity"
	apperrors "living-world-engine/pkg/errors"
)

func newAdminFixture(t *testing.T) (*Service, *apptest.Store, *worldstate.Registry) {
	t.Helper()
	store := apptest.NewStore()
	registry := worldstate.NewRegistry()
	svc := NewService(store.Worlds(), store.Entities(), store.Timelines(), store.Events(),
		store.Relations(), store.Prefs(), store, registry, nil, nil)
	return svc, store, registry
}

func seedWorld(t *testing.T, store *apptest.Store, status entity.WorldStatus) *entity.World {
	t.Helper()
	world := entity.NewWorld("realm", time.Hour)
	world.ID = "w1"
	world.Status = status
	if err := store.Worlds().Create(context.Background(), world); err != nil {
		t.Fatalf("seed world: %v", err)
	}
	return world
}

func seedEntityWithEvents(t *testing.T, store *apptest.Store, id string) *entity.WorldEntity {
	t.Helper()
	ctx := context.Background()

	ch := entity.NewCharacter("w1", id)
	ch.ID = id
	tl := entity.NewTimeline("w1", id, entity.EntityKindCharacter)
	if err := store.Timelines().Create(ctx, tl); err != nil {
		t.Fatal(err)
	}
	ch.TimelineID = tl.ID
	if err := store.Entities().Create(ctx, ch); err != nil {
		t.Fatal(err)
	}

	for i := int64(0); i < 3; i++ {
		ev := entity.NewTimelineEvent("w1", id, entity.EventTypeTimePassed, i, "tick")
		ev.TimelineID = tl.ID
		if err := store.Events().Append(ctx, ev); err != nil {
			t.Fatal(err)
		}
		if err := store.Timelines().AdvanceCursor(ctx, tl.ID, ev.Key(), 1); err != nil {
			t.Fatal(err)
		}
	}
	return ch
}

func TestPauseResumeLifecycle(t *testing.T) {
	svc, store, _ := newAdminFixture(t)
	seedWorld(t, store, entity.WorldStatusActive)
	ctx := context.Background()

	if err := svc.PauseWorld(ctx, "w1"); err != nil {
		t.Fatalf("PauseWorld: %v", err)
	}
	world, _ := store.Worlds().GetByID(ctx, "w1")
	if world.Status != entity.WorldStatusPaused {
		t.Errorf("status = %s, want paused", world.Status)
	}

	// 已暂停世界再次暂停是非法转移
	if err := svc.PauseWorld(ctx, "w1"); !apperrors.Is(err, apperrors.CodeInvalidTransition) {
		t.Errorf("double pause err = %v, want invalid transition", err)
	}

	if err := svc.ResumeWorld(ctx, "w1"); err != nil {
		t.Fatalf("ResumeWorld: %v", err)
	}
	world, _ = store.Worlds().GetByID(ctx, "w1")
	if world.Status != entity.WorldStatusActive {
		t.Errorf("status = %s, want active", world.Status)
	}
}

func TestArchiveWorldIsTerminal(t *testing.T) {
	svc, store, registry := newAdminFixture(t)
	seedWorld(t, store, entity.WorldStatusActive)
	registry.Register("w1")
	ctx := context.Background()

	if err := svc.ArchiveWorld(ctx, "w1"); err != nil {
		t.Fatalf("ArchiveWorld: %v", err)
	}
	world, _ := store.Worlds().GetByID(ctx, "w1")
	if world.Status != entity.WorldStatusArchived {
		t.Errorf("status = %s, want archived", world.Status)
	}
	if registry.Size() != 0 {
		t.Error("archived world still registered")
	}

	if err := svc.ArchiveWorld(ctx, "w1"); !apperrors.Is(err, apperrors.CodeWorldArchived) {
		t.Errorf("double archive err = %v, want world archived", err)
	}
	if err := svc.ResumeWorld(ctx, "w1"); !apperrors.Is(err, apperrors.CodeInvalidTransition) {
		t.Errorf("resume archived err = %v, want invalid transition", err)
	}
}

func TestArchiveFromPaused(t *testing.T) {
	svc, store, _ := newAdminFixture(t)
	seedWorld(t, store, entity.WorldStatusPaused)

	if err := svc.ArchiveWorld(context.Background(), "w1"); err != nil {
		t.Fatalf("archive from paused: %v", err)
	}
}

func TestSetWorldFlags(t *testing.T) {
	svc, store, _ := newAdminFixture(t)
	seedWorld(t, store, entity.WorldStatusActive)
	ctx := context.Background()

	flags := entity.AttributeMap{"festival": true, "danger_level": 3.0}
	if err := svc.SetWorldFlags(ctx, "w1", flags); err != nil {
		t.Fatalf("SetWorldFlags: %v", err)
	}

	world, _ := store.Worlds().GetByID(ctx, "w1")
	if world.Flags["festival"] != true {
		t.Errorf("flags = %v", world.Flags)
	}
}

func TestSetWorldFlagsRejectedOnArchived(t *testing.T) {
	svc, store, _ := newAdminFixture(t)
	seedWorld(t, store, entity.WorldStatusArchived)

	err := svc.SetWorldFlags(context.Background(), "w1", entity.AttributeMap{"x": 1})
	if !apperrors.Is(err, apperrors.CodeWorldArchived) {
		t.Fatalf("err = %v, want world archived", err)
	}
}

func TestExportImportRoundTrip(t *testing.T) {
	svc, store, registry := newAdminFixture(t)
	seedWorld(t, store, entity.WorldStatusActive)
	seedEntityWithEvents(t, store, "c1")
	ctx := context.Background()

	if err := store.Relations().Create(ctx,
		entity.NewRelation("w1", "c1", "c1", entity.RelationTypeKnows)); err != nil {
		t.Fatal(err)
	}
	if err := store.Prefs().Upsert(ctx, &entity.PlayerPreference{
		PlayerID: "p1", WorldID: "w1", Bias: entity.FloatMap{"social": 0.3},
	}); err != nil {
		t.Fatal(err)
	}

	export, err := svc.ExportWorldState(ctx, "w1")
	if err != nil {
		t.Fatalf("ExportWorldState: %v", err)
	}
	if export.Version != entity.ExportFormatVersion {
		t.Errorf("format version = %d", export.Version)
	}
	if len(export.Entities) != 1 || len(export.Timelines) != 1 ||
		len(export.Events) != 3 || len(export.Relations) != 1 || len(export.Preferences) != 1 {
		t.Fatalf("export shape: %d entities, %d timelines, %d events, %d relations, %d prefs",
			len(export.Entities), len(export.Timelines), len(export.Events),
			len(export.Relations), len(export.Preferences))
	}

	// 破坏世界后导入恢复
	if err := store.Events().DeleteByWorld(ctx, "w1"); err != nil {
		t.Fatal(err)
	}
	if err := store.Entities().DeleteByWorld(ctx, "w1"); err != nil {
		t.Fatal(err)
	}

	if err := svc.ImportWorldState(ctx, export); err != nil {
		t.Fatalf("ImportWorldState: %v", err)
	}
	if n := store.EventCount("w1"); n != 3 {
		t.Errorf("events after import = %d, want 3", n)
	}
	restored, err := store.Entities().GetByID(ctx, "c1")
	if err != nil {
		t.Fatalf("entity not restored: %v", err)
	}
	if restored.TimelineID == "" {
		t.Error("restored entity lost its timeline")
	}
	if registry.Size() != 1 {
		t.Error("imported world not registered")
	}
}

func TestImportRestoresPreMutationSnapshot(t *testing.T) {
	svc, store, _ := newAdminFixture(t)
	seedWorld(t, store, entity.WorldStatusActive)
	ch := seedEntityWithEvents(t, store, "c1")
	ctx := context.Background()

	export, err := svc.ExportWorldState(ctx, "w1")
	if err != nil {
		t.Fatal(err)
	}

	// 导出后继续写入，再以旧快照覆盖
	for i := int64(3); i < 8; i++ {
		ev := entity.NewTimelineEvent("w1", "c1", entity.EventTypeTimePassed, i, "tick")
		ev.TimelineID = ch.TimelineID
		if err := store.Events().Append(ctx, ev); err != nil {
			t.Fatal(err)
		}
		if err := store.Timelines().AdvanceCursor(ctx, ch.TimelineID, ev.Key(), 1); err != nil {
			t.Fatal(err)
		}
	}
	if n := store.EventCount("w1"); n != 8 {
		t.Fatalf("events after mutation = %d, want 8", n)
	}

	if err := svc.ImportWorldState(ctx, export); err != nil {
		t.Fatalf("ImportWorldState: %v", err)
	}

	if n := store.EventCount("w1"); n != 3 {
		t.Errorf("events after import = %d, want pre-mutation 3", n)
	}
	tl, err := store.Timelines().GetByEntity(ctx, "c1")
	if err != nil {
		t.Fatal(err)
	}
	if tl.EventCount != 3 {
		t.Errorf("timeline count = %d, want 3", tl.EventCount)
	}
	if tl.LastKey != (entity.OrderKey{WorldTime: 2, Seq: 0}) {
		t.Errorf("timeline tail = %+v, want (2,0)", tl.LastKey)
	}
}

func TestImportRejectsBadSnapshot(t *testing.T) {
	svc, _, _ := newAdminFixture(t)
	ctx := context.Background()

	if err := svc.ImportWorldState(ctx, nil); !apperrors.Is(err, apperrors.CodeInvalidParam) {
		t.Errorf("nil snapshot err = %v, want invalid param", err)
	}

	bad := &entity.WorldExport{Version: entity.ExportFormatVersion + 1, World: &entity.World{ID: "w1"}}
	if err := svc.ImportWorldState(ctx, bad); !apperrors.Is(err, apperrors.CodeInvalidParam) {
		t.Errorf("version mismatch err = %v, want invalid param", err)
	}
}

func TestGetWorldAnalytics(t *testing.T) {
	svc, store, _ := newAdminFixture(t)
	seedWorld(t, store, entity.WorldStatusActive)
	seedEntityWithEvents(t, store, "c1")
	ctx := context.Background()

	analytics, err := svc.GetWorldAnalytics(ctx, "w1")
	if err != nil {
		t.Fatalf("GetWorldAnalytics: %v", err)
	}
	if analytics.EventCount != 3 {
		t.Errorf("event count = %d, want 3", analytics.EventCount)
	}
	if analytics.EntityCounts[string(entity.EntityKindCharacter)] != 1 {
		t.Errorf("entity counts = %v", analytics.EntityCounts)
	}
	if analytics.EventsByType[string(entity.EventTypeTimePassed)] != 3 {
		t.Errorf("events by type = %v", analytics.EventsByType)
	}
	if analytics.Status != entity.WorldStatusActive {
		t.Errorf("status = %s", analytics.Status)
	}
}

func TestGetDebugMetrics(t *testing.T) {
	svc, _, registry := newAdminFixture(t)
	registry.Register("w1")
	registry.Register("w2")
	registry.Acquire("w2")
	defer registry.Release("w2")

	m, err := svc.GetDebugMetrics(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if m.RegisteredWorlds != 2 {
		t.Errorf("registered = %d, want 2", m.RegisteredWorlds)
	}
	if len(m.HeldWorldLocks) != 1 || m.HeldWorldLocks[0] != "w2" {
		t.Errorf("held locks = %v, want [w2]", m.HeldWorldLocks)
	}
}
