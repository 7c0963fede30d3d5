package apptest

import (
	"context"
	"testing"

	"living-world-engine/internal/domain/entity"
	"living-world-engine/internal/domain/repository"
)

func TestListByWorldPagingIsComplete(t *testing.T) {
	store := NewStore()
	ctx := context.Background()

	// 两条时间轴上的事件共用同一批 (world_time, seq) 键，
	// 翻页位置只有带上实体 ID 才不会在页界漏事件
	for _, entityID := range []string{"a", "b"} {
		tl := entity.NewTimeline("w1", entityID, entity.EntityKindCharacter)
		if err := store.Timelines().Create(ctx, tl); err != nil {
			t.Fatal(err)
		}
		for i := int64(0); i < 5; i++ {
			ev := entity.NewTimelineEvent("w1", entityID, entity.EventTypeTimePassed, 1, "tick")
			ev.TimelineID = tl.ID
			ev.Seq = i
			if err := store.Events().Append(ctx, ev); err != nil {
				t.Fatal(err)
			}
		}
	}

	cursor := repository.NewEventCursor(4)
	seen := make(map[string]bool)
	var ordered []*entity.TimelineEvent
	for {
		page, err := store.Events().ListByWorld(ctx, "w1", cursor)
		if err != nil {
			t.Fatal(err)
		}
		for _, ev := range page {
			if seen[ev.ID] {
				t.Errorf("event %s returned twice", ev.ID)
			}
			seen[ev.ID] = true
			ordered = append(ordered, ev)
		}
		if len(page) < cursor.Limit {
			break
		}
		last := page[len(page)-1]
		cursor.After = last.Key()
		cursor.AfterEntity = last.EntityID
	}

	if len(ordered) != 10 {
		t.Fatalf("paged through %d events, want all 10", len(ordered))
	}
	for i := 1; i < len(ordered); i++ {
		prev, cur := ordered[i-1], ordered[i]
		if cur.WorldTime < prev.WorldTime ||
			(cur.WorldTime == prev.WorldTime && cur.EntityID < prev.EntityID) ||
			(cur.WorldTime == prev.WorldTime && cur.EntityID == prev.EntityID && cur.Seq <= prev.Seq) {
			t.Errorf("position %d out of order: (%d,%s,%d) after (%d,%s,%d)",
				i, cur.WorldTime, cur.EntityID, cur.Seq, prev.WorldTime, prev.EntityID, prev.Seq)
		}
	}
}
