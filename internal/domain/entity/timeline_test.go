package entity

import (
	"testing"
)

func TestOrderKeyLess(t *testing.T) {
	tests := []struct {
		name string
		a, b OrderKey
		want bool
	}{
		{"earlier time", OrderKey{1, 5}, OrderKey{2, 0}, true},
		{"later time", OrderKey{3, 0}, OrderKey{2, 9}, false},
		{"same time earlier seq", OrderKey{2, 1}, OrderKey{2, 2}, true},
		{"same time later seq", OrderKey{2, 2}, OrderKey{2, 1}, false},
		{"equal", OrderKey{2, 2}, OrderKey{2, 2}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.a.Less(tt.b); got != tt.want {
				t.Errorf("(%v).Less(%v) = %v, want %v", tt.a, tt.b, got, tt.want)
			}
		})
	}
}

func TestOrderKeyFloorPrecedesEverything(t *testing.T) {
	// 家谱祖先的史前事件使用负逻辑时间，哨兵必须排在它们之前
	keys := []OrderKey{
		{WorldTime: -1000, Seq: 0},
		{WorldTime: -1, Seq: -1},
		{WorldTime: 0, Seq: 0},
	}
	for _, k := range keys {
		if !OrderKeyFloor.Less(k) {
			t.Errorf("floor does not precede %v", k)
		}
		if k.Less(OrderKeyFloor) {
			t.Errorf("%v precedes the floor", k)
		}
	}
	if OrderKeyFloor.Less(OrderKeyFloor) {
		t.Error("floor precedes itself")
	}
}

func TestNewTimelineStartsAtFloor(t *testing.T) {
	tl := NewTimeline("w1", "c1", EntityKindCharacter)
	if tl.LastKey != OrderKeyFloor {
		t.Errorf("new timeline tail = %v, want floor", tl.LastKey)
	}
	if tl.EventCount != 0 {
		t.Errorf("new timeline count = %d, want 0", tl.EventCount)
	}
}

func TestClampSignificance(t *testing.T) {
	ev := NewTimelineEvent("w1", "c1", EventTypeTimePassed, 0, "")

	ev.Significance = 0
	ev.ClampSignificance()
	if ev.Significance != SignificanceMin {
		t.Errorf("significance = %d, want %d", ev.Significance, SignificanceMin)
	}

	ev.Significance = 99
	ev.ClampSignificance()
	if ev.Significance != SignificanceMax {
		t.Errorf("significance = %d, want %d", ev.Significance, SignificanceMax)
	}

	ev.Significance = 5
	ev.ClampSignificance()
	if ev.Significance != 5 {
		t.Errorf("significance = %d, want untouched 5", ev.Significance)
	}
}

func TestAddParticipantDeduplicates(t *testing.T) {
	ev := NewTimelineEvent("w1", "c1", EventTypeCharacterMet, 0, "")
	ev.AddParticipant("c2")
	ev.AddParticipant("c2")
	ev.AddParticipant("c1") // 主实体已在列表

	if len(ev.Participants) != 2 {
		t.Errorf("participants = %v, want [c1 c2]", ev.Participants)
	}
}

func TestWorldStatusTransitions(t *testing.T) {
	tests := []struct {
		from, to WorldStatus
		want     bool
	}{
		{WorldStatusInitializing, WorldStatusActive, true},
		{WorldStatusInitializing, WorldStatusPaused, false},
		{WorldStatusActive, WorldStatusPaused, true},
		{WorldStatusActive, WorldStatusActive, false},
		{WorldStatusPaused, WorldStatusActive, true},
		{WorldStatusPaused, WorldStatusPaused, false},
		{WorldStatusInitializing, WorldStatusArchived, true},
		{WorldStatusActive, WorldStatusArchived, true},
		{WorldStatusPaused, WorldStatusArchived, true},
		{WorldStatusArchived, WorldStatusActive, false},
		{WorldStatusArchived, WorldStatusPaused, false},
		{WorldStatusArchived, WorldStatusArchived, false},
	}
	for _, tt := range tests {
		if got := tt.from.CanTransitionTo(tt.to); got != tt.want {
			t.Errorf("%s -> %s = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}
