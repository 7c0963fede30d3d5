package subsystem

import (
	"encoding/json"
	"math/rand"
	"testing"

	"living-world-engine/internal/domain/entity"
)

func newRng(seed int64) *rand.Rand {
	return rand.New(rand.NewSource(seed))
}

func eventAt(entityID string, eventType entity.EventType, worldTime, seq int64) *entity.TimelineEvent {
	ev := entity.NewTimelineEvent("w1", entityID, eventType, worldTime, "")
	ev.ID = string(eventType) + "-" + itoa(worldTime) + "-" + itoa(seq)
	ev.Seq = seq
	return ev
}

func itoa(v int64) string {
	b, _ := json.Marshal(v)
	return string(b)
}

func TestApplyEventDoesNotMutateInput(t *testing.T) {
	sub := NewCharacterSubsystem()
	state := entity.NewCharacter("w1", "Aris")
	state.ID = "c1"
	state.Character.PersonalityWeights["warmth"] = 0.4

	before, _ := json.Marshal(state)

	ev := eventAt("c1", entity.EventTypePersonalityShift, 1, 0)
	ev.Payload = entity.AttributeMap{"warmth": 0.3}
	ev.EmotionalImpact = 0.5

	next, err := sub.ApplyEvent(state, ev)
	if err != nil {
		t.Fatalf("ApplyEvent: %v", err)
	}

	after, _ := json.Marshal(state)
	if string(before) != string(after) {
		t.Errorf("input state mutated:\nbefore %s\nafter  %s", before, after)
	}
	if next.Character.PersonalityWeights["warmth"] != 0.7 {
		t.Errorf("warmth = %v, want 0.7", next.Character.PersonalityWeights["warmth"])
	}
	if next.LastApplied != ev.Key() {
		t.Errorf("LastApplied = %+v, want %+v", next.LastApplied, ev.Key())
	}
}

func TestApplyEventRejectsStaleKey(t *testing.T) {
	sub := NewCharacterSubsystem()
	state := entity.NewCharacter("w1", "Aris")
	state.ID = "c1"
	state.LastApplied = entity.OrderKey{WorldTime: 5, Seq: 2}

	cases := []entity.OrderKey{
		{WorldTime: 4, Seq: 0},
		{WorldTime: 5, Seq: 2}, // 等于游标也不行
		{WorldTime: 5, Seq: 1},
	}
	for _, key := range cases {
		ev := eventAt("c1", entity.EventTypeTimePassed, key.WorldTime, key.Seq)
		if _, err := sub.ApplyEvent(state, ev); err == nil {
			t.Errorf("key %+v accepted, want ordering error", key)
		}
	}

	ev := eventAt("c1", entity.EventTypeTimePassed, 5, 3)
	if _, err := sub.ApplyEvent(state, ev); err != nil {
		t.Errorf("key (5,3) rejected: %v", err)
	}
}

func TestPersonalityWeightsClamped(t *testing.T) {
	sub := NewCharacterSubsystem()
	state := entity.NewCharacter("w1", "Aris")
	state.ID = "c1"
	state.Character.PersonalityWeights["openness"] = 0.9

	ev := eventAt("c1", entity.EventTypePersonalityShift, 1, 0)
	ev.Payload = entity.AttributeMap{"openness": 0.5}
	next, err := sub.ApplyEvent(state, ev)
	if err != nil {
		t.Fatalf("ApplyEvent: %v", err)
	}
	if got := next.Character.PersonalityWeights["openness"]; got != 1 {
		t.Errorf("openness = %v, want clamped to 1", got)
	}

	down := eventAt("c1", entity.EventTypePersonalityShift, 2, 0)
	down.Payload = entity.AttributeMap{"openness": -2.0}
	next, err = sub.ApplyEvent(next, down)
	if err != nil {
		t.Fatalf("ApplyEvent: %v", err)
	}
	if got := next.Character.PersonalityWeights["openness"]; got != 0 {
		t.Errorf("openness = %v, want clamped to 0", got)
	}
}

func TestApplyEventInitializesMissingWeightMaps(t *testing.T) {
	// 历史行可能把空映射存成 null，反序列化回来就是 nil 映射
	char := entity.NewCharacter("w1", "Aris")
	char.ID = "c1"
	char.Character.PersonalityWeights = nil

	shift := eventAt("c1", entity.EventTypePersonalityShift, 1, 0)
	shift.Payload = entity.AttributeMap{"warmth": 0.2}
	next, err := NewCharacterSubsystem().ApplyEvent(char, shift)
	if err != nil {
		t.Fatalf("ApplyEvent on nil weights: %v", err)
	}
	if got := next.Character.PersonalityWeights["warmth"]; got != 0.2 {
		t.Errorf("warmth = %v, want 0.2", got)
	}

	loc := entity.NewLocation("w1", "Forest")
	loc.ID = "l1"
	loc.Location.Environment = nil

	env := eventAt("l1", entity.EventTypeEnvironmentShift, 1, 0)
	env.Payload = entity.AttributeMap{"temperature": 1.5}
	nextLoc, err := NewLocationSubsystem().ApplyEvent(loc, env)
	if err != nil {
		t.Fatalf("ApplyEvent on nil environment: %v", err)
	}
	if got := nextLoc.Location.Environment["temperature"]; got != 1.5 {
		t.Errorf("temperature = %v, want 1.5", got)
	}
}

func TestCharacterDeath(t *testing.T) {
	sub := NewCharacterSubsystem()
	state := entity.NewCharacter("w1", "Aris")
	state.ID = "c1"

	next, err := sub.ApplyEvent(state, eventAt("c1", entity.EventTypeCharacterDied, 3, 0))
	if err != nil {
		t.Fatalf("ApplyEvent: %v", err)
	}
	if next.Character.Alive {
		t.Error("character still alive after death event")
	}
	// 死亡角色不再产出演化事件
	if evs := sub.Evolve(next, 10, newRng(1)); len(evs) != 0 {
		t.Errorf("dead character evolved %d events, want 0", len(evs))
	}
}

func TestObjectWearMonotonic(t *testing.T) {
	sub := NewObjectSubsystem()
	state := entity.NewObject("w1", "Sword")
	state.ID = "o1"

	use := eventAt("o1", entity.EventTypeObjectUsed, 1, 0)
	use.Payload = entity.AttributeMap{"wear_delta": 0.4}
	next, err := sub.ApplyEvent(state, use)
	if err != nil {
		t.Fatalf("ApplyEvent: %v", err)
	}
	if next.Object.Wear != 0.4 {
		t.Fatalf("wear = %v, want 0.4", next.Object.Wear)
	}

	// 负增量按零处理，使用从不降低磨损
	negative := eventAt("o1", entity.EventTypeObjectUsed, 2, 0)
	negative.Payload = entity.AttributeMap{"wear_delta": -0.3}
	next, err = sub.ApplyEvent(next, negative)
	if err != nil {
		t.Fatalf("ApplyEvent: %v", err)
	}
	if next.Object.Wear != 0.4 {
		t.Errorf("wear = %v after negative delta, want 0.4", next.Object.Wear)
	}

	// 只有修复事件允许降低
	repair := eventAt("o1", entity.EventTypeObjectRepaired, 3, 0)
	repair.Payload = entity.AttributeMap{"wear_restored": 0.25}
	next, err = sub.ApplyEvent(next, repair)
	if err != nil {
		t.Fatalf("ApplyEvent: %v", err)
	}
	if wear := next.Object.Wear; wear < 0.149 || wear > 0.151 {
		t.Errorf("wear = %v after repair, want 0.15", wear)
	}
}

func TestObjectBreaksAtThreshold(t *testing.T) {
	sub := NewObjectSubsystem()
	state := entity.NewObject("w1", "Sword")
	state.ID = "o1"
	state.Object.Wear = 0.9

	broken := eventAt("o1", entity.EventTypeObjectBroken, 1, 0)
	next, err := sub.ApplyEvent(state, broken)
	if err != nil {
		t.Fatalf("ApplyEvent: %v", err)
	}
	if !next.Object.Broken || next.Object.Wear != 1 {
		t.Errorf("state = %+v, want broken with wear 1", next.Object)
	}

	// 修复恢复可用
	repair := eventAt("o1", entity.EventTypeObjectRepaired, 2, 0)
	next, err = sub.ApplyEvent(next, repair)
	if err != nil {
		t.Fatalf("ApplyEvent: %v", err)
	}
	if next.Object.Broken || next.Object.Wear != 0 {
		t.Errorf("state = %+v after repair, want intact with wear 0", next.Object)
	}
}

func TestEnvironmentShiftsCommute(t *testing.T) {
	sub := NewLocationSubsystem()

	shiftA := entity.AttributeMap{"temperature": 2.5}
	shiftB := entity.AttributeMap{"humidity": -1.0, "temperature": 0.5}

	apply := func(payloads []entity.AttributeMap) entity.FloatMap {
		state := entity.NewLocation("w1", "Forest")
		state.ID = "l1"
		for i, payload := range payloads {
			ev := eventAt("l1", entity.EventTypeEnvironmentShift, int64(i+1), 0)
			ev.Payload = payload
			next, err := sub.ApplyEvent(state, ev)
			if err != nil {
				t.Fatalf("ApplyEvent: %v", err)
			}
			state = next
		}
		return state.Location.Environment
	}

	ab := apply([]entity.AttributeMap{shiftA, shiftB})
	ba := apply([]entity.AttributeMap{shiftB, shiftA})

	for key, want := range ab {
		if got := ba[key]; got != want {
			t.Errorf("environment[%s]: order A,B = %v, order B,A = %v", key, want, got)
		}
	}
}

func TestSeasonRotation(t *testing.T) {
	order := []string{"spring", "summer", "autumn", "winter", "spring"}
	for i := 0; i < len(order)-1; i++ {
		if got := nextSeason(order[i]); got != order[i+1] {
			t.Errorf("nextSeason(%s) = %s, want %s", order[i], got, order[i+1])
		}
	}
	if got := nextSeason("unknown"); got != "spring" {
		t.Errorf("nextSeason(unknown) = %s, want spring", got)
	}
}

func TestReplayIsDeterministic(t *testing.T) {
	registry := NewRegistry()

	state := entity.NewCharacter("w1", "Aris")
	state.ID = "c1"

	events := []*entity.TimelineEvent{}
	born := eventAt("c1", entity.EventTypeCharacterBorn, 0, 0)
	born.Payload = entity.AttributeMap{"generation": float64(0)}
	events = append(events, born)

	shift := eventAt("c1", entity.EventTypePersonalityShift, 2, 0)
	shift.Payload = entity.AttributeMap{"ambition": 0.3}
	shift.EmotionalImpact = 0.2
	events = append(events, shift)

	travel := eventAt("c1", entity.EventTypeCharacterTraveled, 2, 1)
	travel.Payload = entity.AttributeMap{"location_id": "l9"}
	events = append(events, travel)

	first, err := registry.Replay(state, events)
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	second, err := registry.Replay(state, events)
	if err != nil {
		t.Fatalf("replay: %v", err)
	}

	a, _ := json.Marshal(first.Character)
	b, _ := json.Marshal(second.Character)
	if string(a) != string(b) {
		t.Errorf("replay diverged:\nfirst  %s\nsecond %s", a, b)
	}
	if first.Character.LocationID != "l9" {
		t.Errorf("location = %q, want l9", first.Character.LocationID)
	}
	if first.LastApplied != (entity.OrderKey{WorldTime: 2, Seq: 1}) {
		t.Errorf("LastApplied = %+v, want (2,1)", first.LastApplied)
	}
}

func TestEvolveIsDeterministic(t *testing.T) {
	registry := NewRegistry()
	kinds := []*entity.WorldEntity{
		entity.NewCharacter("w1", "Aris"),
		entity.NewLocation("w1", "Forest"),
		entity.NewObject("w1", "Sword"),
	}
	for i, state := range kinds {
		state.ID = "e" + itoa(int64(i))
		sub, err := registry.ForKind(state.Kind)
		if err != nil {
			t.Fatalf("ForKind: %v", err)
		}

		first := sub.Evolve(state, 7, newRng(42))
		second := sub.Evolve(state, 7, newRng(42))

		a, _ := json.Marshal(first)
		b, _ := json.Marshal(second)
		if string(a) != string(b) {
			t.Errorf("%s: evolve with same seed diverged", state.Kind)
		}
	}
}
