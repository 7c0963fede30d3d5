package narrative

import (
	"context"
	"strings"
	"testing"

	"living-world-engine/internal/domain/entity"
)

func TestTemplateGeneratorIsDeterministic(t *testing.T) {
	g := NewTemplateGenerator()
	req := Request{
		WorldID:    "w1",
		EventType:  entity.EventTypeCharacterTraveled,
		EntityName: "Aris",
		WorldTime:  12,
	}

	a, err := g.Describe(context.Background(), req)
	if err != nil {
		t.Fatal(err)
	}
	b, _ := g.Describe(context.Background(), req)
	if a != b {
		t.Errorf("same request produced %q then %q", a, b)
	}
	if !strings.Contains(a, "Aris") {
		t.Errorf("text %q does not name the entity", a)
	}
	if !strings.Contains(a, "[t=12]") {
		t.Errorf("text %q does not carry the logical time", a)
	}
}

func TestTemplateGeneratorTwoPartyEvents(t *testing.T) {
	g := NewTemplateGenerator()

	text, err := g.Describe(context.Background(), Request{
		EventType:    entity.EventTypeCharacterMet,
		EntityName:   "Aris",
		Participants: []string{"Brin"},
		WorldTime:    3,
	})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(text, "Aris") || !strings.Contains(text, "Brin") {
		t.Errorf("text %q misses a participant", text)
	}

	// 没有第二参与者时用占位而不是失败
	text, err = g.Describe(context.Background(), Request{
		EventType:  entity.EventTypeCharacterMet,
		EntityName: "Aris",
		WorldTime:  3,
	})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(text, "stranger") {
		t.Errorf("text %q has no placeholder for the missing participant", text)
	}
}

func TestTemplateGeneratorUnknownEventType(t *testing.T) {
	g := NewTemplateGenerator()
	text, err := g.Describe(context.Background(), Request{
		EventType:  entity.EventType("custom.unknown"),
		EntityName: "the relic",
		WorldTime:  0,
	})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(text, "the relic") {
		t.Errorf("fallback text %q does not name the entity", text)
	}
}
