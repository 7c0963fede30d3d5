package redis

import "testing"

func TestCacheKeyNamespace(t *testing.T) {
	cases := []struct {
		name string
		got  string
		want string
	}{
		{"world state", WorldStateKey("w1"), "world:w1:state"},
		{"world metrics", WorldMetricsKey("w1"), "world:w1:metrics"},
		{"character", EntityStateKey("w1", "character", "c1"), "world:w1:character:c1"},
		{"location", EntityStateKey("w1", "location", "l1"), "world:w1:location:l1"},
		{"object", EntityStateKey("w1", "object", "o1"), "world:w1:object:o1"},
		{"timeline recent", TimelineRecentKey("w1", "c1"), "world:w1:timeline:c1:recent"},
	}
	for _, tc := range cases {
		if tc.got != tc.want {
			t.Errorf("%s key = %q, want %q", tc.name, tc.got, tc.want)
		}
	}
}
