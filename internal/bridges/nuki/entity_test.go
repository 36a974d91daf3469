package nuki

import (
	"testing"
)

func TestSlugify(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Front Door", "front_door"},
		{"  Haustür  Süd ", "haust_r_s_d"},
		{"Garage-Door #2", "garage_door_2"},
		{"already_slug", "already_slug"},
		{"___", ""},
		{"", ""},
	}

	for _, tt := range tests {
		if got := slugify(tt.in); got != tt.want {
			t.Errorf("slugify(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestAssignEntityIDs(t *testing.T) {
	handles := []*stubHandle{
		newStubHandle(1, "Front Door", StateLocked),
		newStubHandle(2, "Front Door", StateLocked),
		newStubHandle(3, "Front Door 2", StateLocked),
		newStubHandle(4, "", StateLocked),
		newStubHandle(5, "Front Door", StateLocked),
	}

	got := assignEntityIDs(asHandles(handles))
	want := []string{
		"lock.front_door",
		"lock.front_door_2",
		"lock.front_door_2_2",
		"lock.nuki_4",
		"lock.front_door_3",
	}

	seen := map[string]bool{}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("ids[%d] = %q, want %q", i, got[i], want[i])
		}
		if seen[got[i]] {
			t.Errorf("duplicate id %q", got[i])
		}
		seen[got[i]] = true
	}
}

func TestEntityAttributes(t *testing.T) {
	h := newStubHandle(42, "Back Door", StateLocked)
	h.battery = true
	e := newEntity("lock.back_door", newTestReconciler(h))

	attrs := e.Attributes()
	want := map[string]any{
		AttrName:            "Back Door",
		AttrIsLocked:        true,
		AttrAvailable:       true,
		AttrBatteryCritical: true,
		AttrNukiID:          42,
	}
	for k, v := range want {
		if attrs[k] != v {
			t.Errorf("attrs[%s] = %v, want %v", k, attrs[k], v)
		}
	}
	if len(attrs) != len(want) {
		t.Errorf("len(attrs) = %d, want %d", len(attrs), len(want))
	}
}
