package event

import "testing"

func TestSourceEmitOrder(t *testing.T) {
	var s Source[int]
	var got []int
	s.Subscribe(func(v int) { got = append(got, v*10) })
	s.Subscribe(func(v int) { got = append(got, v*100) })

	s.Emit(1)
	s.Emit(2)

	want := []int{10, 100, 20, 200}
	if len(got) != len(want) {
		t.Fatalf("expected %d deliveries, got %d", len(want), len(got))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("delivery %d: expected %d, got %d", i, want[i], got[i])
		}
	}
	if s.Len() != 2 {
		t.Errorf("expected 2 handlers, got %d", s.Len())
	}
}

func TestSourceEmitWithoutSubscribers(t *testing.T) {
	var s Source[string]
	s.Emit("nobody listening")
}
