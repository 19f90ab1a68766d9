package proxy

import "testing"

func TestArenaInsertGetRemove(t *testing.T) {
	a := newArena()
	p1 := &Pump{}
	p2 := &Pump{}

	t1, err := a.Insert(p1)
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}
	t2, err := a.Insert(p2)
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if t1 == RootToken || t2 == RootToken {
		t.Fatalf("Insert handed out RootToken")
	}
	if t1 == t2 {
		t.Fatalf("Insert handed out duplicate tokens")
	}
	if a.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", a.Len())
	}

	got, ok := a.Get(t1)
	if !ok || got != p1 {
		t.Fatalf("Get(%d) = %v, %v; want %v, true", t1, got, ok, p1)
	}

	a.Remove(t1)
	if a.Len() != 1 {
		t.Fatalf("Len() after Remove = %d, want 1", a.Len())
	}
	if _, ok := a.Get(t1); ok {
		t.Fatalf("Get(%d) succeeded after Remove", t1)
	}
}

func TestArenaReusesFreedSlots(t *testing.T) {
	a := newArena()
	t1, _ := a.Insert(&Pump{})
	a.Remove(t1)
	t2, err := a.Insert(&Pump{})
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if t2 != t1 {
		t.Fatalf("Insert did not reuse freed slot %d, got %d", t1, t2)
	}
}

func TestArenaRejectsRootToken(t *testing.T) {
	a := newArena()
	if _, ok := a.Get(RootToken); ok {
		t.Fatalf("Get(RootToken) unexpectedly succeeded on an empty arena")
	}
}

func TestArenaCapacityExceeded(t *testing.T) {
	a := newArena()
	for i := 0; i < MaxPumps; i++ {
		if _, err := a.Insert(&Pump{}); err != nil {
			t.Fatalf("Insert #%d: %v", i, err)
		}
	}
	if _, err := a.Insert(&Pump{}); err != ErrCapacityExceeded {
		t.Fatalf("Insert at capacity = %v, want ErrCapacityExceeded", err)
	}
}
