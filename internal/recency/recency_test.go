package recency

import "testing"

type entry struct{ id int }

func TestDrainReturnsInOrder(t *testing.T) {
	b := New[entry]()
	e1, e2, e3 := &entry{1}, &entry{2}, &entry{3}
	b.Add(e1)
	b.Add(e2)
	b.Add(e3)

	var got []int
	b.Drain(func(e *entry) { got = append(got, e.id) })

	if len(got) != 3 || got[0] != 1 || got[1] != 2 || got[2] != 3 {
		t.Fatalf("Drain order = %v; want [1 2 3]", got)
	}
}

func TestDrainEmptiesTheBuffer(t *testing.T) {
	b := New[entry]()
	b.Add(&entry{1})
	b.Drain(func(*entry) {})

	var second []int
	b.Drain(func(e *entry) { second = append(second, e.id) })
	if len(second) != 0 {
		t.Fatalf("second Drain returned %v; want empty (buffer already drained)", second)
	}
}

// TestAddDropsBeyondCapacity exercises the lossy-buffer contract: once the
// buffer is full, further Add calls are silently dropped rather than
// blocking the (lock-free) reader that calls Add.
func TestAddDropsBeyondCapacity(t *testing.T) {
	b := New[entry]()
	for i := 0; i < bufferSize+8; i++ {
		b.Add(&entry{id: i})
	}

	var got []int
	b.Drain(func(e *entry) { got = append(got, e.id) })
	if len(got) != bufferSize {
		t.Fatalf("Drain returned %d entries; want exactly %d (the buffer's capacity)", len(got), bufferSize)
	}
	for i, v := range got {
		if v != i {
			t.Fatalf("got[%d] = %d; want %d (earliest adds kept, rest dropped)", i, v, i)
		}
	}
}
