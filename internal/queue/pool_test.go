package queue

import "testing"

func TestGetScratch_Size(t *testing.T) {
	buf := GetScratch()
	if len(buf) != ScratchSize {
		t.Fatalf("GetScratch() returned len=%d, want %d", len(buf), ScratchSize)
	}
	PutScratch(buf)
}

func TestScratchPool_Reuse(t *testing.T) {
	buf1 := GetScratch()
	ptr1 := &buf1[0]
	PutScratch(buf1)

	buf2 := GetScratch()
	ptr2 := &buf2[0]
	PutScratch(buf2)

	if ptr1 == ptr2 {
		t.Log("scratch buffer was reused from the pool")
	} else {
		t.Log("scratch buffer was not reused (sync.Pool GC behavior)")
	}
}

func TestPutScratch_NonStandardCap(t *testing.T) {
	buf := make([]byte, 100)
	PutScratch(buf) // must not panic
}

func BenchmarkGetScratch(b *testing.B) {
	for i := 0; i < b.N; i++ {
		buf := GetScratch()
		PutScratch(buf)
	}
}
