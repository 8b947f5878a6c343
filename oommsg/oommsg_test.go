package oommsg

import "testing"

func TestOomChDeliversASend(t *testing.T) {
	select {
	case OomCh <- Oommsg_t{Need: 7}:
	default:
		t.Fatal("buffered send to an empty OomCh should not block")
	}

	select {
	case got := <-OomCh:
		if got.Need != 7 {
			t.Fatalf("Need = %d, want 7", got.Need)
		}
	default:
		t.Fatal("expected a pending message on OomCh")
	}
}

func TestOomChSendIsDroppedWhenBufferIsFull(t *testing.T) {
	for len(OomCh) > 0 {
		<-OomCh
	}
	OomCh <- Oommsg_t{Need: 1}

	select {
	case OomCh <- Oommsg_t{Need: 2}:
		t.Fatal("a second non-blocking send into a full buffered channel should not succeed")
	default:
	}

	got := <-OomCh
	if got.Need != 1 {
		t.Fatalf("Need = %d, want 1 (the first send should have been kept)", got.Need)
	}
}
