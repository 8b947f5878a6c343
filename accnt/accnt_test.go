package accnt

import "testing"

func TestUtaddAndSystaddAccumulate(t *testing.T) {
	a := &Accnt_t{}
	a.Utadd(100)
	a.Utadd(50)
	a.Systadd(10)
	if a.Userns != 150 {
		t.Fatalf("Userns = %d, want 150", a.Userns)
	}
	if a.Sysns != 10 {
		t.Fatalf("Sysns = %d, want 10", a.Sysns)
	}
}

func TestAddMergesBothCounters(t *testing.T) {
	a := &Accnt_t{Userns: 100, Sysns: 20}
	b := &Accnt_t{Userns: 5, Sysns: 7}
	a.Add(b)
	if a.Userns != 105 {
		t.Fatalf("Userns = %d, want 105", a.Userns)
	}
	if a.Sysns != 27 {
		t.Fatalf("Sysns = %d, want 27", a.Sysns)
	}
}

func TestFinishAddsElapsedSystemTime(t *testing.T) {
	a := &Accnt_t{}
	start := a.Now()
	a.Finish(start)
	if a.Sysns < 0 {
		t.Fatalf("Sysns = %d, want >= 0 after Finish", a.Sysns)
	}
}

func TestIoTimeAndSleepTimeSubtractFromSystemTime(t *testing.T) {
	a := &Accnt_t{Sysns: 1_000_000}
	since := a.Now()
	a.Io_time(since)
	if a.Sysns > 1_000_000 {
		t.Fatalf("Io_time should not increase Sysns, got %d", a.Sysns)
	}

	b := &Accnt_t{Sysns: 1_000_000}
	since2 := b.Now()
	b.Sleep_time(since2)
	if b.Sysns > 1_000_000 {
		t.Fatalf("Sleep_time should not increase Sysns, got %d", b.Sysns)
	}
}

func TestToRusageEncodesUserAndSystemTime(t *testing.T) {
	a := &Accnt_t{Userns: 2_500_000_000, Sysns: 3_000_000}
	buf := a.To_rusage()
	if len(buf) != 32 {
		t.Fatalf("To_rusage length = %d, want 32 (4 8-byte words)", len(buf))
	}
}

func TestFetchReturnsSameEncodingAsToRusage(t *testing.T) {
	a := &Accnt_t{Userns: 42, Sysns: 7}
	got := a.Fetch()
	want := a.To_rusage()
	if len(got) != len(want) {
		t.Fatalf("Fetch length = %d, want %d", len(got), len(want))
	}
	for i := range got {
		if got[i] != want[i] {
			t.Fatalf("Fetch()[%d] = %d, want %d", i, got[i], want[i])
		}
	}
}
