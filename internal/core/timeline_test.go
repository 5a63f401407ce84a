package core

import (
	"testing"
	"time"
)

// steppedClock is a manually advanced time source for driving Tick.
type steppedClock struct {
	now time.Time
}

func (c *steppedClock) fn() func() time.Time {
	return func() time.Time { return c.now }
}

func (c *steppedClock) advance(d time.Duration) { c.now = c.now.Add(d) }

func TestStateReplayRejectsOutOfOrder(t *testing.T) {
	replay := NewStateReplay[string]()
	if err := replay.Record("u1", testEpoch, "a"); err != nil {
		t.Fatalf("record: %v", err)
	}
	// Equal timestamps are allowed; only strictly earlier ones are rejected.
	if err := replay.Record("u1", testEpoch, "b"); err != nil {
		t.Fatalf("record equal timestamp: %v", err)
	}
	if err := replay.Record("u1", testEpoch.Add(-time.Second), "c"); err == nil {
		t.Fatal("out-of-order snapshot accepted")
	}
	if got := len(replay.Snapshots("u1")); got != 2 {
		t.Fatalf("stored %d snapshots, want 2", got)
	}
}

func TestStateAtClamps(t *testing.T) {
	replay := NewStateReplay[string]()
	t0 := testEpoch
	t1 := testEpoch.Add(time.Minute)
	t2 := testEpoch.Add(2 * time.Minute)
	if err := replay.Record("u1", t0, "first"); err != nil {
		t.Fatal(err)
	}
	if err := replay.Record("u1", t1, "middle"); err != nil {
		t.Fatal(err)
	}
	if err := replay.Record("u1", t2, "last"); err != nil {
		t.Fatal(err)
	}

	cases := []struct {
		name string
		at   time.Time
		want string
	}{
		{"before first clamps to first", t0.Add(-time.Hour), "first"},
		{"exact hit", t1, "middle"},
		{"between snapshots takes earlier", t1.Add(30 * time.Second), "middle"},
		{"after last clamps to last", t2.Add(time.Hour), "last"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := replay.StateAt("u1", tc.at)
			if !ok {
				t.Fatal("StateAt reported no data")
			}
			if got != tc.want {
				t.Fatalf("StateAt(%s) = %q, want %q", tc.at, got, tc.want)
			}
		})
	}

	if _, ok := replay.StateAt("unknown", t1); ok {
		t.Fatal("StateAt returned data for unknown entity")
	}
}

func TestStateReplayLoadSortsAndRange(t *testing.T) {
	replay := NewStateReplay[int]()
	replay.Load("u1", []Snapshot[int]{
		{Timestamp: testEpoch.Add(time.Minute), Data: 2},
		{Timestamp: testEpoch, Data: 1},
	})
	got, ok := replay.StateAt("u1", testEpoch.Add(30*time.Second))
	if !ok || got != 1 {
		t.Fatalf("StateAt = (%d, %v), want (1, true)", got, ok)
	}
	first, last, ok := replay.Range("u1")
	if !ok || !first.Equal(testEpoch) || !last.Equal(testEpoch.Add(time.Minute)) {
		t.Fatalf("Range = (%s, %s, %v)", first, last, ok)
	}
	if ids := replay.EntityIDs(); len(ids) != 1 || ids[0] != "u1" {
		t.Fatalf("EntityIDs = %v", ids)
	}
}

func TestTimelineTickAdvancesScaledBySpeed(t *testing.T) {
	clock := &steppedClock{now: testEpoch}
	tl := NewTimelineController(testEpoch, testEpoch.Add(10*time.Minute))
	tl.nowFn = clock.fn()

	tl.SetSpeed(2)
	tl.Play()
	clock.advance(30 * time.Second)
	current := tl.Tick()
	if want := testEpoch.Add(time.Minute); !current.Equal(want) {
		t.Fatalf("Tick advanced to %s, want %s (30s wall at 2x)", current, want)
	}
}

func TestTimelineTickLoopsAtEnd(t *testing.T) {
	clock := &steppedClock{now: testEpoch}
	tl := NewTimelineController(testEpoch, testEpoch.Add(time.Minute))
	tl.nowFn = clock.fn()

	tl.Play()
	clock.advance(2 * time.Minute)
	current := tl.Tick()
	if !current.Equal(testEpoch) {
		t.Fatalf("Tick past end = %s, want loop back to start %s", current, testEpoch)
	}
}

func TestTimelineTickNoopWhilePaused(t *testing.T) {
	clock := &steppedClock{now: testEpoch}
	tl := NewTimelineController(testEpoch, testEpoch.Add(time.Minute))
	tl.nowFn = clock.fn()

	clock.advance(30 * time.Second)
	if current := tl.Tick(); !current.Equal(testEpoch) {
		t.Fatalf("paused Tick moved to %s", current)
	}
	if tl.IsPlaying() {
		t.Fatal("controller playing without Play")
	}
}

func TestTimelineSeekClamps(t *testing.T) {
	start := testEpoch
	end := testEpoch.Add(time.Hour)
	tl := NewTimelineController(start, end)

	if got := tl.Seek(start.Add(-time.Hour)); !got.Equal(start) {
		t.Fatalf("Seek before window = %s, want clamp to %s", got, start)
	}
	if got := tl.Seek(end.Add(time.Hour)); !got.Equal(end) {
		t.Fatalf("Seek past window = %s, want clamp to %s", got, end)
	}
	if got := tl.SeekProgress(0.5); !got.Equal(start.Add(30 * time.Minute)) {
		t.Fatalf("SeekProgress(0.5) = %s", got)
	}
	if got := tl.SeekProgress(-1); !got.Equal(start) {
		t.Fatalf("SeekProgress(-1) = %s, want start", got)
	}
	if got := tl.SeekProgress(2); !got.Equal(end) {
		t.Fatalf("SeekProgress(2) = %s, want end", got)
	}
}

func TestTimelineSetSpeedClamps(t *testing.T) {
	tl := NewTimelineController(testEpoch, testEpoch.Add(time.Hour))
	if got := tl.SetSpeed(0); got != MinPlaybackSpeed {
		t.Fatalf("SetSpeed(0) = %v, want %v", got, MinPlaybackSpeed)
	}
	if got := tl.SetSpeed(100); got != MaxPlaybackSpeed {
		t.Fatalf("SetSpeed(100) = %v, want %v", got, MaxPlaybackSpeed)
	}
	if got := tl.SetSpeed(4); got != 4 {
		t.Fatalf("SetSpeed(4) = %v", got)
	}
	state := tl.State()
	if state.Speed != 4 || state.IsPlaying {
		t.Fatalf("State = %+v", state)
	}
}

func TestTimelineSwappedRangeNormalized(t *testing.T) {
	end := testEpoch
	start := testEpoch.Add(time.Hour)
	tl := NewTimelineController(start, end)
	state := tl.State()
	if state.StartTime.After(state.EndTime) {
		t.Fatalf("range not normalized: %+v", state)
	}
	tl.SetRange(state.EndTime, state.StartTime)
	if got := tl.State(); got.StartTime.After(got.EndTime) {
		t.Fatalf("SetRange not normalized: %+v", got)
	}
}

func TestPlaybackClockLocksInteraction(t *testing.T) {
	interaction := NewInteractionController(ModeForensic)
	clock := NewPlaybackClock(NewTimelineController(testEpoch, testEpoch.Add(time.Hour)), interaction)

	clock.Play()
	if interaction.State() != StateLocked {
		t.Fatalf("interaction state = %s, want locked during playback", interaction.State())
	}
	if interaction.CanMutate() {
		t.Fatal("mutation permitted during playback")
	}
	if !clock.Timeline().IsPlaying() {
		t.Fatal("timeline not playing")
	}

	clock.Pause()
	if interaction.State() != StateIdle {
		t.Fatalf("interaction state = %s, want idle after pause", interaction.State())
	}
	if clock.Timeline().IsPlaying() {
		t.Fatal("timeline still playing after pause")
	}
}
