package core

import (
	"fmt"
	"sort"
	"time"
)

// Snapshot pairs a payload with the instant it was recorded.
type Snapshot[T any] struct {
	Timestamp time.Time `json:"timestamp"`
	Data      T         `json:"data"`
}

// StateReplay stores chronologically-appended snapshots per tracked entity
// and answers point-in-time queries for forensic review. Snapshot sequences
// are never mutated after insertion except by bulk replace via Load.
type StateReplay[T any] struct {
	byEntity map[string][]Snapshot[T]
}

// NewStateReplay constructs an empty replay store.
func NewStateReplay[T any]() *StateReplay[T] {
	return &StateReplay[T]{byEntity: make(map[string][]Snapshot[T])}
}

// Record appends a snapshot for entityID. Timestamps must be non-decreasing
// per entity; an out-of-order snapshot is rejected so the stored sequence
// stays binary-searchable.
func (r *StateReplay[T]) Record(entityID string, ts time.Time, data T) error {
	seq := r.byEntity[entityID]
	if n := len(seq); n > 0 && ts.Before(seq[n-1].Timestamp) {
		return fmt.Errorf("snapshot for %s at %s precedes last recorded %s", entityID, ts, seq[n-1].Timestamp)
	}
	r.byEntity[entityID] = append(seq, Snapshot[T]{Timestamp: ts, Data: data})
	return nil
}

// Load bulk-replaces the snapshot sequence for entityID, sorting by timestamp.
func (r *StateReplay[T]) Load(entityID string, snapshots []Snapshot[T]) {
	seq := append([]Snapshot[T](nil), snapshots...)
	sort.SliceStable(seq, func(i, j int) bool { return seq[i].Timestamp.Before(seq[j].Timestamp) })
	r.byEntity[entityID] = seq
}

// StateAt returns the data of the latest snapshot at or before ts. Queries
// are clamped: before the first snapshot the first is returned, after the
// last the last is returned. ok is false only when the entity has no
// snapshots at all; the store never extrapolates and never errors on
// out-of-range queries.
func (r *StateReplay[T]) StateAt(entityID string, ts time.Time) (T, bool) {
	var zero T
	seq := r.byEntity[entityID]
	if len(seq) == 0 {
		return zero, false
	}
	// First index whose timestamp is strictly after ts.
	i := sort.Search(len(seq), func(i int) bool { return seq[i].Timestamp.After(ts) })
	if i == 0 {
		return seq[0].Data, true
	}
	return seq[i-1].Data, true
}

// Snapshots returns a copy of the stored sequence for entityID.
func (r *StateReplay[T]) Snapshots(entityID string) []Snapshot[T] {
	seq := r.byEntity[entityID]
	out := make([]Snapshot[T], len(seq))
	copy(out, seq)
	return out
}

// Range returns the first and last snapshot timestamps for entityID.
func (r *StateReplay[T]) Range(entityID string) (first, last time.Time, ok bool) {
	seq := r.byEntity[entityID]
	if len(seq) == 0 {
		return time.Time{}, time.Time{}, false
	}
	return seq[0].Timestamp, seq[len(seq)-1].Timestamp, true
}

// EntityIDs returns the IDs of all entities with recorded snapshots, sorted.
func (r *StateReplay[T]) EntityIDs() []string {
	out := make([]string, 0, len(r.byEntity))
	for id := range r.byEntity {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Playback speed bounds for the timeline controller.
const (
	MinPlaybackSpeed = 0.25
	MaxPlaybackSpeed = 16.0
)

// TimelineController owns the playback clock for forensic review. All
// advancement happens in Tick, driven by the caller's periodic update loop;
// nothing here runs concurrently.
type TimelineController struct {
	start    time.Time
	end      time.Time
	current  time.Time
	playing  bool
	speed    float64
	lastTick time.Time
	nowFn    func() time.Time
}

// NewTimelineController constructs a controller over [start, end] positioned
// at start with speed 1.
func NewTimelineController(start, end time.Time) *TimelineController {
	if end.Before(start) {
		start, end = end, start
	}
	return &TimelineController{
		start:   start,
		end:     end,
		current: start,
		speed:   1,
		nowFn:   func() time.Time { return time.Now().UTC() },
	}
}

// State returns the externally visible playback state for a scrubber UI.
func (t *TimelineController) State() TimelineState {
	return TimelineState{
		StartTime:   t.start,
		EndTime:     t.end,
		CurrentTime: t.current,
		IsPlaying:   t.playing,
		Speed:       t.speed,
	}
}

// SetRange replaces the playback window, clamping the current position into
// the new bounds.
func (t *TimelineController) SetRange(start, end time.Time) {
	if end.Before(start) {
		start, end = end, start
	}
	t.start = start
	t.end = end
	t.current = clampTime(t.current, start, end)
}

// Play starts advancing the clock on subsequent Ticks.
func (t *TimelineController) Play() {
	if t.playing {
		return
	}
	t.playing = true
	t.lastTick = t.nowFn()
}

// Pause halts advancement, keeping the current position.
func (t *TimelineController) Pause() {
	t.playing = false
}

// IsPlaying reports whether the clock advances on Tick.
func (t *TimelineController) IsPlaying() bool { return t.playing }

// Tick advances the current position by the wall-clock time elapsed since the
// previous tick, scaled by speed. Reaching the end loops back to the start.
// Tick is a no-op while paused.
func (t *TimelineController) Tick() time.Time {
	if !t.playing {
		return t.current
	}
	now := t.nowFn()
	elapsed := now.Sub(t.lastTick)
	t.lastTick = now
	if elapsed <= 0 || t.end.Equal(t.start) {
		return t.current
	}
	advance := time.Duration(float64(elapsed) * t.speed)
	next := t.current.Add(advance)
	if !next.Before(t.end) {
		next = t.start
	}
	t.current = next
	return t.current
}

// Seek jumps directly to ts, clamped to the playback window.
func (t *TimelineController) Seek(ts time.Time) time.Time {
	t.current = clampTime(ts, t.start, t.end)
	return t.current
}

// SeekProgress jumps to a fractional position in [0,1] across the window.
func (t *TimelineController) SeekProgress(p float64) time.Time {
	if p < 0 {
		p = 0
	}
	if p > 1 {
		p = 1
	}
	offset := time.Duration(p * float64(t.end.Sub(t.start)))
	return t.Seek(t.start.Add(offset))
}

// SetSpeed sets the playback speed, clamped to the configured range.
func (t *TimelineController) SetSpeed(speed float64) float64 {
	if speed < MinPlaybackSpeed {
		speed = MinPlaybackSpeed
	}
	if speed > MaxPlaybackSpeed {
		speed = MaxPlaybackSpeed
	}
	t.speed = speed
	return t.speed
}

// PlaybackClock bridges the timeline to the interaction controller: while
// playback is active, interaction is forced to locked; pausing returns it to
// idle. This is the sole mechanism preventing mutating interaction during
// replay.
type PlaybackClock struct {
	timeline    *TimelineController
	interaction *InteractionController
}

// NewPlaybackClock couples a timeline with an interaction controller.
func NewPlaybackClock(timeline *TimelineController, interaction *InteractionController) *PlaybackClock {
	return &PlaybackClock{timeline: timeline, interaction: interaction}
}

// Play starts playback and locks interaction.
func (p *PlaybackClock) Play() {
	p.timeline.Play()
	p.interaction.Lock("forensic playback active")
}

// Pause stops playback and releases interaction back to idle.
func (p *PlaybackClock) Pause() {
	p.timeline.Pause()
	p.interaction.Unlock("forensic playback paused")
}

// Tick advances the timeline; call it from the caller's periodic update loop.
func (p *PlaybackClock) Tick() time.Time {
	return p.timeline.Tick()
}

// Timeline exposes the underlying controller for scrubber queries.
func (p *PlaybackClock) Timeline() *TimelineController { return p.timeline }

func clampTime(ts, start, end time.Time) time.Time {
	if ts.Before(start) {
		return start
	}
	if ts.After(end) {
		return end
	}
	return ts
}
