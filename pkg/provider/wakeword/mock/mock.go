// Package mock provides test doubles for the wakeword package interfaces.
//
// Use Detector to script when a detection fires and to inspect the frames and
// VAD verdicts the listener fed it. Use Source to replay canned frames in
// place of a capture service.
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/earshot/pkg/provider/vad"
	"github.com/MrWong99/earshot/pkg/provider/wakeword"
)

// ProcessCall records a single invocation of Detector.Process.
type ProcessCall struct {
	// Frame is a copy of the frame passed to Process.
	Frame []int16
	// Event is the VAD verdict passed to Process.
	Event vad.VADEvent
}

// Detector is a mock implementation of wakeword.Detector.
type Detector struct {
	mu sync.Mutex

	// DetectAfter makes the Nth Process call (1-based, counted since the last
	// Reset) return Detection. Zero never detects.
	DetectAfter int

	// Detection is returned when DetectAfter is reached.
	Detection wakeword.Detection

	// Err, if non-nil, is returned by every Process call.
	Err error

	// Score is returned by PartialScore.
	Score float64

	// ProcessCalls records every call to Process since the last Reset.
	ProcessCalls []ProcessCall

	// ResetCallCount is the number of times Reset was called.
	ResetCallCount int
}

// Process records the call and returns the scripted result.
func (d *Detector) Process(_ context.Context, frame []int16, ev vad.VADEvent) (*wakeword.Detection, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	cp := make([]int16, len(frame))
	copy(cp, frame)
	d.ProcessCalls = append(d.ProcessCalls, ProcessCall{Frame: cp, Event: ev})
	if d.Err != nil {
		return nil, d.Err
	}
	if d.DetectAfter > 0 && len(d.ProcessCalls) == d.DetectAfter {
		det := d.Detection
		return &det, nil
	}
	return nil, nil
}

// Reset clears recorded Process calls and counts the reset.
func (d *Detector) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.ProcessCalls = nil
	d.ResetCallCount++
}

// PartialScore returns Score.
func (d *Detector) PartialScore() float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.Score
}

// Calls returns a copy of the recorded Process calls. Thread-safe.
func (d *Detector) Calls() []ProcessCall {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]ProcessCall(nil), d.ProcessCalls...)
}

var (
	_ wakeword.Detector      = (*Detector)(nil)
	_ wakeword.PartialScorer = (*Detector)(nil)
)

// Source is a mock implementation of wakeword.Source. Frames are returned in
// order; once exhausted, RecordSamples returns zero-filled frames, the way a
// starved capture service pads.
type Source struct {
	mu sync.Mutex

	// Frames are returned by successive RecordSamples calls.
	Frames [][]int16

	// Errs, when non-empty, are returned alongside successive frames.
	Errs []error

	// ResetCallCount is the number of ResetStreamPosition calls.
	ResetCallCount int

	// RecordCalls is the number of RecordSamples calls.
	RecordCalls int
}

// ResetStreamPosition counts the call.
func (s *Source) ResetStreamPosition() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ResetCallCount++
}

// RecordSamples returns the next scripted frame, resized to n.
func (s *Source) RecordSamples(ctx context.Context, n int) ([]int16, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.RecordCalls++
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make([]int16, n)
	if len(s.Frames) > 0 {
		copy(out, s.Frames[0])
		s.Frames = s.Frames[1:]
	}
	var err error
	if len(s.Errs) > 0 {
		err = s.Errs[0]
		s.Errs = s.Errs[1:]
	}
	return out, err
}

var _ wakeword.Source = (*Source)(nil)
