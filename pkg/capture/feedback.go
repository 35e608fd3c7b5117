package capture

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"
)

// meterWidth is the number of cells in the level bar.
const meterWidth = 50

// Compile-time assertion that TerminalMeter satisfies Observer.
var _ Observer = (*TerminalMeter)(nil)

// TerminalMeter is an [Observer] that draws a single-line level meter,
// overwritten in place with a carriage return:
//
//	[SPEECH] |#########-----------------------------------------| 0.183
//
// Write errors are ignored; the meter is purely cosmetic.
type TerminalMeter struct {
	mu sync.Mutex
	w  io.Writer
}

// NewTerminalMeter returns a meter that writes to w, typically os.Stdout.
func NewTerminalMeter(w io.Writer) *TerminalMeter {
	return &TerminalMeter{w: w}
}

// RecordingStarted implements [Observer].
func (m *TerminalMeter) RecordingStarted(maxSeconds, silenceSeconds float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	fmt.Fprintf(m.w, "\n>>> Recording... (max %gs, silence %gs to stop)\n>>> Speak now!\n\n", maxSeconds, silenceSeconds)
}

// LevelChanged implements [Observer].
func (m *TerminalMeter) LevelChanged(l Level) {
	m.mu.Lock()
	defer m.mu.Unlock()
	fmt.Fprint(m.w, FormatMeter(l))
}

// RecordingStopped implements [Observer].
func (m *TerminalMeter) RecordingStopped(time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	fmt.Fprint(m.w, "\n\n")
}

// FormatMeter renders l as one meter line, starting with a carriage return.
// One bar is drawn per 0.02 of smoothed RMS.
func FormatMeter(l Level) string {
	bars := min(max(int(l.SmoothedRMS*meterWidth), 0), meterWidth)
	tag := "[      ]"
	if l.SpeechDetected {
		tag = "[SPEECH]"
	}
	return fmt.Sprintf("\r  %s |%s%s| %.3f", tag,
		strings.Repeat("#", bars), strings.Repeat("-", meterWidth-bars), l.SmoothedRMS)
}
