// Package app wires the earshot subsystems into a running voice assistant.
//
// The App struct owns the interaction loop: wait for the wake word, record
// the spoken command, transcribe it, ask the language model, synthesise the
// reply and play it back. New checks that every stage is present, Run loops
// until the context is cancelled, and Shutdown releases what was handed to
// the App in reverse order.
//
// For testing, every stage is an interface; pass mocks in [Providers].
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/earshot/internal/config"
	"github.com/MrWong99/earshot/internal/observe"
	"github.com/MrWong99/earshot/pkg/audio"
	"github.com/MrWong99/earshot/pkg/capture"
	"github.com/MrWong99/earshot/pkg/provider/llm"
	"github.com/MrWong99/earshot/pkg/provider/stt"
	"github.com/MrWong99/earshot/pkg/provider/tts"
	"github.com/MrWong99/earshot/pkg/provider/wakeword"
)

// wakeBackoff is the pause after a failed wake-word wait.
const wakeBackoff = time.Second

// Recorder records one spoken command. [capture.Service] satisfies it.
type Recorder interface {
	RecordWithFeedback(ctx context.Context, maxSeconds, silenceThreshold, silenceSeconds float64, obs capture.Observer) ([]float32, error)
	TargetRate() int
	SetGain(g float64)
}

// WakeListener blocks until the wake word is heard. [wakeword.Listener]
// satisfies it.
type WakeListener interface {
	Wait(ctx context.Context) (wakeword.Detection, error)
}

// Providers holds one interface value per pipeline stage. All are required.
// Populated by main.go via the config registry.
type Providers struct {
	Capture  Recorder
	Wakeword WakeListener
	STT      stt.Provider
	LLM      llm.Provider
	TTS      tts.Provider
	Output   audio.OutputDevice
}

// App owns the assistant loop and the lifetime of everything registered
// with [WithCloser].
type App struct {
	cfg       *config.Config
	providers Providers

	metrics  *observe.Metrics
	console  io.Writer
	levelVar *slog.LevelVar
	newID    func() string

	session *Session

	// mu guards the hot-reloadable parts of cfg.
	mu sync.RWMutex

	// closers are called in reverse order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New.
type Option func(*App)

// WithMetrics records interaction and provider metrics on m.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithConsole sets where the user-facing transcript and level meter are
// written. Default: os.Stdout.
func WithConsole(w io.Writer) Option {
	return func(a *App) { a.console = w }
}

// WithLevelVar lets [App.ApplyConfig] change the log level at runtime.
func WithLevelVar(v *slog.LevelVar) Option {
	return func(a *App) { a.levelVar = v }
}

// WithCloser registers a function to run during Shutdown. Closers run in
// reverse registration order.
func WithCloser(fn func() error) Option {
	return func(a *App) { a.closers = append(a.closers, fn) }
}

// withIDGenerator replaces uuid generation in tests.
func withIDGenerator(fn func() string) Option {
	return func(a *App) { a.newID = fn }
}

// New creates an App from cfg and the given pipeline stages.
func New(cfg *config.Config, providers Providers, opts ...Option) (*App, error) {
	if cfg == nil {
		return nil, errors.New("app: config is required")
	}
	var missing []string
	for name, ok := range map[string]bool{
		"capture":  providers.Capture != nil,
		"wakeword": providers.Wakeword != nil,
		"stt":      providers.STT != nil,
		"llm":      providers.LLM != nil,
		"tts":      providers.TTS != nil,
		"output":   providers.Output != nil,
	} {
		if !ok {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		slices.Sort(missing)
		return nil, fmt.Errorf("app: missing providers: %s", strings.Join(missing, ", "))
	}

	c := *cfg
	a := &App{
		cfg:       &c,
		providers: providers,
		console:   os.Stdout,
		newID:     uuid.NewString,
	}
	for _, o := range opts {
		o(a)
	}
	a.session = newSession(a.newID())
	return a, nil
}

// Session returns the running session's statistics.
func (a *App) Session() *Session { return a.session }

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run executes interactions until ctx is cancelled and returns ctx.Err().
//
// Provider failures end the current interaction and are logged; the loop
// keeps going. A failed wake-word wait is retried after a short back-off.
// Run returns early only when the capture service has been closed.
func (a *App) Run(ctx context.Context) error {
	slog.Info("assistant running",
		"session", a.session.ID(),
		"stt", a.cfg.STT.Provider,
		"llm", a.cfg.LLM.Provider+"/"+a.cfg.LLM.Model,
		"tts", a.cfg.TTS.Provider,
	)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		_, err := a.Interact(ctx)
		switch {
		case err == nil:
		case ctx.Err() != nil:
			return ctx.Err()
		case errors.Is(err, capture.ErrClosed):
			return fmt.Errorf("app: %w", err)
		default:
			slog.Warn("wake-word listener failed, retrying", "err", err, "backoff", wakeBackoff)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(wakeBackoff):
			}
		}
	}
}

// Result describes one finished interaction.
type Result struct {
	ID         string
	Keyword    string
	Transcript string
	Reply      string
	Outcome    string
	Duration   time.Duration
}

// Interact runs one interaction. The returned error is non-nil only when no
// wake word was detected; once the wake word has been heard, every failure is
// reported through Result.Outcome and logged.
func (a *App) Interact(ctx context.Context) (Result, error) {
	det, err := a.providers.Wakeword.Wait(ctx)
	if err != nil {
		return Result{}, err
	}

	res := Result{ID: a.newID(), Keyword: det.Keyword}
	start := time.Now()

	ctx, span := observe.StartInteraction(ctx, res.ID, det.Keyword, det.Score)
	log := observe.Logger(ctx).With("interaction", res.ID)

	if a.metrics != nil {
		a.metrics.RecordWakeword(ctx, det.Keyword)
	}
	log.Info("wake word detected", "keyword", det.Keyword, "score", det.Score)

	res.Outcome = a.converse(ctx, log, &res)
	res.Duration = time.Since(start)

	observe.EndInteraction(span, res.Outcome)
	if a.metrics != nil {
		a.metrics.RecordInteraction(ctx, res.Outcome, res.Duration)
	}
	a.session.record(res)
	log.Info("interaction finished", "outcome", res.Outcome, "duration", res.Duration)
	return res, nil
}

// converse runs the stages after the wake word and returns the outcome.
func (a *App) converse(ctx context.Context, log *slog.Logger, res *Result) string {
	audioCfg := a.audioConfig()
	rate := a.providers.Capture.TargetRate()

	samples, err := a.providers.Capture.RecordWithFeedback(ctx,
		audioCfg.MaxRecordSeconds, audioCfg.SilenceThreshold, audioCfg.SilenceDuration,
		capture.NewTerminalMeter(a.console))
	switch {
	case err == nil:
	case ctx.Err() != nil:
		return observe.OutcomeCancelled
	case errors.Is(err, capture.ErrDevice) && len(samples) > 0:
		log.Warn("device error while recording, using captured audio", "err", err)
	default:
		log.Error("recording failed", "err", err)
		return observe.OutcomeNoSpeech
	}
	if len(samples) < rate/2 {
		log.Info("no command recorded", "samples", len(samples))
		return observe.OutcomeNoSpeech
	}

	// ── STT ──────────────────────────────────────────────────────────────
	text, err := a.transcribe(ctx, samples, rate)
	switch {
	case errors.Is(err, stt.ErrTooShort):
		log.Info("command too short to transcribe")
		return observe.OutcomeNoSpeech
	case err != nil:
		if ctx.Err() != nil {
			return observe.OutcomeCancelled
		}
		log.Error("transcription failed", "err", err)
		return observe.OutcomeSTTError
	}
	res.Transcript = strings.TrimSpace(text)
	if res.Transcript == "" {
		fmt.Fprintln(a.console, "(nothing recognised)")
		return observe.OutcomeEmpty
	}
	fmt.Fprintf(a.console, "You: %s\n", res.Transcript)

	// ── LLM ──────────────────────────────────────────────────────────────
	reply, err := a.complete(ctx, res.Transcript)
	if err != nil {
		if ctx.Err() != nil {
			return observe.OutcomeCancelled
		}
		log.Error("language model failed", "err", err)
		return observe.OutcomeLLMError
	}
	res.Reply = reply
	fmt.Fprintf(a.console, "Assistant: %s\n", reply)

	// ── TTS ──────────────────────────────────────────────────────────────
	clip, err := a.synthesize(ctx, reply)
	if err != nil {
		if ctx.Err() != nil {
			return observe.OutcomeCancelled
		}
		log.Error("speech synthesis failed", "err", err)
		return observe.OutcomeTTSError
	}

	// ── Playback ─────────────────────────────────────────────────────────
	start := time.Now()
	err = a.providers.Output.Play(ctx, clip)
	if a.metrics != nil {
		a.metrics.PlaybackDuration.Record(ctx, time.Since(start).Seconds())
	}
	if err != nil {
		if ctx.Err() != nil {
			return observe.OutcomeCancelled
		}
		log.Error("playback failed", "err", err)
		return observe.OutcomePlayError
	}
	return observe.OutcomeAnswered
}

func (a *App) transcribe(ctx context.Context, samples []float32, rate int) (string, error) {
	ctx, span := observe.StartSpan(ctx, "stt.transcribe")
	defer span.End()

	start := time.Now()
	text, err := a.providers.STT.Transcribe(ctx, samples, rate)
	a.recordCall(ctx, "stt", a.cfg.STT.Provider, start, err)
	return text, err
}

func (a *App) complete(ctx context.Context, text string) (string, error) {
	a.mu.RLock()
	llmCfg := a.cfg.LLM
	a.mu.RUnlock()

	ctx, span := observe.StartSpan(ctx, "llm.complete",
		trace.WithAttributes(attribute.String("llm.model", llmCfg.Model)))
	defer span.End()
	if llmCfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, llmCfg.Timeout)
		defer cancel()
	}

	start := time.Now()
	resp, err := a.providers.LLM.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: llmCfg.SystemPrompt,
		Messages:     []llm.Message{{Role: llm.RoleUser, Content: text}},
		Temperature:  llmCfg.Temperature,
		MaxTokens:    llmCfg.MaxTokens,
	})
	var reply string
	if err == nil && resp != nil {
		reply = llm.SpokenText(resp.Content)
	}
	if err == nil && reply == "" {
		err = llm.ErrEmptyResponse
	}
	a.recordCall(ctx, "llm", llmCfg.Provider, start, err)
	if err != nil {
		return "", err
	}
	span.SetAttributes(attribute.Int("llm.completion_tokens", resp.Usage.CompletionTokens))
	return reply, nil
}

func (a *App) synthesize(ctx context.Context, text string) (audio.Clip, error) {
	a.mu.RLock()
	ttsCfg := a.cfg.TTS
	a.mu.RUnlock()

	ctx, span := observe.StartSpan(ctx, "tts.synthesize")
	defer span.End()
	if ttsCfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, ttsCfg.Timeout)
		defer cancel()
	}

	voice := tts.VoiceProfile{
		ID:          strconv.Itoa(ttsCfg.SpeakerID),
		Provider:    ttsCfg.Provider,
		SpeedFactor: ttsCfg.Speed,
	}
	start := time.Now()
	clip, err := a.providers.TTS.Synthesize(ctx, text, voice)
	a.recordCall(ctx, "tts", ttsCfg.Provider, start, err)
	return clip, err
}

// recordCall records provider metrics for one call. A too-short utterance is
// not a provider failure.
func (a *App) recordCall(ctx context.Context, kind, provider string, start time.Time, err error) {
	if a.metrics == nil {
		return
	}
	var h metric.Float64Histogram
	switch kind {
	case "stt":
		h = a.metrics.STTDuration
	case "llm":
		h = a.metrics.LLMDuration
	case "tts":
		h = a.metrics.TTSDuration
	}
	if errors.Is(err, stt.ErrTooShort) {
		err = nil
	}
	a.metrics.RecordProviderCall(ctx, h, provider, kind, time.Since(start), err)
}

func (a *App) audioConfig() config.AudioConfig {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.cfg.Audio
}

// ─── Hot reload ──────────────────────────────────────────────────────────────

// ApplyConfig applies the hot-reloadable parts of a reloaded config: the log
// level and the input gain. Sections that need a restart are logged and left
// alone.
//
// It is meant to be the [config.Watcher] callback.
func (a *App) ApplyConfig(old, updated *config.Config) {
	diff := config.Diff(old, updated)
	if diff.Empty() {
		return
	}
	if diff.LogLevelChanged && a.levelVar != nil {
		a.levelVar.Set(SlogLevel(diff.NewLogLevel))
		slog.Info("log level changed", "level", diff.NewLogLevel)
	}
	if diff.GainChanged {
		a.providers.Capture.SetGain(diff.NewGain)
		slog.Info("input gain changed", "gain", diff.NewGain)
	}

	a.mu.Lock()
	a.cfg.Server.LogLevel = updated.Server.LogLevel
	a.cfg.Audio.InputGain = updated.Audio.InputGain
	a.mu.Unlock()

	if len(diff.RestartRequired) > 0 {
		slog.Warn("config changes need a restart to take effect", "sections", diff.RestartRequired)
	}
}

// SlogLevel maps a config log level onto slog. Unknown levels map to Info.
func SlogLevel(l config.LogLevel) slog.Level {
	switch l {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown runs the registered closers in reverse order. It respects the
// context deadline: if ctx expires before all closers finish, remaining
// closers are skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers),
			"interactions", a.session.Snapshot().Interactions)

		var errs []error
		for i := len(a.closers) - 1; i >= 0; i-- {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", i+1)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := a.closers[i](); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
				errs = append(errs, err)
			}
		}
		shutdownErr = errors.Join(errs...)
		slog.Info("shutdown complete")
	})
	return shutdownErr
}
