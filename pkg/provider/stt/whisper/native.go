package whisper

// Building this file needs libwhisper.a and whisper.h on LIBRARY_PATH and
// C_INCLUDE_PATH.

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	whisperlib "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"

	"github.com/MrWong99/earshot/pkg/capture"
	"github.com/MrWong99/earshot/pkg/provider/stt"
)

// modelSampleRate is the only rate whisper.cpp accepts.
const modelSampleRate = 16000

var _ stt.Provider = (*NativeProvider)(nil)

// NativeProvider runs whisper.cpp in-process. The model is loaded once;
// every Transcribe call decodes on a context of its own, so calls may run
// concurrently.
type NativeProvider struct {
	model    whisperlib.Model
	language string
	prompt   string
	beamSize int
	threads  uint

	closeOnce sync.Once
	closeErr  error
}

// NativeOption configures a [NativeProvider].
type NativeOption func(*NativeProvider)

// WithNativeLanguage sets the spoken language, "en" by default.
func WithNativeLanguage(lang string) NativeOption {
	return func(p *NativeProvider) { p.language = lang }
}

// WithNativePrompt sets an initial prompt, as [WithPrompt] does for the
// server.
func WithNativePrompt(prompt string) NativeOption {
	return func(p *NativeProvider) { p.prompt = prompt }
}

// WithNativeBeamSize sets the beam-search width. Defaults to 5.
func WithNativeBeamSize(n int) NativeOption {
	return func(p *NativeProvider) { p.beamSize = n }
}

// WithNativeThreads sets the number of inference threads. Zero keeps the
// library default.
func WithNativeThreads(n uint) NativeOption {
	return func(p *NativeProvider) { p.threads = n }
}

// NewNative loads the ggml model at modelPath. Close releases it.
func NewNative(modelPath string, opts ...NativeOption) (*NativeProvider, error) {
	if modelPath == "" {
		return nil, errors.New("whisper: model path must not be empty")
	}
	model, err := whisperlib.New(modelPath)
	if err != nil {
		return nil, fmt.Errorf("whisper: load model %q: %w", modelPath, err)
	}

	p := &NativeProvider{
		model:    model,
		language: defaultLanguage,
		beamSize: 5,
	}
	for _, o := range opts {
		o(p)
	}
	slog.Info("whisper: model loaded", "path", modelPath, "language", p.language)
	return p, nil
}

// Close releases the whisper model.
func (p *NativeProvider) Close() error {
	p.closeOnce.Do(func() {
		if p.model != nil {
			p.closeErr = p.model.Close()
		}
	})
	return p.closeErr
}

// Transcribe resamples the prepared utterance to 16 kHz and decodes it.
// whisper.cpp cannot be interrupted, so ctx is only checked up front.
func (p *NativeProvider) Transcribe(ctx context.Context, samples []float32, sampleRate int) (string, error) {
	prepared, err := stt.Prepare(samples, sampleRate)
	if err != nil {
		return "", fmt.Errorf("whisper: %w", err)
	}
	if len(prepared) == 0 {
		return "", nil
	}
	if sampleRate != modelSampleRate {
		prepared = capture.Resample(prepared, sampleRate, modelSampleRate)
	}
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("whisper: %w", err)
	}
	start := time.Now()
	text, err := p.infer(prepared)
	if err != nil {
		return "", err
	}
	slog.Debug("whisper: transcribed in-process",
		"audio", time.Duration(len(prepared))*time.Second/modelSampleRate,
		"elapsed", time.Since(start),
		"chars", len(text),
	)
	return text, nil
}

func (p *NativeProvider) infer(samples []float32) (string, error) {
	wctx, err := p.model.NewContext()
	if err != nil {
		return "", fmt.Errorf("whisper: create context: %w", err)
	}
	if err := wctx.SetLanguage(p.language); err != nil {
		slog.Warn("whisper: language rejected, using model default", "language", p.language, "err", err)
	}
	if p.beamSize > 0 {
		wctx.SetBeamSize(p.beamSize)
	}
	if p.threads > 0 {
		wctx.SetThreads(p.threads)
	}
	if p.prompt != "" {
		wctx.SetInitialPrompt(p.prompt)
	}
	// Utterances are independent; earlier text must not condition decoding.
	wctx.SetMaxContext(0)

	if err := wctx.Process(samples, nil, nil, nil); err != nil {
		return "", fmt.Errorf("whisper: process audio: %w", err)
	}

	var parts []string
	for {
		segment, err := wctx.NextSegment()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", fmt.Errorf("whisper: read segment: %w", err)
		}
		if text := strings.TrimSpace(segment.Text); text != "" {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, " "), nil
}
