// Package whisper provides whisper.cpp-backed STT providers.
//
// Two flavours are available:
//
//   - [Provider] talks to a running whisper-server binary through its REST
//     API (POST /inference). No CGO is required.
//   - [NativeProvider] links whisper.cpp directly through its Go bindings and
//     runs inference in-process.
//
// Both run [stt.Prepare] on every utterance first, so the model only sees
// trimmed, peak-normalised speech.
//
// Usage:
//
//	p, err := whisper.New("http://localhost:8080", whisper.WithLanguage("ja"))
//	text, err := p.Transcribe(ctx, samples, 16000)
package whisper

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/MrWong99/earshot/pkg/audio"
	"github.com/MrWong99/earshot/pkg/provider/stt"
)

// defaultLanguage applies to both providers unless overridden.
const defaultLanguage = "en"

var _ stt.Provider = (*Provider)(nil)

// Option configures a [Provider].
type Option func(*Provider)

// WithModel names the model whisper-server should use, e.g. "base.en". By
// default the server keeps the model it was started with.
func WithModel(model string) Option {
	return func(p *Provider) { p.model = model }
}

// WithLanguage sets the spoken language ("en" by default). "auto" lets the
// server detect it.
func WithLanguage(lang string) Option {
	return func(p *Provider) { p.language = lang }
}

// WithPrompt passes an initial prompt that biases decoding towards the
// given vocabulary, for example the names of devices the user talks about.
func WithPrompt(prompt string) Option {
	return func(p *Provider) { p.prompt = prompt }
}

// WithHTTPClient replaces the default client, which times out after 30s.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) { p.httpClient = c }
}

// Provider transcribes through a whisper-server's POST /inference endpoint.
type Provider struct {
	endpoint   string
	model      string
	language   string
	prompt     string
	httpClient *http.Client
}

// New returns a Provider for the whisper-server at serverURL, e.g.
// "http://localhost:8080".
func New(serverURL string, opts ...Option) (*Provider, error) {
	if serverURL == "" {
		return nil, errors.New("whisper: server URL must not be empty")
	}
	p := &Provider{
		endpoint:   strings.TrimRight(serverURL, "/") + "/inference",
		language:   defaultLanguage,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Transcribe uploads the prepared utterance as a 16-bit mono WAV file. An
// utterance that is silent after trimming is answered with "" without
// contacting the server, because whisper tends to hallucinate on silence.
func (p *Provider) Transcribe(ctx context.Context, samples []float32, sampleRate int) (string, error) {
	prepared, err := stt.Prepare(samples, sampleRate)
	if err != nil {
		return "", fmt.Errorf("whisper: %w", err)
	}
	if len(prepared) == 0 {
		slog.Debug("whisper: no speech after trimming", "samples", len(samples))
		return "", nil
	}

	wav, err := audio.EncodeWAV(audio.Clip{
		Samples: audio.Float32ToPCM16(prepared),
		Format:  audio.Format{SampleRate: sampleRate, Channels: 1},
	})
	if err != nil {
		return "", fmt.Errorf("whisper: %w", err)
	}
	body, contentType, err := p.form(wav)
	if err != nil {
		return "", fmt.Errorf("whisper: build form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, body)
	if err != nil {
		return "", fmt.Errorf("whisper: create request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)

	start := time.Now()
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("whisper: post inference: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("whisper: server returned HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	var result struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("whisper: decode response: %w", err)
	}
	text := strings.TrimSpace(result.Text)
	slog.Debug("whisper: transcribed",
		"audio", time.Duration(len(prepared))*time.Second/time.Duration(sampleRate),
		"elapsed", time.Since(start),
		"chars", len(text),
	)
	return text, nil
}

// form builds the multipart body whisper-server expects: the audio as
// "file" plus decoding parameters. Empty optional fields are left out.
func (p *Provider) form(wav []byte) (io.Reader, string, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	fw, err := mw.CreateFormFile("file", "utterance.wav")
	if err != nil {
		return nil, "", err
	}
	if _, err := fw.Write(wav); err != nil {
		return nil, "", err
	}
	fields := [][2]string{
		{"language", p.language},
		{"model", p.model},
		{"prompt", p.prompt},
		{"temperature", "0.0"},
		{"response_format", "json"},
	}
	for _, f := range fields {
		if f[1] == "" {
			continue
		}
		if err := mw.WriteField(f[0], f[1]); err != nil {
			return nil, "", fmt.Errorf("field %s: %w", f[0], err)
		}
	}
	if err := mw.Close(); err != nil {
		return nil, "", err
	}
	return &buf, mw.FormDataContentType(), nil
}
