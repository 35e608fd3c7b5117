// Package voicevox provides a TTS provider backed by a local VOICEVOX engine
// (https://voicevox.hiroshiba.jp) through its REST API. It implements the
// tts.Provider interface.
//
// Synthesis is a two-step exchange:
//
//  1. POST /audio_query?text=…&speaker=… returns a JSON synthesis query.
//  2. The query is adjusted (speedScale) and sent back to
//     POST /synthesis?speaker=…, which answers with a WAV file.
//
// Typical usage:
//
//	p, err := voicevox.New("http://localhost:50021",
//	    voicevox.WithSpeaker(1),
//	    voicevox.WithSpeed(1.1),
//	)
//	clip, err := p.Synthesize(ctx, "こんにちは", tts.VoiceProfile{})
package voicevox

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/MrWong99/earshot/pkg/audio"
	"github.com/MrWong99/earshot/pkg/provider/tts"
)

// Compile-time interface assertion.
var _ tts.Provider = (*Provider)(nil)

const (
	defaultTimeout = 30 * time.Second

	audioQueryEndpoint = "/audio_query"
	synthesisEndpoint  = "/synthesis"
	speakersEndpoint   = "/speakers"
	versionEndpoint    = "/version"

	// maxErrBody bounds how much of an error response is quoted in errors.
	maxErrBody = 512
)

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithSpeaker sets the default VOICEVOX style id used when the voice profile
// carries no ID. Defaults to 1.
func WithSpeaker(id int) Option {
	return func(p *Provider) { p.speaker = id }
}

// WithSpeed sets the default speedScale used when the voice profile carries
// no SpeedFactor. Defaults to 1.0.
func WithSpeed(speed float64) Option {
	return func(p *Provider) { p.speed = speed }
}

// WithTimeout sets the per-request HTTP timeout. Defaults to 30 s.
func WithTimeout(d time.Duration) Option {
	return func(p *Provider) { p.httpClient.Timeout = d }
}

// WithHTTPClient replaces the HTTP client entirely.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) { p.httpClient = c }
}

// Provider implements tts.Provider using the VOICEVOX engine API.
type Provider struct {
	serverURL  string
	speaker    int
	speed      float64
	httpClient *http.Client
}

// New creates a Provider that targets the VOICEVOX engine at serverURL
// (e.g., "http://localhost:50021"). serverURL must be non-empty.
func New(serverURL string, opts ...Option) (*Provider, error) {
	if serverURL == "" {
		return nil, errors.New("voicevox: serverURL must not be empty")
	}
	p := &Provider{
		serverURL:  strings.TrimRight(serverURL, "/"),
		speaker:    1,
		speed:      1.0,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o(p)
	}
	if p.speed <= 0 {
		return nil, fmt.Errorf("voicevox: speed must be positive, got %v", p.speed)
	}
	return p, nil
}

// Synthesize implements tts.Provider.
func (p *Provider) Synthesize(ctx context.Context, text string, voice tts.VoiceProfile) (audio.Clip, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return audio.Clip{}, nil
	}

	speaker := p.speaker
	if voice.ID != "" {
		id, err := strconv.Atoi(voice.ID)
		if err != nil {
			return audio.Clip{}, fmt.Errorf("voicevox: voice id %q is not a style id: %w", voice.ID, err)
		}
		speaker = id
	}
	speed := p.speed
	if voice.SpeedFactor > 0 {
		speed = voice.SpeedFactor
	}

	query, err := p.audioQuery(ctx, text, speaker)
	if err != nil {
		return audio.Clip{}, err
	}
	query["speedScale"] = speed

	wav, err := p.synthesis(ctx, query, speaker)
	if err != nil {
		return audio.Clip{}, err
	}
	clip, err := audio.DecodeWAV(wav)
	if err != nil {
		return audio.Clip{}, fmt.Errorf("voicevox: decode synthesis: %w", err)
	}
	slog.Debug("voicevox: synthesised", "speaker", speaker, "chars", len(text), "duration", clip.Duration())
	return clip, nil
}

// audioQuery asks the engine for the synthesis parameters of text.
func (p *Provider) audioQuery(ctx context.Context, text string, speaker int) (map[string]any, error) {
	q := url.Values{}
	q.Set("text", text)
	q.Set("speaker", strconv.Itoa(speaker))

	resp, err := p.do(ctx, http.MethodPost, audioQueryEndpoint+"?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var query map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&query); err != nil {
		return nil, fmt.Errorf("voicevox: decode %s response: %w", audioQueryEndpoint, err)
	}
	if query == nil {
		return nil, fmt.Errorf("voicevox: %s returned an empty query", audioQueryEndpoint)
	}
	return query, nil
}

// synthesis renders a query into WAV bytes.
func (p *Provider) synthesis(ctx context.Context, query map[string]any, speaker int) ([]byte, error) {
	body, err := json.Marshal(query)
	if err != nil {
		return nil, fmt.Errorf("voicevox: marshal query: %w", err)
	}
	resp, err := p.do(ctx, http.MethodPost, synthesisEndpoint+"?speaker="+strconv.Itoa(speaker), body)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	wav, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("voicevox: read %s response: %w", synthesisEndpoint, err)
	}
	return wav, nil
}

// speakerEntry is one element of the GET /speakers response.
type speakerEntry struct {
	Name        string `json:"name"`
	SpeakerUUID string `json:"speaker_uuid"`
	Styles      []struct {
		Name string `json:"name"`
		ID   int    `json:"id"`
	} `json:"styles"`
}

// ListVoices implements tts.Provider. Every style of every speaker becomes
// one VoiceProfile.
func (p *Provider) ListVoices(ctx context.Context) ([]tts.VoiceProfile, error) {
	resp, err := p.do(ctx, http.MethodGet, speakersEndpoint, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var speakers []speakerEntry
	if err := json.NewDecoder(resp.Body).Decode(&speakers); err != nil {
		return nil, fmt.Errorf("voicevox: decode %s response: %w", speakersEndpoint, err)
	}

	var voices []tts.VoiceProfile
	for _, s := range speakers {
		for _, st := range s.Styles {
			voices = append(voices, tts.VoiceProfile{
				ID:       strconv.Itoa(st.ID),
				Name:     s.Name + " (" + st.Name + ")",
				Provider: "voicevox",
				Metadata: map[string]string{
					"speaker_uuid": s.SpeakerUUID,
					"style":        st.Name,
				},
			})
		}
	}
	return voices, nil
}

// Version returns the engine version reported by GET /version. It doubles as
// the readiness probe.
func (p *Provider) Version(ctx context.Context) (string, error) {
	resp, err := p.do(ctx, http.MethodGet, versionEndpoint, nil)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var v string
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		return "", fmt.Errorf("voicevox: decode %s response: %w", versionEndpoint, err)
	}
	return v, nil
}

// Ping reports whether the engine answers GET /version.
func (p *Provider) Ping(ctx context.Context) error {
	_, err := p.Version(ctx)
	return err
}

// do performs a request and returns the response when the status is 200.
// The caller closes the body.
func (p *Provider) do(ctx context.Context, method, path string, body []byte) (*http.Response, error) {
	var r io.Reader
	if body != nil {
		r = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, p.serverURL+path, r)
	if err != nil {
		return nil, fmt.Errorf("voicevox: create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("voicevox: %s %s: %w", method, endpointOf(path), err)
	}
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrBody))
		resp.Body.Close()
		return nil, fmt.Errorf("voicevox: %s %s returned status %d: %s", method, endpointOf(path), resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	return resp, nil
}

// endpointOf strips the query string so errors never quote user text.
func endpointOf(path string) string {
	if i := strings.IndexByte(path, '?'); i >= 0 {
		return path[:i]
	}
	return path
}
