package speech

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"
)

const defaultAPIBaseURL = "https://api.elevenlabs.io/v1/text-to-speech"

// Synthesizer turns agent text into audio. Speech is an auxiliary flow: when
// the provider throttles, Synthesize degrades to an empty result instead of
// failing the interaction.
type Synthesizer interface {
	Synthesize(ctx context.Context, text, voiceID string) ([]byte, error)
}

// ElevenLabsClient calls the ElevenLabs text-to-speech HTTP API.
type ElevenLabsClient struct {
	apiKey         string
	baseURL        string
	defaultVoiceID string
	httpClient     *http.Client
}

func NewElevenLabsClient(apiKey, defaultVoiceID string) *ElevenLabsClient {
	return &ElevenLabsClient{
		apiKey:         apiKey,
		baseURL:        defaultAPIBaseURL,
		defaultVoiceID: defaultVoiceID,
		httpClient:     &http.Client{Timeout: 60 * time.Second},
	}
}

type ttsRequest struct {
	Text          string `json:"text"`
	ModelID       string `json:"model_id"`
	VoiceSettings struct {
		Stability       float64 `json:"stability"`
		SimilarityBoost float64 `json:"similarity_boost"`
	} `json:"voice_settings"`
}

func (c *ElevenLabsClient) Synthesize(ctx context.Context, text, voiceID string) ([]byte, error) {
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}
	if strings.TrimSpace(voiceID) == "" {
		voiceID = c.defaultVoiceID
	}

	reqBody := ttsRequest{
		Text:    text,
		ModelID: "eleven_multilingual_v2",
	}
	reqBody.VoiceSettings.Stability = 0.5
	reqBody.VoiceSettings.SimilarityBoost = 0.75

	payload, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("encode tts request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/"+voiceID, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("xi-api-key", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("tts request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		// Throttling on an auxiliary flow degrades to silence.
		log.Printf("speech: rate limited, returning empty audio")
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, fmt.Errorf("tts error: %s: %s", resp.Status, strings.TrimSpace(string(body)))
	}

	return io.ReadAll(resp.Body)
}

// NoopSynthesizer is used when no speech provider is configured.
type NoopSynthesizer struct{}

func NewNoopSynthesizer() *NoopSynthesizer { return &NoopSynthesizer{} }

func (NoopSynthesizer) Synthesize(context.Context, string, string) ([]byte, error) {
	return nil, nil
}
