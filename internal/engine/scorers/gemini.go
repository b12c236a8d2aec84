package scorers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/cybershield-x/shield/internal/engine"
)

// DefaultGeminiEndpoint is the public generateContent base URL.
const DefaultGeminiEndpoint = "https://generativelanguage.googleapis.com/v1beta/models"

// ErrMissingAPIKey is returned by NewGemini when no key is configured.
var ErrMissingAPIKey = errors.New("gemini api key is required")

// Gemini calls the generateContent endpoint of Google's Gemini models.
type Gemini struct {
	apiKey   string
	model    string
	endpoint string
	client   *http.Client
}

// NewGemini creates a Gemini generator. An empty endpoint selects the
// public API; an empty model selects gemini-pro.
func NewGemini(apiKey, model, endpoint string, client *http.Client) (*Gemini, error) {
	if apiKey == "" {
		return nil, ErrMissingAPIKey
	}
	if model == "" {
		model = "gemini-pro"
	}
	if endpoint == "" {
		endpoint = DefaultGeminiEndpoint
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &Gemini{
		apiKey:   apiKey,
		model:    model,
		endpoint: strings.TrimRight(endpoint, "/"),
		client:   client,
	}, nil
}

func (g *Gemini) Name() string { return "gemini" }

type geminiRequest struct {
	Contents         []geminiContent        `json:"contents"`
	GenerationConfig geminiGenerationConfig `json:"generationConfig"`
}

type geminiContent struct {
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiGenerationConfig struct {
	Temperature     float64 `json:"temperature"`
	MaxOutputTokens int     `json:"maxOutputTokens"`
}

type geminiResponse struct {
	Candidates []struct {
		Content struct {
			Parts []struct {
				Text string `json:"text"`
			} `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Generate sends the prompt and returns the first candidate's text.
// Transport failures and non-200 statuses wrap engine.ErrRemoteUnavailable;
// an unreadable envelope wraps engine.ErrMalformedResponse.
func (g *Gemini) Generate(ctx context.Context, prompt string) (string, error) {
	apiURL := fmt.Sprintf("%s/%s:generateContent?key=%s", g.endpoint, g.model, url.QueryEscape(g.apiKey))

	reqBody := geminiRequest{
		Contents: []geminiContent{
			{Parts: []geminiPart{{Text: prompt}}},
		},
		GenerationConfig: geminiGenerationConfig{
			Temperature:     0.2,
			MaxOutputTokens: 1024,
		},
	}

	jsonBody, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("Generate: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, apiURL, bytes.NewReader(jsonBody))
	if err != nil {
		return "", fmt.Errorf("Generate: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		// Keep the context error visible to errors.Is.
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", fmt.Errorf("Generate: %w: %w", engine.ErrRemoteUnavailable, ctxErr)
		}
		// url.Error carries the request URL, which includes the key.
		var uerr *url.Error
		if errors.As(err, &uerr) {
			err = uerr.Err
		}
		return "", fmt.Errorf("Generate: %w: %v", engine.ErrRemoteUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("Generate: %w: read body: %v", engine.ErrRemoteUnavailable, err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("Generate: %w: status %d", engine.ErrRemoteUnavailable, resp.StatusCode)
	}

	var gr geminiResponse
	if err := json.Unmarshal(body, &gr); err != nil {
		return "", fmt.Errorf("Generate: %w: %v", engine.ErrMalformedResponse, err)
	}
	if gr.Error != nil {
		return "", fmt.Errorf("Generate: %w: %s", engine.ErrRemoteUnavailable, gr.Error.Message)
	}
	if len(gr.Candidates) == 0 || len(gr.Candidates[0].Content.Parts) == 0 {
		return "", fmt.Errorf("Generate: %w: no candidates", engine.ErrMalformedResponse)
	}

	return gr.Candidates[0].Content.Parts[0].Text, nil
}
