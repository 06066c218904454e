// Package advisor asks Gemini how to speed up a running operation.
package advisor

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
	"google.golang.org/genai"

	"mongo-query-top/internal/logging"
	"mongo-query-top/internal/query"
)

const DefaultModel = "gemini-2.5-pro"

// ErrNotConfigured is returned when no API key is set.
var ErrNotConfigured = errors.New("gemini API key is not configured")

// Generator is the part of the genai client used here.
type Generator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

type Advisor struct {
	models Generator
	model  string
}

func NewAdvisor(models Generator, model string) *Advisor {
	if model == "" {
		model = DefaultModel
	}
	return &Advisor{models: models, model: model}
}

// New creates a Gemini client for apiKey.
func New(ctx context.Context, apiKey, model string) (*Advisor, error) {
	if apiKey == "" {
		return nil, ErrNotConfigured
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}
	return NewAdvisor(client.Models, model), nil
}

// Advise returns markdown advice for op.
func (a *Advisor) Advise(ctx context.Context, op *query.Operation) (string, error) {
	prompt, err := IndexAdvicePrompt(op)
	if err != nil {
		return "", err
	}
	contents := []*genai.Content{
		genai.NewContentFromParts([]*genai.Part{genai.NewPartFromText(prompt)}, "user"),
	}

	logging.Logger.WithFields(logrus.Fields{"opid": op.Opid, "model": a.model}).Info("Requesting index advice")
	resp, err := a.models.GenerateContent(ctx, a.model, contents, nil)
	if err != nil {
		return "", fmt.Errorf("failed to generate advice: %w", err)
	}
	text := resp.Text()
	if text == "" {
		return "", errors.New("gemini returned an empty response")
	}
	return text, nil
}
