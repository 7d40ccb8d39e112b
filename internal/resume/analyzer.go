package resume

import (
	"context"
	"errors"
	"fmt"

	openai "github.com/sashabaranov/go-openai"
)

const previewRunes = 150

type Analyzer interface {
	Analyze(ctx context.Context, text string) (string, error)
	// Provider names the backend for logs and metrics.
	Provider() string
}

// SummaryAnalyzer produces a fixed report quoting the start of the document.
type SummaryAnalyzer struct{}

func (SummaryAnalyzer) Provider() string { return "summary" }

func (SummaryAnalyzer) Analyze(ctx context.Context, text string) (string, error) {
	preview := []rune(text)
	if len(preview) > previewRunes {
		preview = preview[:previewRunes]
	}
	return fmt.Sprintf("**Resume Analysis Complete:**\n\n"+
		"- The AI has reviewed your document.\n"+
		"- The extracted text begins with: \"%s...\"\n\n"+
		"**Key Suggestion:** Ensure all your achievements are quantified with numbers to show measurable impact.",
		string(preview)), nil
}

const systemPrompt = `You are an experienced technical recruiter. Review the resume text you are given.
Reply in Markdown with a short overall assessment, the three strongest points,
the three most important improvements, and one concrete rewrite suggestion.`

// maxPromptRunes caps the resume text forwarded to the model.
const maxPromptRunes = 12000

type OpenAIAnalyzer struct {
	client *openai.Client
	model  string
}

func NewOpenAIAnalyzer(apiKey, model string) *OpenAIAnalyzer {
	return NewOpenAIAnalyzerWithConfig(openai.DefaultConfig(apiKey), model)
}

func NewOpenAIAnalyzerWithConfig(cfg openai.ClientConfig, model string) *OpenAIAnalyzer {
	if model == "" {
		model = openai.GPT4oMini
	}
	return &OpenAIAnalyzer{
		client: openai.NewClientWithConfig(cfg),
		model:  model,
	}
}

func (a *OpenAIAnalyzer) Provider() string { return "openai" }

func (a *OpenAIAnalyzer) Analyze(ctx context.Context, text string) (string, error) {
	resp, err := a.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: a.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: clip(text)},
		},
		Temperature: 0.4,
		MaxTokens:   800,
	})
	if err != nil {
		return "", fmt.Errorf("openai error: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("no response from OpenAI")
	}
	return resp.Choices[0].Message.Content, nil
}

func clip(text string) string {
	if r := []rune(text); len(r) > maxPromptRunes {
		return string(r[:maxPromptRunes])
	}
	return text
}
