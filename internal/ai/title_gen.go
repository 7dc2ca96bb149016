package ai

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"shorts-relay/internal/logging"
)

const (
	titleModel    = "gemini-2.0-flash"
	maxTitleRunes = 100
)

type TitleGenerator struct {
	apiKey string
	log    *logging.Logger

	// generate sends one prompt and returns the model's text; replaced in tests.
	generate func(ctx context.Context, prompt string) (string, error)
}

func NewTitleGenerator(apiKey string, log *logging.Logger) *TitleGenerator {
	tg := &TitleGenerator{apiKey: apiKey, log: log}
	tg.generate = tg.generateWithGemini
	return tg
}

// Rewrite asks Gemini for a punchier title. The original title comes back whenever
// there is no key, the call fails or the answer is unusable.
func (tg *TitleGenerator) Rewrite(ctx context.Context, title, description string) (string, error) {
	if tg.apiKey == "" {
		tg.log.Infof("ai: no api key, keeping original title")
		return title, nil
	}

	prompt := fmt.Sprintf(
		"You write titles for short vertical videos. "+
			"Rewrite the title below into one catchy title of at most 70 characters. "+
			"Keep the language of the original, no emojis, no hashtags, no quotes, reply with the title only.\n\n"+
			"Title: %s\nDescription: %s",
		title, description,
	)

	out, err := tg.generate(ctx, prompt)
	if err != nil {
		return title, fmt.Errorf("generate title: %w", err)
	}
	rewritten := cleanTitle(out)
	if rewritten == "" {
		return title, nil
	}
	return rewritten, nil
}

func (tg *TitleGenerator) generateWithGemini(ctx context.Context, prompt string) (string, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  tg.apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return "", fmt.Errorf("genai client: %w", err)
	}

	resp, err := client.Models.GenerateContent(ctx, titleModel, []*genai.Content{
		genai.NewContentFromText(prompt, genai.RoleUser),
	}, nil)
	if err != nil {
		return "", fmt.Errorf("generate content: %w", err)
	}
	return resp.Text(), nil
}

// cleanTitle keeps the first non-empty line, strips wrapping quotes and hashtags.
func cleanTitle(s string) string {
	var line string
	for _, l := range strings.Split(s, "\n") {
		if l = strings.TrimSpace(l); l != "" {
			line = l
			break
		}
	}
	line = strings.TrimPrefix(line, "Title:")
	line = strings.Trim(strings.TrimSpace(line), "\"'«»“”*")

	words := strings.Fields(line)
	kept := words[:0]
	for _, w := range words {
		if !strings.HasPrefix(w, "#") {
			kept = append(kept, w)
		}
	}
	line = strings.Join(kept, " ")

	if r := []rune(line); len(r) > maxTitleRunes {
		line = strings.TrimSpace(string(r[:maxTitleRunes]))
	}
	return line
}
