package analysis

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/echolog/echolog-server/internal/genai"
)

// Sampling parameters are fixed low-temperature values so repeated analyses
// of the same text stay close to each other.
const (
	temperature = 0.2
	topP        = 0.8
	topK        = 40
)

const promptTemplate = `You are an assistant specialized in analyzing text transcribed from audio.

Analyze the transcribed text below and:
1. Write a concise summary (at most 3 paragraphs) of the main points
2. Identify and organize the content into thematic sections (between 2 and 5 sections)
3. Highlight up to 10 keywords or important concepts
4. Identify the overall tone of the speech (formal, informal, technical, popular, etc.)

Write every field in the same language as the text.

Text to analyze:
---
%s
---

Reply in JSON following exactly this structure:
{
  "summary": "Summary of the main points",
  "tone": "Overall tone of the speech",
  "keywords": ["word1", "word2", "concept1", ...],
  "sections": [
    {
      "title": "Section title",
      "content": "Section content with the main points",
      "keywords": ["keyword related to the section"]
    }
  ]
}

Do NOT include explanations or introductions. Reply ONLY with correctly formatted JSON.
`

// BuildPrompt embeds text into the analysis instructions.
func BuildPrompt(text string) string {
	return fmt.Sprintf(promptTemplate, text)
}

// GenerationConfig returns the sampling parameters for an analysis request.
func GenerationConfig(maxOutputTokens int32) genai.GenerationConfig {
	if maxOutputTokens <= 0 {
		maxOutputTokens = 4096
	}
	return genai.GenerationConfig{
		Temperature:     temperature,
		TopP:            topP,
		TopK:            topK,
		MaxOutputTokens: maxOutputTokens,
	}
}

// DecodePayload parses a model reply, tolerating markdown code fences and
// prose around the JSON object.
func DecodePayload(content string) (Payload, error) {
	var payload Payload
	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		return payload, errors.New("empty payload")
	}
	directErr := json.Unmarshal([]byte(trimmed), &payload)
	if directErr != nil {
		sanitized := sanitizeJSONPayload(trimmed)
		if sanitized == "" || sanitized == trimmed {
			return Payload{}, directErr
		}
		payload = Payload{}
		if err := json.Unmarshal([]byte(sanitized), &payload); err != nil {
			return Payload{}, err
		}
	}
	payload.normalize()
	return payload, nil
}

func sanitizeJSONPayload(content string) string {
	trimmed := strings.TrimSpace(stripCodeFenceBlock(content))
	if trimmed == "" {
		return ""
	}
	if trimmed[0] == '{' {
		return trimmed
	}
	if start := strings.Index(trimmed, "{"); start >= 0 {
		if end := strings.LastIndex(trimmed, "}"); end > start {
			return strings.TrimSpace(trimmed[start : end+1])
		}
	}
	return trimmed
}

func stripCodeFenceBlock(content string) string {
	trimmed := strings.TrimSpace(content)
	if !strings.HasPrefix(trimmed, "```") {
		return trimmed
	}
	body := strings.TrimLeft(trimmed[3:], " \t\r\n")
	if len(body) >= 4 && strings.EqualFold(body[:4], "json") {
		body = strings.TrimLeft(body[4:], " \t\r\n")
	}
	if idx := strings.LastIndex(body, "```"); idx >= 0 {
		body = body[:idx]
	}
	return strings.TrimSpace(body)
}
