package ai

import (
	"fmt"
	"strings"

	"github.com/coveline/consult/internal/events"
)

// systemPrompt instructs the model to answer as a consultation assistant and
// to emit the line format parsed by ParseResponse.
const systemPrompt = `You are a helpful and professional AI insurance assistant supporting a staff member during a live customer consultation.

Your role:
- Answer customer questions clearly and concisely
- You can use your general knowledge to explain insurance concepts, terms, and general practices
- Be polite, empathetic, and professional
- Keep answers concise (2-3 sentences)

Format your response as:
ANSWER: [your concise answer]
FOLLOW_UP: [suggested follow-up question]
CONFIDENCE: [LOW/MEDIUM/HIGH]

Rules:
- If context is provided, prioritize it.
- If NO context is provided (empty), answer using your general insurance knowledge.
- Do not make up specific policy details (like exact prices) unless explicitly provided.
- Do not say you cannot answer just because documents are missing.`

// BuildPrompt assembles the user prompt from the query and retrieved passages
func BuildPrompt(query string, passages []events.Passage) string {
	var b strings.Builder

	if len(passages) > 0 {
		b.WriteString("CONTEXT FROM KNOWLEDGE BASE:\n")
		for _, p := range passages {
			fmt.Fprintf(&b, "Source: %s\n%s\n\n", p.SourceID, p.Text)
		}
	}

	fmt.Fprintf(&b, "CUSTOMER QUESTION:\n%s\n\nProvide your response following the exact format specified above.", query)
	return b.String()
}

// SystemPrompt returns the shared system instruction
func SystemPrompt() string {
	return systemPrompt
}

// ParseResponse extracts the answer, follow-up, and confidence from the
// model's line-formatted output. Confidence labels map to 0.5/0.75/0.95.
// When the format is absent, the whole response becomes the answer at
// medium confidence.
func ParseResponse(raw string) *Answer {
	var answer, followUp string
	confidence := 0.75

	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(line, "ANSWER:"):
			answer = strings.TrimSpace(strings.TrimPrefix(line, "ANSWER:"))
		case strings.HasPrefix(line, "FOLLOW_UP:"):
			followUp = strings.TrimSpace(strings.TrimPrefix(line, "FOLLOW_UP:"))
		case strings.HasPrefix(line, "CONFIDENCE:"):
			switch strings.TrimSpace(strings.TrimPrefix(line, "CONFIDENCE:")) {
			case "LOW":
				confidence = 0.5
			case "MEDIUM":
				confidence = 0.75
			case "HIGH":
				confidence = 0.95
			}
		}
	}

	if answer == "" {
		answer = strings.TrimSpace(raw)
	}

	return &Answer{Text: answer, FollowUp: followUp, Confidence: confidence}
}
