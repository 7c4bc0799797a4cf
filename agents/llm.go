package agents

import "context"

// Turn is one message of conversation history handed to a language model.
type Turn struct {
	Role    string `json:"role"` // user or assistant
	Content string `json:"content"`
}

// TextGenerator is the language model used for replies and synthesis.
type TextGenerator interface {
	GenerateText(ctx context.Context, systemInstruction string, history []Turn, prompt string) (string, error)
}

// JSONGenerator is implemented by generators that can be forced to answer
// with a JSON document.
type JSONGenerator interface {
	GenerateJSON(ctx context.Context, systemInstruction, prompt string) (string, error)
}
