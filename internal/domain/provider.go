package domain

import "context"

// TextGenerator produces a text answer for a prompt (the ".ai" command).
type TextGenerator interface {
	Name() string
	Generate(ctx context.Context, prompt string) (string, error)
	Healthy(ctx context.Context) error
}
