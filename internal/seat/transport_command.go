package seat

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"github.com/kballard/go-shellquote"
)

// CommandTransport runs a local bridge command per call. The bridge reads one
// JSON request on stdin and prints one JSON object on stdout; log lines around
// the object are tolerated.
type CommandTransport struct {
	argv []string
}

type bridgeRequest struct {
	Op     string `json:"op"`
	Model  string `json:"model,omitempty"`
	Prompt string `json:"prompt,omitempty"`
}

type bridgeResponse struct {
	Response string   `json:"response"`
	Models   []string `json:"models"`
	Error    string   `json:"error"`
}

func NewCommandTransport(command string) (*CommandTransport, error) {
	argv, err := shellquote.Split(strings.TrimSpace(command))
	if err != nil {
		return nil, fmt.Errorf("parse bridge command: %w", err)
	}
	if len(argv) == 0 {
		return nil, errors.New("bridge command is required")
	}
	return &CommandTransport{argv: argv}, nil
}

func (t *CommandTransport) Generate(ctx context.Context, model, prompt string) (string, error) {
	out, err := t.run(ctx, bridgeRequest{Op: "generate", Model: model, Prompt: prompt})
	if err != nil {
		return "", err
	}
	text := strings.TrimSpace(out.Response)
	if text == "" {
		return "", errors.New("bridge returned empty response")
	}
	return text, nil
}

func (t *CommandTransport) ListModels(ctx context.Context) ([]string, error) {
	out, err := t.run(ctx, bridgeRequest{Op: "tags"})
	if err != nil {
		return nil, err
	}
	return out.Models, nil
}

func (t *CommandTransport) run(ctx context.Context, payload bridgeRequest) (*bridgeResponse, error) {
	input, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	cmd := exec.CommandContext(ctx, t.argv[0], t.argv[1:]...)
	cmd.Stdin = bytes.NewReader(input)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		errText := strings.TrimSpace(stderr.String())
		if errText == "" {
			errText = err.Error()
		}
		return nil, &RequestError{Body: errText, Err: err}
	}

	for _, chunk := range extractJSONObjects(stdout.String()) {
		var resp bridgeResponse
		if err := json.Unmarshal([]byte(chunk), &resp); err != nil {
			continue
		}
		if resp.Error != "" {
			return nil, &RequestError{Body: resp.Error}
		}
		return &resp, nil
	}
	return nil, fmt.Errorf("bridge protocol violation: no JSON object in output %q", truncate(stdout.String(), 200))
}

// extractJSONObjects returns every balanced top-level {...} chunk in raw,
// skipping braces that appear inside string literals.
func extractJSONObjects(raw string) []string {
	chunks := make([]string, 0, 1)
	depth := 0
	inString := false
	escaped := false
	start := -1

	for i := 0; i < len(raw); i++ {
		ch := raw[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}
		switch ch {
		case '"':
			if depth > 0 {
				inString = true
			}
		case '{':
			if depth == 0 {
				start = i
			}
			depth++
		case '}':
			if depth == 0 {
				continue
			}
			depth--
			if depth == 0 && start >= 0 {
				chunks = append(chunks, raw[start:i+1])
				start = -1
			}
		}
	}
	return chunks
}

func truncate(v string, max int) string {
	v = strings.TrimSpace(v)
	if max <= 0 || len(v) <= max {
		return v
	}
	if max <= 3 {
		return v[:max]
	}
	return v[:max-3] + "..."
}
