package connectors

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"
)

// ScriptedReply ответ на запрос, содержащий Match (без учёта регистра). Пустой Match подходит всегда.
type ScriptedReply struct {
	Match string
	Text  string
	Err   error
}

// ScriptedClient клиент модели без сети: для тестов и локального запуска без провайдера
type ScriptedClient struct {
	Replies  []ScriptedReply
	Fallback string
	Latency  time.Duration

	mu    sync.Mutex
	calls []CompletionRequest
}

func NewScriptedClient(fallback string, replies ...ScriptedReply) *ScriptedClient {
	return &ScriptedClient{Replies: replies, Fallback: fallback}
}

func (c *ScriptedClient) Complete(ctx context.Context, req CompletionRequest) (Completion, error) {
	c.mu.Lock()
	c.calls = append(c.calls, req)
	c.mu.Unlock()

	if c.Latency > 0 {
		select {
		case <-time.After(c.Latency):
		case <-ctx.Done():
			return Completion{}, ctx.Err()
		}
	}

	prompt := ""
	if n := len(req.Messages); n > 0 {
		prompt = strings.ToLower(req.Messages[n-1].Content)
	}
	text := c.Fallback
	for _, r := range c.Replies {
		if r.Match == "" || strings.Contains(prompt, strings.ToLower(r.Match)) {
			if r.Err != nil {
				return Completion{}, r.Err
			}
			text = r.Text
			break
		}
	}
	if text == "" {
		return Completion{}, errors.New("no scripted reply")
	}
	return Completion{
		Text:         text,
		InputTokens:  approxTokens(req.SystemPrompt) + approxTokens(prompt),
		OutputTokens: approxTokens(text),
	}, nil
}

// Calls копия принятых запросов
func (c *ScriptedClient) Calls() []CompletionRequest {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]CompletionRequest(nil), c.calls...)
}

// approxTokens грубая оценка: четыре символа на токен
func approxTokens(s string) int {
	return (len(s) + 3) / 4
}
