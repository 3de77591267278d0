package connectors

import (
	"context"
	"strings"

	"github.com/xela07ax/swarm-governor/internal/infra"
)

// Memory фрагмент долговременной памяти, подмешиваемый в запрос
type Memory struct {
	ID       string   `json:"id"`
	Content  string   `json:"content"`
	Category string   `json:"category"`
	Tags     []string `json:"tags,omitempty"`
}

// ContextProvider подбирает навыки и память под входной текст
type ContextProvider interface {
	Retrieve(ctx context.Context, text string) (skills []string, memories []Memory, err error)
}

// KeywordContext подключает навык, если во входе встречается одно из его слов-триггеров.
// Память отбирается по тегам так же.
type KeywordContext struct {
	skills   []infra.SkillConfig
	memories []Memory
}

func NewKeywordContext(skills []infra.SkillConfig, memories ...Memory) *KeywordContext {
	return &KeywordContext{skills: skills, memories: memories}
}

func (k *KeywordContext) Retrieve(_ context.Context, text string) ([]string, []Memory, error) {
	lower := strings.ToLower(text)

	skills := []string{}
	for _, s := range k.skills {
		if containsAny(lower, s.Triggers) {
			skills = append(skills, s.ID)
		}
	}

	memories := []Memory{}
	for _, m := range k.memories {
		if containsAny(lower, m.Tags) {
			memories = append(memories, m)
		}
	}
	return skills, memories, nil
}

func containsAny(lower string, words []string) bool {
	for _, w := range words {
		if w != "" && strings.Contains(lower, strings.ToLower(w)) {
			return true
		}
	}
	return false
}
