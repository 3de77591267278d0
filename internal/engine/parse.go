package engine

import (
	"encoding/json"
	"strings"

	"github.com/xela07ax/swarm-governor/internal/domain"
)

// reply разобранный ответ модели
type reply struct {
	Decision string
	Action   domain.ActionKind
	Details  map[string]any
}

// parseReply построчный разбор строк Decision:, Action:, Details:. Неразобранное не считается ошибкой:
// неизвестное действие становится log_only, некорректный JSON даёт пустые детали.
func parseReply(text string) reply {
	out := reply{Action: domain.ActionLogOnly, Details: map[string]any{}}
	lines := strings.Split(text, "\n")

	for i, raw := range lines {
		// жирная разметка вокруг метки (**Decision:**) не мешает распознаванию
		line := strings.TrimLeft(strings.TrimSpace(raw), "*")
		lower := strings.ToLower(line)

		switch {
		case strings.HasPrefix(lower, "decision:"):
			out.Decision = labelValue(line[len("decision:"):])

		case strings.HasPrefix(lower, "action:"):
			token := strings.ReplaceAll(line[len("action:"):], "*", "")
			kind := domain.ActionKind(strings.ToLower(strings.TrimSpace(token)))
			if kind.Valid() {
				out.Action = kind
			} else {
				out.Action = domain.ActionLogOnly
			}

		case strings.HasPrefix(lower, "details:"):
			body := labelValue(afterColon(line))
			if body == "" || body == "{" {
				body = collectBlock(body, lines[i+1:])
			}
			if details, ok := decodeDetails(body); ok {
				out.Details = details
			}
		}
	}

	if out.Decision == "" {
		for _, l := range lines {
			if l = strings.TrimSpace(l); len([]rune(l)) > 20 {
				out.Decision = truncate(l, 200)
				break
			}
		}
	}
	return out
}

// labelValue значение после метки без закрывающих ** самой метки; звёздочки внутри текста сохраняются
func labelValue(s string) string {
	return strings.TrimSpace(strings.TrimLeft(s, "*"))
}

func afterColon(s string) string {
	if i := strings.Index(s, ":"); i >= 0 {
		return strings.TrimSpace(s[i+1:])
	}
	return ""
}

// collectBlock собирает JSON со следующих строк до строки, оканчивающейся на }. Ограждения ``` пропускаются.
func collectBlock(head string, rest []string) string {
	parts := []string{}
	if head != "" {
		parts = append(parts, head)
	}
	for _, l := range rest {
		l = strings.TrimSpace(l)
		if strings.HasPrefix(l, "```") {
			continue
		}
		parts = append(parts, l)
		if strings.HasSuffix(l, "}") {
			break
		}
	}
	return strings.Join(parts, " ")
}

func decodeDetails(s string) (map[string]any, bool) {
	s = strings.ReplaceAll(s, "```json", "")
	s = strings.ReplaceAll(s, "```", "")
	var m map[string]any
	if err := json.Unmarshal([]byte(strings.TrimSpace(s)), &m); err != nil || m == nil {
		return nil, false
	}
	return m, true
}
