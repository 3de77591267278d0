package audit

import (
	"encoding/json"
	"errors"
	"os"
	"time"

	"github.com/xela07ax/swarm-governor/internal/domain"
	"github.com/xela07ax/swarm-governor/internal/infra"
)

type agentCounter struct {
	Count      int       `json:"count"`
	LastAction time.Time `json:"last_action"`
}

// index сводный файл index.json: счётчики по агентам и рабочий список исходов
type index struct {
	ByAgent         map[string]agentCounter `json:"by_agent"`
	PendingOutcomes []domain.PendingRef     `json:"pending_outcomes"`
}

func newIndex() index {
	return index{ByAgent: map[string]agentCounter{}, PendingOutcomes: []domain.PendingRef{}}
}

func loadIndex(path string) (index, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return newIndex(), nil
	}
	if err != nil {
		return newIndex(), err
	}
	idx := newIndex()
	if err := json.Unmarshal(data, &idx); err != nil {
		return newIndex(), err
	}
	if idx.ByAgent == nil {
		idx.ByAgent = map[string]agentCounter{}
	}
	if idx.PendingOutcomes == nil {
		idx.PendingOutcomes = []domain.PendingRef{}
	}
	return idx, nil
}

func (i *index) save(path string) error {
	data, err := json.MarshalIndent(i, "", "  ")
	if err != nil {
		return err
	}
	return infra.WriteFileAtomic(path, data)
}

func (i *index) record(e domain.AuditEntry) {
	c := i.ByAgent[e.AgentID]
	c.Count++
	c.LastAction = e.Timestamp
	i.ByAgent[e.AgentID] = c

	if e.NeedsOutcome() {
		i.PendingOutcomes = append(i.PendingOutcomes, domain.PendingRef{
			ID:         e.ID,
			Timestamp:  e.Timestamp,
			AgentID:    e.AgentID,
			ActionType: e.ActionType,
		})
	}
}

// resolve убирает id из рабочего списка. Возвращает true, если список изменился.
func (i *index) resolve(id string) bool {
	out := i.PendingOutcomes[:0]
	changed := false
	for _, p := range i.PendingOutcomes {
		if p.ID == id {
			changed = true
			continue
		}
		out = append(out, p)
	}
	i.PendingOutcomes = out
	return changed
}
