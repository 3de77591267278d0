package audit

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/xela07ax/swarm-governor/internal/domain"
	"github.com/xela07ax/swarm-governor/internal/infra"
)

const dateLayout = "2006-01-02"

// partitionLocks по мьютексу на дату. Мьютекс создаётся лениво и живёт вместе с Trail.
type partitionLocks struct {
	mu sync.Mutex
	m  map[string]*sync.Mutex
}

func (p *partitionLocks) get(date string) *sync.Mutex {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.m == nil {
		p.m = make(map[string]*sync.Mutex)
	}
	l, ok := p.m[date]
	if !ok {
		l = &sync.Mutex{}
		p.m[date] = l
	}
	return l
}

// line строка партиции. Нераспознанные строки сохраняются как есть при перезаписи.
type line struct {
	raw   []byte
	entry *domain.AuditEntry
}

func readPartition(path string) ([]line, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var out []line
	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for sc.Scan() {
		raw := bytes.TrimSpace(sc.Bytes())
		if len(raw) == 0 {
			continue
		}
		l := line{raw: append([]byte(nil), raw...)}
		var e domain.AuditEntry
		if json.Unmarshal(raw, &e) == nil {
			l.entry = &e
		}
		out = append(out, l)
	}
	return out, sc.Err()
}

func appendLine(path string, entry domain.AuditEntry) error {
	raw, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode entry: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.Write(append(raw, '\n')); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func rewritePartition(path string, lines []line) error {
	var buf bytes.Buffer
	for _, l := range lines {
		buf.Write(l.raw)
		buf.WriteByte('\n')
	}
	return infra.WriteFileAtomic(path, buf.Bytes())
}

func dayStart(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

func encodeEntry(e domain.AuditEntry) ([]byte, error) {
	raw, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("encode entry: %w", err)
	}
	return raw, nil
}
