// Package statusmap maps free-form Jira workflow status names onto the
// normalized status set used by metrics.
package statusmap

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"unicode"

	"github.com/BurntSushi/toml"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/sprintpulse/sprintsync/internal/types"
)

// Map resolves raw status names. Build one with Default, Load or Parse.
type Map struct {
	names      map[string]types.Status
	categories map[string]types.Status
	source     string
}

// defaultNames covers the stock Jira workflows plus the Portuguese names
// used by the teams on the dashboard. Names are stored folded (see Key).
var defaultNames = map[types.Status][]string{
	types.StatusTodo: {
		"to do", "todo", "open", "backlog", "selected for development",
		"ready", "ready for dev", "reopened", "a fazer", "pendente", "aberto",
		"reaberto", "pronto para desenvolvimento",
	},
	types.StatusInProgress: {
		"in progress", "in development", "doing", "em andamento",
		"em progresso", "em desenvolvimento", "fazendo",
	},
	types.StatusInReview: {
		"in review", "code review", "review", "peer review", "em revisao",
		"revisao", "revisao de codigo",
	},
	types.StatusTesting: {
		"testing", "in test", "in testing", "qa", "in qa", "ready for qa",
		"em teste", "em testes", "homologacao", "em homologacao", "validacao",
	},
	types.StatusBlocked: {
		"blocked", "on hold", "impeded", "bloqueado", "impedido",
	},
	types.StatusDone: {
		"done", "closed", "resolved", "released", "deployed", "concluido",
		"concluida", "feito", "finalizado", "fechado", "resolvido", "entregue",
		"em producao",
	},
}

var defaultCategories = map[string]types.Status{
	"new":           types.StatusTodo,
	"indeterminate": types.StatusInProgress,
	"done":          types.StatusDone,
}

// Default returns the built-in map.
func Default() *Map {
	m := &Map{
		names:      make(map[string]types.Status),
		categories: make(map[string]types.Status, len(defaultCategories)),
		source:     "built-in",
	}
	for st, names := range defaultNames {
		for _, name := range names {
			m.names[Key(name)] = st
		}
	}
	for k, v := range defaultCategories {
		m.categories[k] = v
	}
	return m
}

// fileFormat is the TOML layout:
//
//	[statuses]
//	"Aguardando Deploy" = "testing"
//
//	[categories]
//	indeterminate = "in_progress"
type fileFormat struct {
	// Replace drops the built-in names instead of extending them.
	Replace    bool              `toml:"replace"`
	Statuses   map[string]string `toml:"statuses"`
	Categories map[string]string `toml:"categories"`
}

// Load reads a TOML status map. Entries extend (or with replace = true,
// replace) the built-in map. Unknown normalized values are errors.
func Load(path string) (*Map, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path is operator configured
	if err != nil {
		return nil, fmt.Errorf("read status map: %w", err)
	}
	return Parse(string(data), path)
}

// Parse is Load for in-memory content. source names the content in errors.
func Parse(content, source string) (*Map, error) {
	var f fileFormat
	md, err := toml.Decode(content, &f)
	if err != nil {
		return nil, fmt.Errorf("parse status map %s: %w", source, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("parse status map %s: unknown key %q", source, undecoded[0].String())
	}

	m := Default()
	m.source = source
	if f.Replace {
		m.names = make(map[string]types.Status)
	}
	for raw, val := range f.Statuses {
		st, err := types.ParseStatus(strings.TrimSpace(val))
		if err != nil {
			return nil, fmt.Errorf("status map %s: [statuses] %q: %w", source, raw, err)
		}
		m.names[Key(raw)] = st
	}
	for cat, val := range f.Categories {
		st, err := types.ParseStatus(strings.TrimSpace(val))
		if err != nil {
			return nil, fmt.Errorf("status map %s: [categories] %q: %w", source, cat, err)
		}
		m.categories[strings.ToLower(strings.TrimSpace(cat))] = st
	}
	return m, nil
}

// Normalize maps a raw status name, falling back to the Jira status
// category, then to unknown. The result is always a valid Status.
func (m *Map) Normalize(rawName, categoryKey string) types.Status {
	if m == nil {
		return types.StatusUnknown
	}
	if st, ok := m.names[Key(rawName)]; ok {
		return st
	}
	if st, ok := m.categories[strings.ToLower(strings.TrimSpace(categoryKey))]; ok {
		return st
	}
	return types.StatusUnknown
}

// Source names where the map came from.
func (m *Map) Source() string { return m.source }

// Len returns the number of explicit name mappings.
func (m *Map) Len() int { return len(m.names) }

// Entries returns the name mappings sorted by key, for display.
func (m *Map) Entries() [][2]string {
	out := make([][2]string, 0, len(m.names))
	for k, v := range m.names {
		out = append(out, [2]string{k, string(v)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i][0] < out[j][0] })
	return out
}

// Key folds a status name for lookup: trimmed, lower case, inner whitespace
// collapsed, accents removed. "  Em  Revisão " and "em revisao" share a key.
func Key(name string) string {
	// Chained transformers carry state, so each call builds its own.
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, name)
	if err != nil {
		folded = name
	}
	return strings.Join(strings.Fields(strings.ToLower(folded)), " ")
}

// Categories remembers the Jira status category each raw status name was
// seen with. Changelog items carry only names, so history is normalized
// with the category learned from current issue statuses.
type Categories map[string]string

// Learn records categoryKey for rawName. Empty values are ignored.
func (c Categories) Learn(rawName, categoryKey string) {
	if rawName == "" || categoryKey == "" {
		return
	}
	c[Key(rawName)] = categoryKey
}

// Of returns the category recorded for rawName, or "".
func (c Categories) Of(rawName string) string {
	return c[Key(rawName)]
}

// Holder shares a Map between goroutines and allows it to be swapped while
// the watch loop runs.
type Holder struct {
	mu sync.RWMutex
	m  *Map
}

// NewHolder returns a Holder serving m.
func NewHolder(m *Map) *Holder {
	return &Holder{m: m}
}

// Get returns the current map.
func (h *Holder) Get() *Map {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.m
}

// Set swaps the current map.
func (h *Holder) Set(m *Map) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.m = m
}

// Normalize delegates to the current map.
func (h *Holder) Normalize(rawName, categoryKey string) types.Status {
	return h.Get().Normalize(rawName, categoryKey)
}

// Reload re-reads path and swaps the map in on success. On error the
// previous map stays in place.
func (h *Holder) Reload(path string) error {
	if path == "" {
		h.Set(Default())
		return nil
	}
	m, err := Load(path)
	if err != nil {
		return err
	}
	h.Set(m)
	return nil
}
