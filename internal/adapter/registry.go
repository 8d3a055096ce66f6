package adapter

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"

	"translator/internal/config"
)

// DefaultPrefixes maps backend names to the model prefixes they serve
var DefaultPrefixes = map[string][]string{
	"openai":    {"gpt", "o1", "o3", "text-davinci"},
	"anthropic": {"claude"},
	"gemini":    {"gemini"},
	"echo":      {"echo"},
}

type route struct {
	prefix string
	name   string
}

// Registry routes a model identifier to its translator by prefix
type Registry struct {
	mu          sync.RWMutex
	routes      []route
	translators map[string]Translator
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{
		translators: make(map[string]Translator),
	}
}

// Register adds a translator serving the given model prefixes
func (r *Registry) Register(t Translator, prefixes ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.translators[t.Name()] = t
	for _, p := range prefixes {
		r.routes = append(r.routes, route{prefix: strings.ToLower(p), name: t.Name()})
	}

	// longest prefix wins
	sort.SliceStable(r.routes, func(i, j int) bool {
		return len(r.routes[i].prefix) > len(r.routes[j].prefix)
	})

	log.Info().
		Str("translator", t.Name()).
		Strs("prefixes", prefixes).
		Msg("Registered translator")
}

// Resolve returns the translator for model. An unknown model yields a
// permanent ErrUnknownModel failure.
func (r *Registry) Resolve(model string) (Translator, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	m := strings.ToLower(model)
	for _, rt := range r.routes {
		if strings.HasPrefix(m, rt.prefix) {
			return r.translators[rt.name], nil
		}
	}

	return nil, Permanent(fmt.Errorf("%w: %q", ErrUnknownModel, model))
}

// Available returns the registered translator names, sorted
func (r *Registry) Available() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.translators))
	for name := range r.translators {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// BuildRegistry registers the echo translator and one HTTP translator per
// configured backend. Backends are keyed by format name: openai, anthropic
// or gemini.
func BuildRegistry(backends map[string]config.BackendConfig) (*Registry, error) {
	r := NewRegistry()
	r.Register(Echo{}, DefaultPrefixes["echo"]...)

	for name, cfg := range backends {
		format := Format(name)
		switch format {
		case FormatOpenAI, FormatAnthropic, FormatGemini:
		default:
			return nil, fmt.Errorf("unknown backend %q", name)
		}
		r.Register(NewHTTPTranslator(format, cfg), DefaultPrefixes[name]...)
	}

	return r, nil
}

// Close releases translator resources such as rate limiters
func (r *Registry) Close() {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, t := range r.translators {
		if c, ok := t.(interface{ Close() }); ok {
			c.Close()
		}
	}
}
