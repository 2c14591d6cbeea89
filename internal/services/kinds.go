package services

import (
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"
)

// Deps carries the shared resources factories build services from.
type Deps struct {
	HTTPClient *http.Client

	// RateLimit caps requests per second per remote service; 0 disables it.
	RateLimit float64
	Burst     int

	// OpenAI is nil when no API key is configured.
	OpenAI      *openai.Client
	OpenAIModel string
}

// DefaultDeps returns deps with a 30s HTTP client and no rate limit.
func DefaultDeps() Deps {
	return Deps{HTTPClient: &http.Client{Timeout: 30 * time.Second}}
}

func (d Deps) limiter() *rate.Limiter {
	if d.RateLimit <= 0 {
		return nil
	}
	burst := d.Burst
	if burst <= 0 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(d.RateLimit), burst)
}

func (d Deps) httpClient() *http.Client {
	if d.HTTPClient != nil {
		return d.HTTPClient
	}
	return http.DefaultClient
}

// Factory creates a new, unconfigured service of one kind.
type Factory func(deps Deps) Service

var (
	kinds   = make(map[string]Factory)
	kindsMu sync.RWMutex
)

// RegisterKind adds a service kind. Panics if the kind is already registered.
func RegisterKind(kind string, f Factory) {
	kindsMu.Lock()
	defer kindsMu.Unlock()

	if _, exists := kinds[kind]; exists {
		panic(fmt.Sprintf("service kind already registered: %s", kind))
	}
	kinds[kind] = f
}

// LookupKind returns the factory for kind.
func LookupKind(kind string) (Factory, bool) {
	kindsMu.RLock()
	defer kindsMu.RUnlock()
	f, ok := kinds[kind]
	return f, ok
}

// Kinds returns every registered kind, sorted.
func Kinds() []string {
	kindsMu.RLock()
	defer kindsMu.RUnlock()

	out := make([]string, 0, len(kinds))
	for k := range kinds {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func init() {
	RegisterKind(KindHTTP, func(d Deps) Service { return NewHTTPService(d) })
	RegisterKind(KindRegex, func(Deps) Service { return NewRegexService() })
	RegisterKind(KindOpenAI, func(d Deps) Service { return NewOpenAIService(d) })
}
