package adapters

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"snowgoose-backend/internal/models"
)

var (
	// ErrUnknownVendor indicates no vendor is registered under the requested name.
	ErrUnknownVendor = errors.New("unknown vendor")

	// ErrStreamingUnsupported indicates the adapter cannot stream responses.
	ErrStreamingUnsupported = errors.New("adapter does not support streaming")
)

type Tool string

const (
	ToolImageGeneration Tool = "image_generation"
	ToolWebSearch       Tool = "web_search"
)

// Options is the vendor-agnostic description of one chat turn.
type Options struct {
	Model              string
	Messages           []models.Message
	SystemPrompt       string
	MaxTokens          int
	ThinkingMode       bool
	BudgetTokens       int
	Tools              []Tool
	PreviousResponseID string
}

func (o Options) HasTool(t Tool) bool {
	for _, tool := range o.Tools {
		if tool == t {
			return true
		}
	}
	return false
}

// Chunk is one element of an upstream stream. Exactly one of Event and Err
// is set; a chunk carrying Err is the last one sent.
type Chunk struct {
	Event models.StreamEvent
	Err   error
}

// Adapter is a vendor bound to one model configuration.
type Adapter interface {
	Name() string
	Config() models.ModelConfig
}

// Streamer is implemented by adapters that can stream a response. The
// returned channel is unbuffered and closed by the producer; cancelling ctx
// aborts the upstream request.
type Streamer interface {
	Adapter
	StreamResponse(ctx context.Context, opts Options) (<-chan Chunk, error)
}

// Vendor creates adapters for the models it serves.
type Vendor interface {
	Name() string
	Bind(cfg models.ModelConfig) Adapter
}

// Registry maps vendor names to vendors.
type Registry struct {
	mu      sync.RWMutex
	vendors map[string]Vendor
}

func NewRegistry() *Registry {
	return &Registry{vendors: make(map[string]Vendor)}
}

func (r *Registry) Register(v Vendor) error {
	if v == nil {
		return errors.New("vendor must not be nil")
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.vendors[v.Name()]; exists {
		return fmt.Errorf("vendor %q already registered", v.Name())
	}
	r.vendors[v.Name()] = v
	return nil
}

// Get binds the named vendor to cfg.
func (r *Registry) Get(vendorName string, cfg models.ModelConfig) (Adapter, error) {
	r.mu.RLock()
	v, ok := r.vendors[vendorName]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownVendor, vendorName)
	}
	return v.Bind(cfg), nil
}

// GetStreamer is Get narrowed to adapters that can stream.
func (r *Registry) GetStreamer(vendorName string, cfg models.ModelConfig) (Streamer, error) {
	a, err := r.Get(vendorName, cfg)
	if err != nil {
		return nil, err
	}
	s, ok := a.(Streamer)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrStreamingUnsupported, a.Name())
	}
	return s, nil
}

func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.vendors))
	for name := range r.vendors {
		names = append(names, name)
	}
	return names
}
