package ratelimit

import (
	"sync"

	dErrors "shadowgate/pkg/domain-errors"
)

// Policies holds the live per-channel configuration. Reads vastly outnumber
// writes (every auth failure reads, only operator updates write), so a plain
// RWMutex over the small fixed map is enough.
type Policies struct {
	mu      sync.RWMutex
	configs map[Channel]Config
}

// NewPolicies seeds the holder; nil seeds with DefaultConfigs.
func NewPolicies(seed map[Channel]Config) *Policies {
	if seed == nil {
		seed = DefaultConfigs()
	}
	configs := make(map[Channel]Config, len(seed))
	for ch, cfg := range seed {
		configs[ch] = cfg
	}
	return &Policies{configs: configs}
}

// Get returns the channel's current policy.
func (p *Policies) Get(ch Channel) (Config, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	cfg, ok := p.configs[ch]
	if !ok {
		return Config{}, dErrors.New(dErrors.CodeInvalidInput, "unknown channel")
	}
	return cfg, nil
}

// Update replaces the channel's policy after validation.
func (p *Policies) Update(ch Channel, cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.configs[ch]; !ok {
		return dErrors.New(dErrors.CodeInvalidInput, "unknown channel")
	}
	p.configs[ch] = cfg
	return nil
}

// Snapshot copies the full policy map for read-only use.
func (p *Policies) Snapshot() map[Channel]Config {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make(map[Channel]Config, len(p.configs))
	for ch, cfg := range p.configs {
		out[ch] = cfg
	}
	return out
}
