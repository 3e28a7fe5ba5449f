package profile

import (
	"context"
	"fmt"
	"os"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/JakeFAU/newsharvest/internal/crawler"
)

// Level is the layer a stored profile applies to.
type Level int

// Stored layers, lowest priority first.
const (
	LevelGlobal Level = iota
	LevelTenant
	LevelTopic
)

func (l Level) String() string {
	switch l {
	case LevelTenant:
		return "tenant"
	case LevelTopic:
		return "topic"
	default:
		return "global"
	}
}

// Scope selects a stored layer. ID is empty for LevelGlobal.
type Scope struct {
	Level Level
	ID    string
}

// Store looks up stored profiles.
type Store interface {
	Lookup(ctx context.Context, scope Scope, domain string) (DomainProfile, bool, error)
}

// MemoryStore is a concurrency-safe in-process Store.
type MemoryStore struct {
	mu       sync.RWMutex
	profiles map[string]DomainProfile
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{profiles: make(map[string]DomainProfile)}
}

func storeKey(scope Scope, domain string) string {
	return scope.Level.String() + "|" + scope.ID + "|" + crawler.NormalizeDomain(domain)
}

// Put validates and stores a profile.
func (s *MemoryStore) Put(scope Scope, domain string, p DomainProfile) error {
	if err := p.Validate(); err != nil {
		return fmt.Errorf("profile %s/%s for %s: %w", scope.Level, scope.ID, domain, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.profiles[storeKey(scope, domain)] = p.clone()
	return nil
}

// Lookup implements Store.
func (s *MemoryStore) Lookup(_ context.Context, scope Scope, domain string) (DomainProfile, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.profiles[storeKey(scope, domain)]
	if !ok {
		return DomainProfile{}, false, nil
	}
	return p.clone(), true, nil
}

// Len returns the number of stored profiles.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.profiles)
}

// fileDocument is the YAML layout of a profiles file.
type fileDocument struct {
	Global  map[string]DomainProfile            `yaml:"global"`
	Tenants map[string]map[string]DomainProfile `yaml:"tenants"`
	Topics  map[string]map[string]DomainProfile `yaml:"topics"`
}

// LoadFile reads a YAML profiles file into a MemoryStore.
func LoadFile(path string) (*MemoryStore, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read profiles file: %w", err)
	}
	return Parse(raw)
}

// Parse decodes YAML profile documents.
func Parse(raw []byte) (*MemoryStore, error) {
	var doc fileDocument
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("decode profiles: %w", err)
	}
	store := NewMemoryStore()
	for domain, p := range doc.Global {
		if err := store.Put(Scope{Level: LevelGlobal}, domain, p); err != nil {
			return nil, err
		}
	}
	for tenant, byDomain := range doc.Tenants {
		for domain, p := range byDomain {
			if err := store.Put(Scope{Level: LevelTenant, ID: tenant}, domain, p); err != nil {
				return nil, err
			}
		}
	}
	for topic, byDomain := range doc.Topics {
		for domain, p := range byDomain {
			if err := store.Put(Scope{Level: LevelTopic, ID: topic}, domain, p); err != nil {
				return nil, err
			}
		}
	}
	return store, nil
}
