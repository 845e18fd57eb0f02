package chain

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/openvault/staked/internal/config"
	"github.com/openvault/staked/internal/models"
)

// Set holds the connected clients keyed by the chain row's ID. It is
// built once at startup from the chain catalog plus the {SLUG}_RPC_URL
// environment overrides and is read-only afterwards.
type Set struct {
	mu      sync.RWMutex
	bySlug  map[string]*Client
	byRowID map[uuid.UUID]*Client
}

// NewSet connects a client for every active chain that has an endpoint,
// preferring the environment override over the chain row's stored URL.
// Chains without a reachable endpoint are skipped with a warning rather
// than failing startup: the rest of the platform still serves.
func NewSet(ctx context.Context, chains []models.Chain, cfg *config.Config, log logrus.FieldLogger) *Set {
	s := &Set{
		bySlug:  make(map[string]*Client, len(chains)),
		byRowID: make(map[uuid.UUID]*Client, len(chains)),
	}
	for _, ch := range chains {
		url := ch.RPCEndpoint
		if override, ok := cfg.ChainRPCBySlug(ch.Slug); ok {
			url = override.RPCURL
		}
		if url == "" {
			log.WithField("chain", ch.Slug).Warn("no RPC endpoint configured, chain offline")
			continue
		}
		client, err := Dial(ctx, ch.Slug, ch.ChainID, url)
		if err != nil {
			log.WithError(err).WithField("chain", ch.Slug).Warn("chain endpoint unreachable at startup")
			continue
		}
		s.add(ch, client)
		log.WithFields(logrus.Fields{"chain": ch.Slug, "evm_chain_id": ch.ChainID}).Info("chain client connected")
	}
	return s
}

// NewSetFromClients builds a Set from pre-constructed clients. Tests
// use this with fake backends.
func NewSetFromClients(pairs map[uuid.UUID]*Client) *Set {
	s := &Set{
		bySlug:  make(map[string]*Client, len(pairs)),
		byRowID: make(map[uuid.UUID]*Client, len(pairs)),
	}
	for id, c := range pairs {
		s.byRowID[id] = c
		s.bySlug[c.Slug] = c
	}
	return s
}

func (s *Set) add(ch models.Chain, c *Client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bySlug[ch.Slug] = c
	s.byRowID[ch.ID] = c
}

// ForChain returns the client for a chain row ID.
func (s *Set) ForChain(chainID uuid.UUID) (*Client, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.byRowID[chainID]
	if !ok {
		return nil, fmt.Errorf("chain: no client for chain %s", chainID)
	}
	return c, nil
}

// BySlug returns the client for a chain slug.
func (s *Set) BySlug(slug string) (*Client, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.bySlug[slug]
	if !ok {
		return nil, fmt.Errorf("chain: no client for chain %q", slug)
	}
	return c, nil
}

// Slugs lists the connected chains.
func (s *Set) Slugs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.bySlug))
	for slug := range s.bySlug {
		out = append(out, slug)
	}
	return out
}
