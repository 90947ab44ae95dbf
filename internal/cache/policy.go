package cache

import (
	"time"

	"github.com/Adithya-Monish-Kumar-K/hybrid-retrieval-core/pkg/config"
)

// Policy is the TTL policy of one data type.
type Policy struct {
	L1TTL                time.Duration
	L2TTL                time.Duration
	StaleWhileRevalidate bool
	CacheOnError         bool
}

var defaultPolicy = Policy{L1TTL: 5 * time.Minute, L2TTL: 30 * time.Minute}

// Policies maps data-type tags to their policy.
type Policies struct {
	byType   map[string]Policy
	fallback Policy
}

func NewPolicies(byType map[string]Policy, fallback Policy) Policies {
	cp := make(map[string]Policy, len(byType))
	for k, v := range byType {
		cp[k] = v
	}
	return Policies{byType: cp, fallback: fallback}
}

func PoliciesFromConfig(cfg map[string]config.PolicyConfig) Policies {
	byType := make(map[string]Policy, len(cfg))
	for name, pc := range cfg {
		byType[name] = Policy{
			L1TTL:                pc.L1TTL,
			L2TTL:                pc.L2TTL,
			StaleWhileRevalidate: pc.StaleWhileRevalidate,
			CacheOnError:         pc.CacheOnError,
		}
	}
	return NewPolicies(byType, defaultPolicy)
}

// For returns the policy of dataType, or the fallback for unknown types.
func (p Policies) For(dataType string) Policy {
	if pol, ok := p.byType[dataType]; ok {
		return pol
	}
	return p.fallback
}

// DataTypes lists the configured data-type tags.
func (p Policies) DataTypes() []string {
	out := make([]string, 0, len(p.byType))
	for k := range p.byType {
		out = append(out, k)
	}
	return out
}
