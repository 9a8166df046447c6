package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Policy names attached to route groups.
const (
	PolicyAuth      = "auth"
	PolicyAPI       = "api"
	PolicySensitive = "sensitive"
)

// Policy is one sliding-window budget.
type Policy struct {
	Window  time.Duration
	Max     int
	Message string
}

// RateLimitConfig holds the named policies and the limiter store settings.
type RateLimitConfig struct {
	Enabled       bool
	Store         string // "lru" or "memory"
	MaxKeys       int
	GCProbability float64
	PolicyFile    string
	Policies      map[string]Policy
}

// Policy returns the named policy, falling back to "api".
func (c RateLimitConfig) Policy(name string) Policy {
	if p, ok := c.Policies[name]; ok {
		return p
	}
	return c.Policies[PolicyAPI]
}

func defaultPolicies() map[string]Policy {
	return map[string]Policy{
		PolicyAuth: {
			Window:  envDur("RATE_LIMIT_AUTH_WINDOW", 15*time.Minute),
			Max:     envInt("RATE_LIMIT_AUTH_MAX", 5),
			Message: "Too many authentication attempts, please try again later",
		},
		PolicyAPI: {
			Window:  envDur("RATE_LIMIT_API_WINDOW", 15*time.Minute),
			Max:     envInt("RATE_LIMIT_API_MAX", 100),
			Message: "Too many requests, please try again later",
		},
		PolicySensitive: {
			Window:  envDur("RATE_LIMIT_SENSITIVE_WINDOW", time.Hour),
			Max:     envInt("RATE_LIMIT_SENSITIVE_MAX", 5),
			Message: "Too many attempts for this operation, please try again later",
		},
	}
}

// LoadRateLimitConfig reads RATE_LIMIT_* variables and, when
// RATE_LIMIT_POLICY_FILE is set, overlays the policies found in that YAML
// file.
func LoadRateLimitConfig() (RateLimitConfig, error) {
	c := RateLimitConfig{
		Enabled:       envBool("RATE_LIMIT_ENABLED", true),
		Store:         strings.ToLower(envStr("RATE_LIMIT_STORE", "lru")),
		MaxKeys:       envInt("RATE_LIMIT_MAX_KEYS", 100_000),
		GCProbability: envFloat("RATE_LIMIT_GC_PROBABILITY", 0.01),
		PolicyFile:    envStr("RATE_LIMIT_POLICY_FILE", ""),
		Policies:      defaultPolicies(),
	}
	if c.GCProbability < 0 || c.GCProbability > 1 {
		c.GCProbability = 0.01
	}
	if c.PolicyFile != "" {
		raw, err := os.ReadFile(c.PolicyFile)
		if err != nil {
			return RateLimitConfig{}, fmt.Errorf("read rate limit policy file: %w", err)
		}
		if err := c.applyPolicyYAML(raw); err != nil {
			return RateLimitConfig{}, err
		}
	}
	return c, nil
}

type policyFile struct {
	Policies map[string]struct {
		Window  string `yaml:"window"`
		Max     int    `yaml:"max"`
		Message string `yaml:"message"`
	} `yaml:"policies"`
}

// applyPolicyYAML overlays policies parsed from a document like:
//
//	policies:
//	  auth:
//	    window: 15m
//	    max: 5
//	    message: Too many login attempts
//
// Fields left empty keep their current value.
func (c *RateLimitConfig) applyPolicyYAML(raw []byte) error {
	var pf policyFile
	if err := yaml.Unmarshal(raw, &pf); err != nil {
		return fmt.Errorf("parse rate limit policy file: %w", err)
	}
	for name, in := range pf.Policies {
		name = strings.ToLower(strings.TrimSpace(name))
		p := c.Policies[name]
		if in.Window != "" {
			d, err := time.ParseDuration(in.Window)
			if err != nil || d <= 0 {
				return fmt.Errorf("rate limit policy %q: invalid window %q", name, in.Window)
			}
			p.Window = d
		}
		if in.Max < 0 {
			return fmt.Errorf("rate limit policy %q: max must be positive", name)
		}
		if in.Max > 0 {
			p.Max = in.Max
		}
		if in.Message != "" {
			p.Message = in.Message
		}
		if p.Window <= 0 || p.Max <= 0 {
			return fmt.Errorf("rate limit policy %q: window and max are required", name)
		}
		c.Policies[name] = p
	}
	return nil
}
