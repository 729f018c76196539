package ratelimiter

import (
	"fmt"
	"sort"
	"time"
)

// Built in limit types.
const (
	LimitAuthentication = "authentication"
	LimitPasswordReset  = "password_reset"
	LimitAPIGeneral     = "api_general"
	LimitAPIPremium     = "api_premium"
	LimitAPIAdmin       = "api_admin"
	LimitFileUpload     = "file_upload"
	LimitSearch         = "search"
	LimitEmailSend      = "email_send"
)

// DefaultLimitTypes returns a fresh copy of the built in budgets.
func DefaultLimitTypes() map[string]Rule {
	return map[string]Rule{
		LimitAuthentication: {Limit: 5, Window: 15 * time.Minute},
		LimitPasswordReset:  {Limit: 3, Window: time.Hour},
		LimitAPIGeneral:     {Limit: 1000, Window: time.Hour},
		LimitAPIPremium:     {Limit: 10000, Window: time.Hour},
		LimitAPIAdmin:       {Limit: 5000, Window: time.Hour},
		LimitFileUpload:     {Limit: 10, Window: time.Hour},
		LimitSearch:         {Limit: 100, Window: time.Hour},
		LimitEmailSend:      {Limit: 50, Window: 24 * time.Hour},
	}
}

// Registry maps limit type names to rules.
type Registry struct {
	rules map[string]Rule
}

// NewRegistry starts from the built in types; overrides replace or add rules.
func NewRegistry(overrides map[string]Rule) (*Registry, error) {
	rules := DefaultLimitTypes()
	for name, rule := range overrides {
		if name == "" {
			return nil, fmt.Errorf("empty limit type name: %w", ErrInvalidConfig)
		}
		if rule.Limit <= 0 || rule.Window <= 0 {
			return nil, fmt.Errorf("limit type %q: limit and window must be positive: %w", name, ErrInvalidConfig)
		}
		rules[name] = rule
	}
	return &Registry{rules: rules}, nil
}

// Lookup returns the rule for name or ErrUnknownLimitType.
func (r *Registry) Lookup(name string) (Rule, error) {
	rule, ok := r.rules[name]
	if !ok {
		return Rule{}, fmt.Errorf("%q: %w", name, ErrUnknownLimitType)
	}
	return rule, nil
}

// Names lists the registered limit types in order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.rules))
	for name := range r.rules {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
