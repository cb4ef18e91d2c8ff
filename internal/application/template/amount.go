package template

import (
	"errors"
	"fmt"
	"sort"

	"github.com/garyjia/opsflow/internal/domain/entity"
)

// ErrInvalidAmountPolicy is returned by AmountPolicy.Validate
var ErrInvalidAmountPolicy = errors.New("invalid amount policy")

// AmountTier applies to amounts at or above MinAmount, up to the next tier.
type AmountTier struct {
	MinAmount int64         `mapstructure:"min_amount"`
	Roles     []entity.Role `mapstructure:"roles"`
}

// AmountPolicy is an ordered list of tiers covering every non-negative amount.
type AmountPolicy struct {
	Tiers []AmountTier `mapstructure:"tiers"`
}

// DefaultAmountPolicy is store level below 100,000, store then company below
// 500,000, and store, company, owner from 500,000 up.
func DefaultAmountPolicy() AmountPolicy {
	return AmountPolicy{Tiers: []AmountTier{
		{MinAmount: 0, Roles: []entity.Role{entity.RoleStoreManager}},
		{MinAmount: 100000, Roles: []entity.Role{entity.RoleStoreManager, entity.RoleCompanyAdmin}},
		{MinAmount: 500000, Roles: []entity.Role{entity.RoleStoreManager, entity.RoleCompanyAdmin, entity.RoleOwner}},
	}}
}

// Validate enforces an exhaustive, monotonic policy: the first tier starts
// at zero, minimums strictly increase, and no tier has fewer steps than the
// one below it.
func (p AmountPolicy) Validate() error {
	if len(p.Tiers) == 0 {
		return fmt.Errorf("%w: no tiers", ErrInvalidAmountPolicy)
	}
	if p.Tiers[0].MinAmount != 0 {
		return fmt.Errorf("%w: first tier must start at 0, got %d", ErrInvalidAmountPolicy, p.Tiers[0].MinAmount)
	}
	for i, tier := range p.Tiers {
		if len(tier.Roles) == 0 {
			return fmt.Errorf("%w: tier %d has no roles", ErrInvalidAmountPolicy, i+1)
		}
		for _, r := range tier.Roles {
			if !r.IsValid() {
				return fmt.Errorf("%w: tier %d has unknown role %q", ErrInvalidAmountPolicy, i+1, r)
			}
		}
		if i == 0 {
			continue
		}
		prev := p.Tiers[i-1]
		if tier.MinAmount <= prev.MinAmount {
			return fmt.Errorf("%w: tier %d minimum %d not above %d", ErrInvalidAmountPolicy, i+1, tier.MinAmount, prev.MinAmount)
		}
		if len(tier.Roles) < len(prev.Roles) {
			return fmt.Errorf("%w: tier %d has fewer steps than tier %d", ErrInvalidAmountPolicy, i+1, i)
		}
	}
	return nil
}

// TierFor returns the highest tier whose minimum is at or below amount.
func (p AmountPolicy) TierFor(amount int64) (AmountTier, bool) {
	i := sort.Search(len(p.Tiers), func(i int) bool {
		return p.Tiers[i].MinAmount > amount
	})
	if i == 0 {
		return AmountTier{}, false
	}
	return p.Tiers[i-1], true
}
