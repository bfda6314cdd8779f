package entitlement

import (
	"fmt"
	"sort"
	"strings"
)

// TierCatalog is a validated lookup table from normalized plan names to
// tier descriptors. Billing vendors send plan names as free text, so
// resolution trims and lowercases before matching; an unmatched name is
// an explicit miss, never a silent default.
type TierCatalog struct {
	tiers map[string]Tier
}

// NewTierCatalog builds a catalog from tier descriptors, validating at
// load time so a misconfigured deployment fails at startup instead of
// on the first webhook.
func NewTierCatalog(tiers []Tier) (*TierCatalog, error) {
	if len(tiers) == 0 {
		return nil, fmt.Errorf("tier catalog: at least one tier is required")
	}

	byName := make(map[string]Tier, len(tiers))
	for _, tier := range tiers {
		key := normalizeTierName(tier.Name)
		if key == "" {
			return nil, fmt.Errorf("tier catalog: empty tier name")
		}
		if tier.Credits < 0 {
			return nil, fmt.Errorf("tier catalog: tier %q has negative credit allotment %d", tier.Name, tier.Credits)
		}
		if _, ok := byName[key]; ok {
			return nil, fmt.Errorf("tier catalog: duplicate tier name %q", tier.Name)
		}
		byName[key] = tier
	}

	return &TierCatalog{tiers: byName}, nil
}

// Resolve looks up a vendor-supplied plan name. The second return value
// is false for unknown plans.
func (c *TierCatalog) Resolve(planName string) (Tier, bool) {
	tier, ok := c.tiers[normalizeTierName(planName)]
	return tier, ok
}

// Tiers returns the catalog entries sorted by ascending credit allotment.
func (c *TierCatalog) Tiers() []Tier {
	out := make([]Tier, 0, len(c.tiers))
	for _, tier := range c.tiers {
		out = append(out, tier)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Credits != out[j].Credits {
			return out[i].Credits < out[j].Credits
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// DefaultCatalog returns the production UltraPrompt plan catalog.
func DefaultCatalog() *TierCatalog {
	catalog, err := NewTierCatalog([]Tier{
		{Name: "Ultra Start", Credits: 20},
		{Name: "Ultra Pro", Credits: 70},
		{Name: "Ultra Max", Credits: 180},
	})
	if err != nil {
		// Static input, cannot fail.
		panic(err)
	}
	return catalog
}

func normalizeTierName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
