// Package pricing holds the operator-tunable tool menu: declared costs,
// variable-cost formulas, per-kind timeouts and purchasable plans.
package pricing

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"quizora/internal/domain"
)

// Catalog is the parsed pricing file.
type Catalog struct {
	StartingCredits   int64                  `yaml:"starting_credits"`
	StalePendingAfter time.Duration          `yaml:"stale_pending_after"`
	Tools             map[string]ToolPricing `yaml:"tools"`
	Plans             map[string]PlanPricing `yaml:"plans"`
}

// ToolPricing prices one operation kind. Exactly one of Cost or Variable is set.
type ToolPricing struct {
	Cost     int64         `yaml:"cost"`
	Variable *VariableCost `yaml:"variable"`
	Timeout  time.Duration `yaml:"timeout"`
}

// VariableCost charges by response length: ceil(chars / CharsPerCredit),
// clamped to [Min, Max].
type VariableCost struct {
	Min            int64 `yaml:"min"`
	Max            int64 `yaml:"max"`
	CharsPerCredit int64 `yaml:"chars_per_credit"`
}

// PlanPricing describes a purchasable subscription plan.
type PlanPricing struct {
	Credits int64 `yaml:"credits"`
	Price   int64 `yaml:"price"`
	Days    int   `yaml:"days"`
}

// Default returns the built-in catalog used when no pricing file is configured.
func Default() *Catalog {
	return &Catalog{
		StartingCredits:   30,
		StalePendingAfter: 15 * time.Minute,
		Tools: map[string]ToolPricing{
			string(domain.KindTextQuestion):  {Cost: 1, Timeout: 30 * time.Second},
			string(domain.KindImageQuestion): {Cost: 2, Timeout: 45 * time.Second},
			string(domain.KindAudioSummary):  {Cost: 3, Timeout: 120 * time.Second},
			string(domain.KindMindMap):       {Cost: 2, Timeout: 45 * time.Second},
			string(domain.KindChatTurn): {
				Variable: &VariableCost{Min: 1, Max: 5, CharsPerCredit: 400},
				Timeout:  30 * time.Second,
			},
			string(domain.KindResearchPaper): {Cost: 5, Timeout: 150 * time.Second},
			string(domain.KindTextEditing):   {Cost: 1, Timeout: 30 * time.Second},
			string(domain.KindBookChapter):   {Cost: 4, Timeout: 180 * time.Second},
		},
		Plans: map[string]PlanPricing{
			"starter": {Credits: 100, Price: 49000, Days: 30},
			"pro":     {Credits: 500, Price: 199000, Days: 30},
		},
	}
}

// Load reads a YAML catalog. Environment variables in the format ${VAR} are
// expanded before parsing. Kinds missing from the file keep their defaults.
func Load(path string) (*Catalog, error) {
	if strings.TrimSpace(path) == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("pricing: read catalog: %w", err)
	}
	return Parse([]byte(os.ExpandEnv(string(data))))
}

// Parse decodes a YAML catalog on top of the defaults.
func Parse(data []byte) (*Catalog, error) {
	var file Catalog
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("pricing: parse catalog: %w", err)
	}
	cat := Default()
	if file.StartingCredits > 0 {
		cat.StartingCredits = file.StartingCredits
	}
	if file.StalePendingAfter > 0 {
		cat.StalePendingAfter = file.StalePendingAfter
	}
	for kind, tool := range file.Tools {
		cat.Tools[kind] = tool
	}
	if len(file.Plans) > 0 {
		cat.Plans = file.Plans
	}
	if err := cat.Validate(); err != nil {
		return nil, err
	}
	return cat, nil
}

// Validate checks the catalog for unknown kinds and inconsistent prices.
func (c *Catalog) Validate() error {
	for kind, tool := range c.Tools {
		if _, err := domain.ParseOperationKind(kind); err != nil {
			return fmt.Errorf("pricing: tools: %w", err)
		}
		if tool.Variable != nil {
			v := tool.Variable
			if v.Min < 1 || v.Max < v.Min || v.CharsPerCredit < 1 {
				return fmt.Errorf("pricing: tools[%s]: variable cost needs 1 <= min <= max and chars_per_credit >= 1", kind)
			}
			if tool.Cost != 0 {
				return fmt.Errorf("pricing: tools[%s]: cost and variable are mutually exclusive", kind)
			}
			continue
		}
		if tool.Cost < 1 {
			return fmt.Errorf("pricing: tools[%s]: cost must be positive", kind)
		}
	}
	for _, kind := range domain.OperationKinds {
		if _, ok := c.Tools[string(kind)]; !ok {
			return fmt.Errorf("pricing: tools[%s]: missing", kind)
		}
	}
	for name, plan := range c.Plans {
		if plan.Credits < 1 {
			return fmt.Errorf("pricing: plans[%s]: credits must be positive", name)
		}
		if plan.Price < 0 || plan.Days < 0 {
			return fmt.Errorf("pricing: plans[%s]: price and days must not be negative", name)
		}
	}
	return nil
}

// DeclaredCost is the amount deducted at authorization time. Variable-cost
// kinds use their conservative minimum.
func (c *Catalog) DeclaredCost(kind domain.OperationKind) int64 {
	tool := c.Tools[string(kind)]
	if tool.Variable != nil {
		return tool.Variable.Min
	}
	return tool.Cost
}

// IsVariable reports whether the kind is settled from the response size.
func (c *Catalog) IsVariable(kind domain.OperationKind) bool {
	return c.Tools[string(kind)].Variable != nil
}

// MeasuredCost is the true cost of a response of outputChars characters.
func (c *Catalog) MeasuredCost(kind domain.OperationKind, outputChars int) int64 {
	tool := c.Tools[string(kind)]
	v := tool.Variable
	if v == nil {
		return tool.Cost
	}
	cost := (int64(outputChars) + v.CharsPerCredit - 1) / v.CharsPerCredit
	if cost < v.Min {
		return v.Min
	}
	if cost > v.Max {
		return v.Max
	}
	return cost
}

// Timeout bounds a single provider call for the kind.
func (c *Catalog) Timeout(kind domain.OperationKind) time.Duration {
	if t := c.Tools[string(kind)].Timeout; t > 0 {
		return t
	}
	return 30 * time.Second
}

// Plan looks up a purchasable plan by name.
func (c *Catalog) Plan(name string) (PlanPricing, error) {
	plan, ok := c.Plans[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return PlanPricing{}, fmt.Errorf("%w: %q", domain.ErrUnsupportedPlan, name)
	}
	return plan, nil
}

// PlanNames returns the plan names sorted alphabetically.
func (c *Catalog) PlanNames() []string {
	names := make([]string, 0, len(c.Plans))
	for name := range c.Plans {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
