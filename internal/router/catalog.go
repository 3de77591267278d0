package router

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/xela07ax/swarm-governor/internal/domain"
)

const CatalogFileName = "model_config.yaml"

// Catalog документ тарифов моделей, маршрутизации и бюджета
type Catalog struct {
	Version   string          `yaml:"version"`
	Models    map[string]Tier `yaml:"models"`
	Routing   Routing         `yaml:"routing"`
	Budget    Budget          `yaml:"budget"`
	Overrides Overrides       `yaml:"overrides"`
}

type Tier struct {
	ID                   string   `yaml:"id"`
	CostPerMillionInput  float64  `yaml:"cost_per_million_input"`
	CostPerMillionOutput float64  `yaml:"cost_per_million_output"`
	MaxTokens            int      `yaml:"max_tokens"`
	Strengths            []string `yaml:"strengths,omitempty"`
}

// EstimateCost оценка при соотношении вход:выход 1:2
func (t Tier) EstimateCost(tokens int) float64 {
	return float64(tokens)*0.5*t.CostPerMillionInput/1_000_000 + float64(tokens)*t.CostPerMillionOutput/1_000_000
}

func (t Tier) ActualCost(in, out int) float64 {
	return float64(in)*t.CostPerMillionInput/1_000_000 + float64(out)*t.CostPerMillionOutput/1_000_000
}

type PatternRule struct {
	Pattern string `yaml:"pattern"`
	Tier    string `yaml:"tier"`
}

type Threshold struct {
	MaxTokens int    `yaml:"max_tokens"`
	Tier      string `yaml:"tier"`
}

type Routing struct {
	Default              string            `yaml:"default"`
	ByTaskType           []PatternRule     `yaml:"by_task_type"`
	ByAgent              map[string]string `yaml:"by_agent"`
	ComplexityThresholds []Threshold       `yaml:"complexity_thresholds"`
}

type Budget struct {
	DailyLimitUSD  float64            `yaml:"daily_limit_usd"`
	AlertAtPercent float64            `yaml:"alert_at_percent"`
	AgentLimits    map[string]float64 `yaml:"agent_limits"`
}

// Overrides ключевые слова, принудительно выбирающие самый дорогой или самый дешёвый тариф
type Overrides struct {
	ForceHighTier []string `yaml:"force_high_tier"`
	ForceLowTier  []string `yaml:"force_low_tier"`
}

func DefaultCatalog() Catalog {
	return Catalog{
		Version: "2.5",
		Models: map[string]Tier{
			"haiku": {
				ID:                   "claude-3-5-haiku-20241022",
				CostPerMillionInput:  0.25,
				CostPerMillionOutput: 1.25,
				MaxTokens:            8192,
				Strengths:            []string{"quick lookups", "simple formatting", "data extraction", "classification"},
			},
			"sonnet": {
				ID:                   "claude-sonnet-4-20250514",
				CostPerMillionInput:  3.00,
				CostPerMillionOutput: 15.00,
				MaxTokens:            16384,
				Strengths:            []string{"balanced reasoning", "code generation", "email drafting", "analysis"},
			},
			"opus": {
				ID:                   "claude-opus-4-20250514",
				CostPerMillionInput:  15.00,
				CostPerMillionOutput: 75.00,
				MaxTokens:            32768,
				Strengths:            []string{"complex reasoning", "strategic decisions", "nuanced communication"},
			},
		},
		Routing: Routing{
			Default: "sonnet",
			ByTaskType: []PatternRule{
				{Pattern: "classify|categorize|extract|lookup|format|parse|list|count", Tier: "haiku"},
				{Pattern: "draft|write|analyze|summarize|code|review|explain", Tier: "sonnet"},
				{Pattern: "strategic|negotiate|complex|critical|investor|legal|synthesize", Tier: "opus"},
			},
			ByAgent: map[string]string{
				"coyote":   "sonnet",
				"vega":     "sonnet",
				"mason":    "haiku",
				"prophet":  "haiku",
				"sentinel": "haiku",
				"arbiter":  "sonnet",
			},
			ComplexityThresholds: []Threshold{
				{MaxTokens: 500, Tier: "haiku"},
				{MaxTokens: 2000, Tier: "sonnet"},
				{MaxTokens: 10000, Tier: "opus"},
			},
		},
		Budget: Budget{
			DailyLimitUSD:  50,
			AlertAtPercent: 80,
			AgentLimits: map[string]float64{
				"coyote":   20,
				"vega":     10,
				"mason":    5,
				"prophet":  5,
				"sentinel": 5,
				"arbiter":  5,
			},
		},
		Overrides: Overrides{
			ForceHighTier: []string{"investor meeting", "board presentation", "strategic decision"},
			ForceLowTier:  []string{"heartbeat", "monitoring", "log parsing"},
		},
	}
}

type compiledPattern struct {
	re   *regexp.Regexp
	src  string
	tier string
}

// compiledCatalog каталог с разобранными шаблонами и вычисленными крайними тарифами
type compiledCatalog struct {
	Catalog
	patterns []compiledPattern
	cheapest string
	priciest string
}

func compileCatalog(c Catalog) (*compiledCatalog, error) {
	if len(c.Models) == 0 {
		return nil, fmt.Errorf("%w: catalog has no tiers", domain.ErrConfiguration)
	}
	if c.Budget.DailyLimitUSD <= 0 {
		return nil, fmt.Errorf("%w: budget.daily_limit_usd must be positive", domain.ErrConfiguration)
	}
	known := func(where, tier string) error {
		if _, ok := c.Models[tier]; !ok {
			return fmt.Errorf("%w: %s refers to unknown tier %q", domain.ErrConfiguration, where, tier)
		}
		return nil
	}
	if err := known("routing.default", c.Routing.Default); err != nil {
		return nil, err
	}
	for agent, tier := range c.Routing.ByAgent {
		if err := known("routing.by_agent."+agent, tier); err != nil {
			return nil, err
		}
	}
	for _, th := range c.Routing.ComplexityThresholds {
		if err := known("routing.complexity_thresholds", th.Tier); err != nil {
			return nil, err
		}
	}

	cc := &compiledCatalog{Catalog: c}
	for _, p := range c.Routing.ByTaskType {
		if err := known("routing.by_task_type", p.Tier); err != nil {
			return nil, err
		}
		re, err := regexp.Compile(p.Pattern)
		if err != nil {
			return nil, fmt.Errorf("%w: pattern %q: %v", domain.ErrConfiguration, p.Pattern, err)
		}
		cc.patterns = append(cc.patterns, compiledPattern{re: re, src: p.Pattern, tier: p.Tier})
	}

	// Крайние тарифы по суммарной ставке; при равенстве выигрывает имя по алфавиту
	for name, t := range c.Models {
		rate := t.CostPerMillionInput + t.CostPerMillionOutput
		if cc.cheapest == "" || rate < rateOf(c, cc.cheapest) || (rate == rateOf(c, cc.cheapest) && name < cc.cheapest) {
			cc.cheapest = name
		}
		if cc.priciest == "" || rate > rateOf(c, cc.priciest) || (rate == rateOf(c, cc.priciest) && name < cc.priciest) {
			cc.priciest = name
		}
	}
	return cc, nil
}

func rateOf(c Catalog, tier string) float64 {
	t := c.Models[tier]
	return t.CostPerMillionInput + t.CostPerMillionOutput
}

func (c *compiledCatalog) agentLimit(agentID string) float64 {
	if l, ok := c.Budget.AgentLimits[agentID]; ok {
		return l
	}
	return c.Budget.DailyLimitUSD
}

func loadCatalogFile(path string) (Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Catalog{}, err
	}
	if strings.TrimSpace(string(data)) == "" {
		return Catalog{}, fmt.Errorf("%w: empty catalog", domain.ErrConfiguration)
	}
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return Catalog{}, fmt.Errorf("%w: %v", domain.ErrParse, err)
	}
	return c, nil
}

func saveCatalogFile(path string, c Catalog) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
