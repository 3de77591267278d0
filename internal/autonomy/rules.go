package autonomy

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/xela07ax/swarm-governor/internal/domain"
)

const (
	RulesFileName   = "AUTONOMY_RULES.yaml"
	DefaultApprover = "principal"

	QuietBatch         = "batch"
	QuietNormal        = "normal"
	QuietEmergencyOnly = "emergency_only"
)

// RuleDocument редактируемый человеком документ правил автономии
type RuleDocument struct {
	Version    string                           `yaml:"version"`
	Global     GlobalRules                      `yaml:"global"`
	Actions    map[string]map[string]ActionRule `yaml:"actions"`
	Agents     map[string]AgentRules            `yaml:"agents"`
	Escalation EscalationRules                  `yaml:"escalation"`
}

type GlobalRules struct {
	MaxSpendAutonomous float64              `yaml:"max_spend_autonomous"`
	MaxSpendNotify     float64              `yaml:"max_spend_notify"`
	MaxEmailsPerHour   int                  `yaml:"max_emails_per_hour"`
	MaxAlertsPerHour   int                  `yaml:"max_alerts_per_hour"`
	QuietHoursStart    string               `yaml:"quiet_hours_start"`
	QuietHoursEnd      string               `yaml:"quiet_hours_end"`
	QuietHoursAction   string               `yaml:"quiet_hours_action"`
	DefaultLevel       domain.AutonomyLevel `yaml:"default_level"`
	Approver           string               `yaml:"approver,omitempty"`
}

// ActionRule пустой Level и nil-списки в переопределении агента означают "взять из базового правила"
type ActionRule struct {
	Level              domain.AutonomyLevel `yaml:"level,omitempty"`
	Conditions         []string             `yaml:"conditions"`
	ApprovalRequiredIf []string             `yaml:"approval_required_if,omitempty"`
}

type AgentRules struct {
	TrustLevel string                `yaml:"trust_level"`
	Overrides  map[string]ActionRule `yaml:"overrides"`
}

type EscalationRules struct {
	AlwaysEscalate []string          `yaml:"always_escalate"`
	Method         map[string]string `yaml:"method"`
}

func DefaultRules() RuleDocument {
	none := []string{}
	rule := func(level domain.AutonomyLevel, conds ...string) ActionRule {
		if len(conds) == 0 {
			return ActionRule{Level: level, Conditions: none}
		}
		return ActionRule{Level: level, Conditions: conds}
	}
	agent := func(trust string) AgentRules {
		return AgentRules{TrustLevel: trust, Overrides: map[string]ActionRule{}}
	}
	return RuleDocument{
		Version: "2.5",
		Global: GlobalRules{
			MaxSpendAutonomous: 50,
			MaxSpendNotify:     500,
			MaxEmailsPerHour:   10,
			MaxAlertsPerHour:   5,
			QuietHoursStart:    "22:00",
			QuietHoursEnd:      "07:00",
			QuietHoursAction:   QuietBatch,
			DefaultLevel:       domain.LevelNotify,
			Approver:           DefaultApprover,
		},
		Actions: map[string]map[string]ActionRule{
			"alert": {
				"sms":   rule(domain.LevelAutonomous, "urgency >= high"),
				"email": rule(domain.LevelNotify),
			},
			"research": {
				"web_search":        rule(domain.LevelAutonomous),
				"prospect_research": rule(domain.LevelAutonomous),
			},
			"communication": {
				"draft_email": rule(domain.LevelAutonomous),
				"send_email":  rule(domain.LevelApprovalRequired),
			},
			"code": {
				"read_only":   rule(domain.LevelAutonomous),
				"write_files": rule(domain.LevelNotify),
				"deploy":      rule(domain.LevelApprovalRequired),
			},
			"financial": {
				"analyze":          rule(domain.LevelAutonomous),
				"generate_invoice": rule(domain.LevelNotify),
				"payment":          rule(domain.LevelApprovalRequired),
			},
		},
		Agents: map[string]AgentRules{
			"coyote":   agent("high"),
			"vega":     agent("high"),
			"mason":    agent("medium"),
			"prophet":  agent("medium"),
			"sentinel": agent("high"),
			"arbiter":  agent("medium"),
		},
		Escalation: EscalationRules{
			AlwaysEscalate: []string{
				"estimated_impact_usd > 10000",
				"involves_external_legal",
				"investor_communication",
				"press_or_media",
			},
			Method: map[string]string{
				"urgent": "sms",
				"normal": "email",
				"batch":  "daily_digest",
			},
		},
	}
}

var clockRe = regexp.MustCompile(`^([01]?\d|2[0-3]):([0-5]\d)$`)

// clockSeconds "HH:MM" в секунды от полуночи
func clockSeconds(s string) (int, error) {
	m := clockRe.FindStringSubmatch(strings.TrimSpace(s))
	if m == nil {
		return 0, fmt.Errorf("invalid clock value %q", s)
	}
	h, _ := strconv.Atoi(m[1])
	mm, _ := strconv.Atoi(m[2])
	return h*3600 + mm*60, nil
}

type compiledRule struct {
	level      domain.AutonomyLevel
	conditions []Condition
	approvalIf []Condition
}

// ruleSet документ правил с разобранными условиями. Неизменяем после компиляции.
type ruleSet struct {
	doc        RuleDocument
	quietStart int
	quietEnd   int
	escalate   []Condition
	base       map[string]compiledRule
	overrides  map[string]map[string]ActionRule
}

func compileConditions(src []string) []Condition {
	out := make([]Condition, 0, len(src))
	for _, s := range src {
		out = append(out, ParseCondition(s))
	}
	return out
}

func ruleKey(category, actionType string) string {
	return category + "." + actionType
}

func compile(doc RuleDocument) (*ruleSet, error) {
	g := doc.Global
	if !g.DefaultLevel.Valid() {
		return nil, fmt.Errorf("%w: global.default_level %q", domain.ErrConfiguration, g.DefaultLevel)
	}
	switch g.QuietHoursAction {
	case "":
		doc.Global.QuietHoursAction = QuietNormal
	case QuietBatch, QuietNormal, QuietEmergencyOnly:
	default:
		return nil, fmt.Errorf("%w: global.quiet_hours_action %q", domain.ErrConfiguration, g.QuietHoursAction)
	}
	if g.MaxSpendAutonomous > g.MaxSpendNotify {
		return nil, fmt.Errorf("%w: max_spend_autonomous exceeds max_spend_notify", domain.ErrConfiguration)
	}
	if doc.Global.Approver == "" {
		doc.Global.Approver = DefaultApprover
	}
	if doc.Global.QuietHoursStart == "" {
		doc.Global.QuietHoursStart = "22:00"
	}
	if doc.Global.QuietHoursEnd == "" {
		doc.Global.QuietHoursEnd = "07:00"
	}
	start, err := clockSeconds(doc.Global.QuietHoursStart)
	if err != nil {
		return nil, fmt.Errorf("%w: quiet_hours_start: %v", domain.ErrConfiguration, err)
	}
	end, err := clockSeconds(doc.Global.QuietHoursEnd)
	if err != nil {
		return nil, fmt.Errorf("%w: quiet_hours_end: %v", domain.ErrConfiguration, err)
	}

	rs := &ruleSet{
		doc:        doc,
		quietStart: start,
		quietEnd:   end,
		escalate:   compileConditions(doc.Escalation.AlwaysEscalate),
		base:       map[string]compiledRule{},
		overrides:  map[string]map[string]ActionRule{},
	}
	for category, types := range doc.Actions {
		for actionType, r := range types {
			if r.Level != "" && !r.Level.Valid() {
				return nil, fmt.Errorf("%w: actions.%s.%s.level %q", domain.ErrConfiguration, category, actionType, r.Level)
			}
			rs.base[ruleKey(category, actionType)] = compiledRule{
				level:      r.Level,
				conditions: compileConditions(r.Conditions),
				approvalIf: compileConditions(r.ApprovalRequiredIf),
			}
		}
	}
	for agentID, a := range doc.Agents {
		for key, o := range a.Overrides {
			if o.Level != "" && !o.Level.Valid() {
				return nil, fmt.Errorf("%w: agents.%s.overrides.%s.level %q", domain.ErrConfiguration, agentID, key, o.Level)
			}
		}
		rs.overrides[agentID] = a.Overrides
	}
	return rs, nil
}

// resolve базовое правило с наложенным переопределением агента
func (rs *ruleSet) resolve(agentID, category, actionType string) compiledRule {
	key := ruleKey(category, actionType)
	r, ok := rs.base[key]
	if !ok || r.level == "" {
		r.level = rs.doc.Global.DefaultLevel
	}
	if o, ok := rs.overrides[agentID][key]; ok {
		if o.Level != "" {
			r.level = o.Level
		}
		if o.Conditions != nil {
			r.conditions = compileConditions(o.Conditions)
		}
		if o.ApprovalRequiredIf != nil {
			r.approvalIf = compileConditions(o.ApprovalRequiredIf)
		}
	}
	return r
}

func (rs *ruleSet) method(kind, fallback string) string {
	if m := rs.doc.Escalation.Method[kind]; m != "" {
		return m
	}
	return fallback
}

func decodeRules(data []byte) (RuleDocument, error) {
	var doc RuleDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return doc, fmt.Errorf("%w: %v", domain.ErrParse, err)
	}
	return doc, nil
}

func loadRuleFile(path string) (RuleDocument, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return RuleDocument{}, err
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return RuleDocument{}, fmt.Errorf("%w: empty rule document", domain.ErrConfiguration)
	}
	return decodeRules(data)
}

func saveRuleFile(path string, doc RuleDocument) error {
	data, err := yaml.Marshal(doc)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func isNotExist(err error) bool { return errors.Is(err, os.ErrNotExist) }
