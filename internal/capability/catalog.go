package capability

import (
	"slices"
	"time"
)

// Profile is the static capability record for one agent type.
type Profile struct {
	Type             AgentType     `json:"type"`
	Name             string        `json:"name"`
	Domains          []Domain      `json:"domains"`
	Actions          []Action      `json:"actions"`
	MaxComplexity    Complexity    `json:"max_complexity"`
	Tools            []string      `json:"tools"`
	CostPerOperation float64       `json:"cost_per_operation"`
	AvgResponseTime  time.Duration `json:"avg_response_time"`
	Reliability      float64       `json:"reliability"`
	Model            string        `json:"model"`
	Provider         string        `json:"provider"`
}

// SupportsDomain reports whether d is in the profile's domain list.
func (p *Profile) SupportsDomain(d Domain) bool { return slices.Contains(p.Domains, d) }

// SupportsAction reports whether a is in the profile's action list.
func (p *Profile) SupportsAction(a Action) bool { return slices.Contains(p.Actions, a) }

// Handles reports whether the profile passes the domain × action × complexity matrix.
func (p *Profile) Handles(d Domain, a Action, c Complexity) bool {
	return p.SupportsDomain(d) && p.SupportsAction(a) && p.MaxComplexity >= c
}

// Catalog is an ordered, read-only set of agent profiles.
type Catalog struct {
	profiles []*Profile
	index    map[AgentType]*Profile
}

// NewCatalog builds a catalog from profiles. Later duplicates replace earlier ones
// but keep the original position.
func NewCatalog(profiles ...*Profile) *Catalog {
	c := &Catalog{index: make(map[AgentType]*Profile)}
	for _, p := range profiles {
		c.put(p)
	}
	return c
}

func (c *Catalog) put(p *Profile) {
	if _, ok := c.index[p.Type]; ok {
		for i, existing := range c.profiles {
			if existing.Type == p.Type {
				c.profiles[i] = p
			}
		}
	} else {
		c.profiles = append(c.profiles, p)
	}
	c.index[p.Type] = p
}

// Get returns the profile for an agent type.
func (c *Catalog) Get(t AgentType) (*Profile, bool) {
	p, ok := c.index[t]
	return p, ok
}

// Profiles returns all profiles in catalog order.
func (c *Catalog) Profiles() []*Profile {
	out := make([]*Profile, len(c.profiles))
	copy(out, c.profiles)
	return out
}

// Supports checks one cell of the compatibility matrix.
func (c *Catalog) Supports(t AgentType, d Domain, a Action, cx Complexity) bool {
	p, ok := c.index[t]
	return ok && p.Handles(d, a, cx)
}

// Compatible lists every agent type able to take work of the given shape.
func (c *Catalog) Compatible(d Domain, a Action, cx Complexity) []AgentType {
	var out []AgentType
	for _, p := range c.profiles {
		if p.Handles(d, a, cx) {
			out = append(out, p.Type)
		}
	}
	return out
}

// DefaultCatalog returns the built-in executor profiles.
func DefaultCatalog() *Catalog {
	return NewCatalog(
		&Profile{
			Type:             CodeArchitect,
			Name:             "Code Architect",
			Domains:          []Domain{DomainCode, DomainDesign, DomainAutomation},
			Actions:          []Action{ActionCreate, ActionModify, ActionAnalyze, ActionResearch, ActionOptimize},
			MaxComplexity:    Expert,
			Tools:            []string{"code_generation", "file_read", "file_write", "web_search"},
			CostPerOperation: 3.0,
			AvgResponseTime:  6 * time.Second,
			Reliability:      0.95,
			Model:            "claude-opus-4",
			Provider:         "anthropic",
		},
		&Profile{
			Type:             CodeAssistant,
			Name:             "Code Assistant",
			Domains:          []Domain{DomainCode, DomainAutomation, DomainTesting},
			Actions:          []Action{ActionCreate, ActionModify, ActionDebug, ActionTest, ActionOptimize},
			MaxComplexity:    Medium,
			Tools:            []string{"code_generation", "file_read", "file_write", "code_execution"},
			CostPerOperation: 0.8,
			AvgResponseTime:  2500 * time.Millisecond,
			Reliability:      0.90,
			Model:            "gpt-4o-mini",
			Provider:         "openai",
		},
		&Profile{
			Type:             Debugger,
			Name:             "Debugger",
			Domains:          []Domain{DomainCode, DomainTesting, DomainDevOps},
			Actions:          []Action{ActionDebug, ActionAnalyze, ActionTest, ActionOptimize},
			MaxComplexity:    Complex,
			Tools:            []string{"code_execution", "file_read", "log_analysis"},
			CostPerOperation: 1.5,
			AvgResponseTime:  4 * time.Second,
			Reliability:      0.90,
			Model:            "claude-sonnet-4",
			Provider:         "anthropic",
		},
		&Profile{
			Type:             DataAnalyst,
			Name:             "Data Analyst",
			Domains:          []Domain{DomainData},
			Actions:          []Action{ActionCreate, ActionModify, ActionAnalyze, ActionResearch, ActionOptimize, ActionTest},
			MaxComplexity:    Expert,
			Tools:            []string{"data_query", "code_execution", "visualization", "file_read"},
			CostPerOperation: 1.2,
			AvgResponseTime:  5 * time.Second,
			Reliability:      0.88,
			Model:            "gpt-4o",
			Provider:         "openai",
		},
		&Profile{
			Type:             Designer,
			Name:             "Designer",
			Domains:          []Domain{DomainDesign},
			Actions:          []Action{ActionCreate, ActionModify, ActionAnalyze, ActionResearch},
			MaxComplexity:    Complex,
			Tools:            []string{"image_generation", "file_write", "browser_automation"},
			CostPerOperation: 2.0,
			AvgResponseTime:  7 * time.Second,
			Reliability:      0.85,
			Model:            "gemini-2.5-pro",
			Provider:         "google",
		},
		&Profile{
			Type:             DevOpsEngineer,
			Name:             "DevOps Engineer",
			Domains:          []Domain{DomainDevOps, DomainAutomation},
			Actions:          []Action{ActionCreate, ActionModify, ActionDeploy, ActionDebug, ActionAnalyze, ActionTest, ActionOptimize},
			MaxComplexity:    Expert,
			Tools:            []string{"shell_execution", "container_management", "file_read", "file_write"},
			CostPerOperation: 2.5,
			AvgResponseTime:  8 * time.Second,
			Reliability:      0.90,
			Model:            "claude-sonnet-4",
			Provider:         "anthropic",
		},
		&Profile{
			Type:             QAEngineer,
			Name:             "QA Engineer",
			Domains:          []Domain{DomainTesting, DomainCode, DomainAutomation, DomainDesign},
			Actions:          []Action{ActionTest, ActionAnalyze, ActionDebug, ActionCreate},
			MaxComplexity:    Expert,
			Tools:            []string{"code_execution", "browser_automation", "file_read", "file_write"},
			CostPerOperation: 1.0,
			AvgResponseTime:  4 * time.Second,
			Reliability:      0.92,
			Model:            "gpt-4o",
			Provider:         "openai",
		},
		&Profile{
			Type:             Researcher,
			Name:             "Researcher",
			Domains:          Domains(),
			Actions:          []Action{ActionResearch, ActionAnalyze},
			MaxComplexity:    Expert,
			Tools:            []string{"web_search", "browser_automation", "file_write"},
			CostPerOperation: 0.6,
			AvgResponseTime:  3 * time.Second,
			Reliability:      0.87,
			Model:            "sonar-pro",
			Provider:         "perplexity",
		},
		&Profile{
			Type:             AutomationSpecialist,
			Name:             "Automation Specialist",
			Domains:          []Domain{DomainAutomation, DomainDevOps, DomainData},
			Actions:          []Action{ActionCreate, ActionModify, ActionDeploy, ActionOptimize, ActionTest},
			MaxComplexity:    Complex,
			Tools:            []string{"workflow", "browser_automation", "shell_execution", "file_write"},
			CostPerOperation: 1.4,
			AvgResponseTime:  5 * time.Second,
			Reliability:      0.88,
			Model:            "gpt-4o",
			Provider:         "openai",
		},
		&Profile{
			Type:             Generalist,
			Name:             "Generalist",
			Domains:          Domains(),
			Actions:          Actions(),
			MaxComplexity:    Medium,
			Tools:            []string{"file_read", "file_write", "web_search"},
			CostPerOperation: 0.5,
			AvgResponseTime:  3 * time.Second,
			Reliability:      0.80,
			Model:            "gpt-4o-mini",
			Provider:         "openai",
		},
	)
}
