package capability

import (
	"fmt"
	"strings"
)

// Action is the kind of work an intent or task asks for.
type Action string

const (
	ActionCreate   Action = "create"
	ActionModify   Action = "modify"
	ActionAnalyze  Action = "analyze"
	ActionDebug    Action = "debug"
	ActionTest     Action = "test"
	ActionDeploy   Action = "deploy"
	ActionResearch Action = "research"
	ActionOptimize Action = "optimize"
)

// Actions returns every action in scoring order.
func Actions() []Action {
	return []Action{
		ActionCreate, ActionModify, ActionAnalyze, ActionDebug,
		ActionTest, ActionDeploy, ActionResearch, ActionOptimize,
	}
}

// ParseAction validates an action name.
func ParseAction(s string) (Action, error) {
	a := Action(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Actions() {
		if a == known {
			return a, nil
		}
	}
	return "", fmt.Errorf("unknown action %q", s)
}

// Domain is the problem area a request belongs to.
type Domain string

const (
	DomainCode       Domain = "code"
	DomainData       Domain = "data"
	DomainDesign     Domain = "design"
	DomainAutomation Domain = "automation"
	DomainDevOps     Domain = "devops"
	DomainTesting    Domain = "testing"
)

// Domains returns every domain in tie-break order.
func Domains() []Domain {
	return []Domain{
		DomainCode, DomainData, DomainDesign,
		DomainAutomation, DomainDevOps, DomainTesting,
	}
}

// ParseDomain validates a domain name.
func ParseDomain(s string) (Domain, error) {
	d := Domain(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Domains() {
		if d == known {
			return d, nil
		}
	}
	return "", fmt.Errorf("unknown domain %q", s)
}

// Complexity is an ordinal difficulty rating.
type Complexity int

const (
	Simple Complexity = iota
	Medium
	Complex
	Expert
)

var complexityNames = [...]string{"simple", "medium", "complex", "expert"}

func (c Complexity) String() string {
	if c < Simple || c > Expert {
		return fmt.Sprintf("complexity(%d)", int(c))
	}
	return complexityNames[c]
}

// ParseComplexity maps a name back to its ordinal.
func ParseComplexity(s string) (Complexity, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	for i, n := range complexityNames {
		if n == name {
			return Complexity(i), nil
		}
	}
	return Simple, fmt.Errorf("unknown complexity %q", s)
}

// MarshalText encodes the complexity by name.
func (c Complexity) MarshalText() ([]byte, error) {
	if c < Simple || c > Expert {
		return nil, fmt.Errorf("invalid complexity %d", int(c))
	}
	return []byte(c.String()), nil
}

// UnmarshalText decodes a complexity name.
func (c *Complexity) UnmarshalText(b []byte) error {
	v, err := ParseComplexity(string(b))
	if err != nil {
		return err
	}
	*c = v
	return nil
}

// AgentType identifies an executor profile.
type AgentType string

const (
	CodeArchitect        AgentType = "code-architect"
	CodeAssistant        AgentType = "code-assistant"
	Debugger             AgentType = "debugger"
	DataAnalyst          AgentType = "data-analyst"
	Designer             AgentType = "designer"
	DevOpsEngineer       AgentType = "devops-engineer"
	QAEngineer           AgentType = "qa-engineer"
	Researcher           AgentType = "researcher"
	AutomationSpecialist AgentType = "automation-specialist"

	// Generalist accepts any task when nothing else is compatible.
	Generalist AgentType = "generalist"
)
