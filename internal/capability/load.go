package capability

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type catalogFile struct {
	Agents []profileEntry `yaml:"agents"`
}

type profileEntry struct {
	Type          string   `yaml:"type"`
	Name          string   `yaml:"name"`
	Domains       []string `yaml:"domains"`
	Actions       []string `yaml:"actions"`
	MaxComplexity string   `yaml:"max_complexity"`
	Tools         []string `yaml:"tools"`
	Cost          float64  `yaml:"cost_per_operation"`
	AvgResponseMs int      `yaml:"avg_response_ms"`
	Reliability   float64  `yaml:"reliability"`
	Model         string   `yaml:"model"`
	Provider      string   `yaml:"provider"`
}

// LoadCatalog merges the agent definitions in a YAML file over DefaultCatalog.
// An entry with an existing type replaces the built-in profile.
func LoadCatalog(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog %s: %w", path, err)
	}
	return ParseCatalog(data)
}

// ParseCatalog is LoadCatalog for in-memory YAML.
func ParseCatalog(data []byte) (*Catalog, error) {
	var f catalogFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}

	cat := DefaultCatalog()
	for i, e := range f.Agents {
		p, err := e.profile()
		if err != nil {
			return nil, fmt.Errorf("catalog agent %d: %w", i, err)
		}
		cat.put(p)
	}
	return cat, nil
}

func (e profileEntry) profile() (*Profile, error) {
	if e.Type == "" {
		return nil, fmt.Errorf("type is required")
	}
	p := &Profile{
		Type:             AgentType(e.Type),
		Name:             e.Name,
		Tools:            e.Tools,
		CostPerOperation: e.Cost,
		AvgResponseTime:  time.Duration(e.AvgResponseMs) * time.Millisecond,
		Reliability:      e.Reliability,
		Model:            e.Model,
		Provider:         e.Provider,
	}
	if p.Name == "" {
		p.Name = e.Type
	}
	for _, s := range e.Domains {
		d, err := ParseDomain(s)
		if err != nil {
			return nil, err
		}
		p.Domains = append(p.Domains, d)
	}
	for _, s := range e.Actions {
		a, err := ParseAction(s)
		if err != nil {
			return nil, err
		}
		p.Actions = append(p.Actions, a)
	}
	if e.MaxComplexity != "" {
		c, err := ParseComplexity(e.MaxComplexity)
		if err != nil {
			return nil, err
		}
		p.MaxComplexity = c
	}
	if p.Reliability < 0 || p.Reliability > 1 {
		return nil, fmt.Errorf("reliability %.2f out of range [0,1]", p.Reliability)
	}
	return p, nil
}
