package capability

import (
	"encoding/json"
	"testing"
)

func TestCompatibleRespectsMatrix(t *testing.T) {
	cat := DefaultCatalog()

	got := cat.Compatible(DomainDevOps, ActionDeploy, Expert)
	if len(got) != 1 || got[0] != DevOpsEngineer {
		t.Fatalf("devops/deploy/expert = %v, want [devops-engineer]", got)
	}

	for _, at := range cat.Compatible(DomainCode, ActionCreate, Complex) {
		p, _ := cat.Get(at)
		if p.MaxComplexity < Complex {
			t.Errorf("%s max complexity %s below complex", at, p.MaxComplexity)
		}
	}
}

func TestGeneralistNotCompatibleAboveMedium(t *testing.T) {
	cat := DefaultCatalog()
	if !cat.Supports(Generalist, DomainData, ActionDeploy, Medium) {
		t.Fatal("generalist should handle medium work in any cell")
	}
	if cat.Supports(Generalist, DomainData, ActionDeploy, Complex) {
		t.Fatal("generalist should not handle complex work")
	}
}

func TestComplexityOrderingAndText(t *testing.T) {
	if !(Simple < Medium && Medium < Complex && Complex < Expert) {
		t.Fatal("complexity ordinals out of order")
	}
	b, err := json.Marshal(Expert)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(b) != `"expert"` {
		t.Errorf("got %s, want \"expert\"", b)
	}
	var c Complexity
	if err := json.Unmarshal([]byte(`"complex"`), &c); err != nil || c != Complex {
		t.Errorf("unmarshal complex = %v, %v", c, err)
	}
	if _, err := ParseComplexity("impossible"); err == nil {
		t.Error("expected error for unknown complexity")
	}
}

func TestParseCatalogOverrides(t *testing.T) {
	data := []byte(`
agents:
  - type: researcher
    domains: [data]
    actions: [research]
    max_complexity: medium
    tools: [web_search]
    cost_per_operation: 0.1
    avg_response_ms: 500
    reliability: 0.5
  - type: translator
    name: Translator
    domains: [design]
    actions: [modify]
    max_complexity: simple
`)
	cat, err := ParseCatalog(data)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	r, _ := cat.Get(Researcher)
	if r.MaxComplexity != Medium || len(r.Domains) != 1 {
		t.Errorf("researcher override not applied: %+v", r)
	}
	if _, ok := cat.Get("translator"); !ok {
		t.Error("translator not added")
	}
	if len(cat.Profiles()) != len(DefaultCatalog().Profiles())+1 {
		t.Errorf("got %d profiles", len(cat.Profiles()))
	}
}

func TestParseCatalogRejectsUnknownDomain(t *testing.T) {
	_, err := ParseCatalog([]byte("agents:\n  - type: x\n    domains: [astrology]\n"))
	if err == nil {
		t.Fatal("expected error for unknown domain")
	}
}
