package intent

import (
	"errors"
	"reflect"
	"strings"
	"testing"

	"github.com/nidhogg/nuka-conductor/internal/capability"
	"go.uber.org/zap"
)

func newTestAnalyzer() *Analyzer {
	return NewAnalyzer(capability.DefaultCatalog(), zap.NewNop())
}

func TestAnalyzeRejectsLength(t *testing.T) {
	a := newTestAnalyzer()
	for _, text := range []string{"", "  ", "hi", strings.Repeat("x", MaxTextLength+1)} {
		_, err := a.Analyze(text)
		if !errors.Is(err, ErrInvalidInput) {
			t.Errorf("Analyze(len=%d) err = %v, want ErrInvalidInput", len(text), err)
		}
	}
	if _, err := a.Analyze(strings.Repeat("y", MaxTextLength)); err != nil {
		t.Errorf("text at max length rejected: %v", err)
	}
}

func TestAnalyzeSimpleScript(t *testing.T) {
	res, err := newTestAnalyzer().Analyze("Create a simple script to parse CSV")
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	in := res.Intent
	if in.Type != capability.ActionCreate {
		t.Errorf("type = %s, want create", in.Type)
	}
	if in.Domain != capability.DomainCode {
		t.Errorf("domain = %s, want code", in.Domain)
	}
	if in.Complexity != capability.Simple {
		t.Errorf("complexity = %s, want simple", in.Complexity)
	}
	if len(in.CandidateAgents) == 0 {
		t.Error("expected candidate agents")
	}
	found := false
	for _, e := range res.Entities {
		if e.Kind == EntityTechnology && e.Value == "csv" {
			found = true
		}
	}
	if !found {
		t.Errorf("csv technology entity missing: %+v", res.Entities)
	}
}

func TestAnalyzeExpertDeployment(t *testing.T) {
	res, err := newTestAnalyzer().Analyze("Build an expert-level production-grade kubernetes deployment pipeline")
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	if res.Intent.Complexity != capability.Expert {
		t.Errorf("complexity = %s, want expert", res.Intent.Complexity)
	}
	if res.Intent.Domain != capability.DomainDevOps {
		t.Errorf("domain = %s, want devops", res.Intent.Domain)
	}
	if res.Intent.Confidence <= 0.6 {
		t.Errorf("confidence %.2f not nudged by domain detection", res.Intent.Confidence)
	}
}

func TestClassifyAction(t *testing.T) {
	tests := []struct {
		text string
		want capability.Action
	}{
		{"Fix the crash in the login handler", capability.ActionDebug},
		{"Refactor and rename the billing module", capability.ActionModify},
		{"Optimize query latency for the dashboard", capability.ActionOptimize},
		{"Research and compare vector databases", capability.ActionResearch},
		{"Write unit tests to verify coverage of the parser", capability.ActionTest},
		{"hello there friend", capability.ActionCreate},
	}
	a := newTestAnalyzer()
	for _, tt := range tests {
		res, err := a.Analyze(tt.text)
		if err != nil {
			t.Fatalf("%q: %v", tt.text, err)
		}
		if res.Intent.Type != tt.want {
			t.Errorf("%q: type = %s, want %s", tt.text, res.Intent.Type, tt.want)
		}
	}
}

func TestRequirementsExtraction(t *testing.T) {
	res, err := newTestAnalyzer().Analyze("We need to export reports, and the tool must support pagination.")
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	want := []string{"export reports", "support pagination"}
	if !reflect.DeepEqual(res.Intent.Requirements, want) {
		t.Errorf("requirements = %q, want %q", res.Intent.Requirements, want)
	}

	res, _ = newTestAnalyzer().Analyze("Create a simple script to parse CSV")
	if len(res.Intent.Requirements) != 1 || !strings.HasPrefix(res.Intent.Requirements[0], "Handle ") {
		t.Errorf("synthetic requirement = %q", res.Intent.Requirements)
	}
}

func TestEntities(t *testing.T) {
	res, err := newTestAnalyzer().Analyze(`Fix the crash in parser.go when loading "config.yaml" from https://example.com/cfg`)
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	kinds := map[EntityKind]int{}
	for _, e := range res.Entities {
		kinds[e.Kind]++
	}
	if kinds[EntityFile] < 2 || kinds[EntityQuoted] != 1 || kinds[EntityURL] != 1 {
		t.Errorf("entities = %+v", res.Entities)
	}
}

func TestInferredComplexity(t *testing.T) {
	got := classifyComplexity("", 4, 3)
	if got != capability.Simple {
		t.Errorf("4 words = %s, want simple", got)
	}
	if got := classifyComplexity("", 30, 20); got != capability.Complex {
		t.Errorf("30 words = %s, want complex", got)
	}
	if got := classifyComplexity("", 80, 20); got != capability.Expert {
		t.Errorf("80 words = %s, want expert", got)
	}
}

func TestAnalyzeDeterministic(t *testing.T) {
	a := newTestAnalyzer()
	text := "Automate a browser workflow that scrapes prices and must run every hour"
	first, _ := a.Analyze(text)
	second, _ := a.Analyze(text)
	if !reflect.DeepEqual(first, second) {
		t.Error("analysis differs across identical calls")
	}
}

func TestExtractKeywords(t *testing.T) {
	got := ExtractKeywords("The quick-fix for THE parser, the Parser!")
	want := []string{"quick-fix", "parser"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %q, want %q", got, want)
	}
}
