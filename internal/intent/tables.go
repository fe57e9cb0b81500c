package intent

import (
	"regexp"
	"time"

	"github.com/nidhogg/nuka-conductor/internal/capability"
)

type actionRule struct {
	action   capability.Action
	patterns []*regexp.Regexp
	keywords []string
}

var actionRules = []actionRule{
	{
		action: capability.ActionCreate,
		patterns: compile(
			`\b(create|build|make|generate|write|implement|develop|scaffold)\b`,
			`\b(new|from scratch|set up|setup)\b`,
		),
		keywords: []string{"create", "build", "make", "generate", "write", "implement", "develop", "new", "scaffold"},
	},
	{
		action: capability.ActionModify,
		patterns: compile(
			`\b(modify|change|update|edit|refactor|rename|extend|rewrite)\b`,
			`\b(add|remove|replace) .+ (to|from|in|with)\b`,
		),
		keywords: []string{"modify", "change", "update", "edit", "refactor", "rename", "extend", "rewrite", "migrate"},
	},
	{
		action: capability.ActionAnalyze,
		patterns: compile(
			`\b(analy[sz]e|analysis|inspect|examine|evaluate|assess|audit|explain)\b`,
			`\b(review|summari[sz]e|break down)\b`,
		),
		keywords: []string{"analyze", "analyse", "analysis", "inspect", "examine", "evaluate", "assess", "audit", "explain", "review"},
	},
	{
		action: capability.ActionDebug,
		patterns: compile(
			`\b(debug|fix|troubleshoot|resolve|repair|diagnose)\b`,
			`\b(bug|error|crash(es|ing)?|broken|failing|exception)\b`,
		),
		keywords: []string{"debug", "fix", "troubleshoot", "resolve", "repair", "diagnose", "bug", "error", "crash", "broken"},
	},
	{
		action: capability.ActionTest,
		patterns: compile(
			`\b(test|tests|testing|unit test|e2e|qa)\b`,
			`\b(verify|validate|coverage|assert)\b`,
		),
		keywords: []string{"test", "tests", "testing", "verify", "validate", "coverage", "qa"},
	},
	{
		action: capability.ActionDeploy,
		patterns: compile(
			`\bdeploy(s|ed|ing|ment)?\b`,
			`\b(release|ship|publish|provision|roll ?out)\b`,
		),
		keywords: []string{"deploy", "deployment", "release", "ship", "publish", "provision", "rollout"},
	},
	{
		action: capability.ActionResearch,
		patterns: compile(
			`\b(research|investigate|explore|compare|survey)\b`,
			`\b(find out|look up|learn about|what is|how does)\b`,
		),
		keywords: []string{"research", "investigate", "explore", "compare", "survey", "find", "search"},
	},
	{
		action: capability.ActionOptimize,
		patterns: compile(
			`\b(optimi[sz]e|optimi[sz]ation|speed up|tune)\b`,
			`\b(faster|performance|latency|throughput|efficien(t|cy))\b`,
		),
		keywords: []string{"optimize", "optimise", "optimization", "faster", "performance", "latency", "throughput", "speed"},
	},
}

var domainKeywords = map[capability.Domain][]string{
	capability.DomainCode: {
		"code", "script", "function", "program", "api", "class", "module", "library",
		"parse", "parser", "cli", "backend", "frontend", "app", "application", "compile",
		"golang", "python", "javascript", "typescript", "java", "rust", "endpoint", "algorithm",
	},
	capability.DomainData: {
		"data", "dataset", "csv", "database", "sql", "analytics", "etl", "report", "chart",
		"statistics", "query", "spreadsheet", "excel", "json", "visualization", "metrics", "warehouse",
	},
	capability.DomainDesign: {
		"design", "ux", "layout", "mockup", "wireframe", "logo", "interface", "style", "theme",
		"figma", "prototype", "color", "typography", "css", "branding",
	},
	capability.DomainAutomation: {
		"automate", "automation", "workflow", "bot", "scrape", "scraper", "schedule", "cron",
		"browser", "trigger", "integration", "zapier", "macro",
	},
	capability.DomainDevOps: {
		"deploy", "deployment", "kubernetes", "k8s", "docker", "container", "pipeline",
		"infrastructure", "terraform", "helm", "server", "cloud", "aws", "monitoring",
		"cluster", "production", "nginx",
	},
	capability.DomainTesting: {
		"test", "tests", "testing", "unit", "e2e", "coverage", "qa", "regression",
		"assertion", "mock", "benchmark", "fixture",
	},
}

type complexityRule struct {
	level      capability.Complexity
	indicators []*regexp.Regexp
}

// Walked in order; the first hit wins.
var complexityRules = []complexityRule{
	{capability.Expert, words("expert", "enterprise", "production-grade", "mission-critical", "large-scale")},
	{capability.Complex, words("complex", "advanced", "comprehensive", "sophisticated", "full-stack", "distributed", "multi-service")},
	{capability.Medium, words("medium", "moderate", "intermediate", "standard")},
	{capability.Simple, words("simple", "basic", "quick", "easy", "trivial", "small", "tiny")},
}

var baseDuration = map[capability.Complexity]time.Duration{
	capability.Simple:  5 * time.Minute,
	capability.Medium:  15 * time.Minute,
	capability.Complex: 45 * time.Minute,
	capability.Expert:  2 * time.Hour,
}

var technologies = map[string]bool{
	"kubernetes": true, "k8s": true, "docker": true, "terraform": true, "helm": true,
	"postgres": true, "postgresql": true, "mysql": true, "redis": true, "kafka": true,
	"react": true, "vue": true, "angular": true, "python": true, "golang": true,
	"javascript": true, "typescript": true, "java": true, "rust": true, "node": true,
	"aws": true, "gcp": true, "azure": true, "csv": true, "json": true, "yaml": true,
	"graphql": true, "grpc": true, "nginx": true, "figma": true, "selenium": true,
}

var (
	requirementRe = regexp.MustCompile(`(?i)\b(?:need to|must|should|want to|require[sd]?)\s+([^.,;!?\n]+)`)
	urlRe         = regexp.MustCompile(`https?://[^\s"'<>]+`)
	fileRe        = regexp.MustCompile(`\b[\w\-/]+\.(?:go|py|js|ts|tsx|jsx|json|ya?ml|csv|md|txt|sql|html|css|sh|toml|xml)\b`)
	quotedRe      = regexp.MustCompile("\"([^\"]+)\"|`([^`]+)`")
)

func compile(exprs ...string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, len(exprs))
	for i, e := range exprs {
		out[i] = regexp.MustCompile(`(?i)` + e)
	}
	return out
}

func words(ws ...string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, len(ws))
	for i, w := range ws {
		out[i] = regexp.MustCompile(`(?i)\b` + regexp.QuoteMeta(w) + `\b`)
	}
	return out
}

var stopwords = map[string]bool{
	"the": true, "and": true, "for": true, "are": true,
	"but": true, "not": true, "you": true, "all": true,
	"can": true, "had": true, "her": true, "was": true,
	"one": true, "our": true, "out": true, "has": true,
	"have": true, "been": true, "this": true, "that": true,
	"with": true, "from": true, "they": true, "will": true,
	"what": true, "when": true, "like": true, "just": true,
	"into": true, "than": true, "them": true, "some": true,
	"could": true, "would": true, "there": true, "please": true,
	"need": true, "want": true, "should": true, "must": true,
}
