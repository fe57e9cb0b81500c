package plan

import (
	"time"

	"github.com/nidhogg/nuka-conductor/internal/capability"
)

type template struct {
	title       string
	description string
	action      capability.Action
	base        time.Duration
	tools       []string
	priority    Priority
}

// Template sequences per domain, keyed by action. Within a sequence every
// test-typed step comes after the create/modify steps it verifies.
var domainTemplates = map[capability.Domain]map[capability.Action][]template{
	capability.DomainCode: {
		capability.ActionCreate: {
			{"Outline implementation", "Sketch modules, interfaces and data flow", capability.ActionAnalyze, 10 * time.Minute, []string{"file_read"}, PriorityHigh},
			{"Implement core functionality", "Write the main code paths", capability.ActionCreate, 30 * time.Minute, []string{"code_generation", "file_write"}, PriorityCritical},
			{"Write unit tests", "Cover the new code with unit tests", capability.ActionTest, 15 * time.Minute, []string{"code_execution", "file_write"}, PriorityHigh},
		},
		capability.ActionModify: {
			{"Inspect existing code", "Locate the code affected by the change", capability.ActionAnalyze, 10 * time.Minute, []string{"file_read"}, PriorityHigh},
			{"Apply code changes", "Edit the affected modules", capability.ActionModify, 20 * time.Minute, []string{"code_generation", "file_write"}, PriorityCritical},
			{"Run regression tests", "Confirm existing behavior still holds", capability.ActionTest, 15 * time.Minute, []string{"code_execution"}, PriorityHigh},
		},
		capability.ActionDebug: {
			{"Reproduce the failure", "Trigger the reported fault reliably", capability.ActionDebug, 15 * time.Minute, []string{"code_execution", "log_analysis"}, PriorityCritical},
			{"Isolate root cause", "Trace the fault to its origin", capability.ActionDebug, 20 * time.Minute, []string{"file_read", "log_analysis"}, PriorityCritical},
			{"Apply fix", "Change the faulty code", capability.ActionModify, 15 * time.Minute, []string{"code_generation", "file_write"}, PriorityHigh},
			{"Verify fix", "Re-run the reproduction and unit tests", capability.ActionTest, 10 * time.Minute, []string{"code_execution"}, PriorityHigh},
		},
		capability.ActionOptimize: {
			{"Profile hot paths", "Measure where time and memory go", capability.ActionAnalyze, 15 * time.Minute, []string{"code_execution"}, PriorityHigh},
			{"Optimize implementation", "Rework the slow code paths", capability.ActionOptimize, 25 * time.Minute, []string{"code_generation", "file_write"}, PriorityCritical},
			{"Benchmark changes", "Compare against the baseline", capability.ActionTest, 10 * time.Minute, []string{"code_execution"}, PriorityMedium},
		},
		capability.ActionAnalyze: {
			{"Read codebase", "Walk the relevant packages", capability.ActionAnalyze, 15 * time.Minute, []string{"file_read"}, PriorityHigh},
			{"Summarize findings", "Write up structure and risks", capability.ActionAnalyze, 10 * time.Minute, []string{"file_write"}, PriorityMedium},
		},
	},
	capability.DomainData: {
		capability.ActionCreate: {
			{"Explore source data", "Profile fields, types and volume", capability.ActionAnalyze, 15 * time.Minute, []string{"data_query", "file_read"}, PriorityHigh},
			{"Build transformation pipeline", "Extract, clean and load the data", capability.ActionCreate, 30 * time.Minute, []string{"code_execution", "data_query"}, PriorityCritical},
			{"Produce visualizations", "Chart the transformed data", capability.ActionCreate, 15 * time.Minute, []string{"visualization"}, PriorityMedium},
			{"Validate output data", "Check row counts and invariants", capability.ActionTest, 10 * time.Minute, []string{"data_query"}, PriorityHigh},
		},
		capability.ActionAnalyze: {
			{"Load dataset", "Pull the data into a working set", capability.ActionAnalyze, 10 * time.Minute, []string{"file_read", "data_query"}, PriorityHigh},
			{"Compute statistics", "Aggregate and correlate", capability.ActionAnalyze, 20 * time.Minute, []string{"code_execution", "data_query"}, PriorityCritical},
			{"Chart results", "Visualize the key figures", capability.ActionCreate, 15 * time.Minute, []string{"visualization"}, PriorityMedium},
		},
	},
	capability.DomainDesign: {
		capability.ActionCreate: {
			{"Gather design references", "Collect comparable designs", capability.ActionResearch, 10 * time.Minute, []string{"web_search"}, PriorityMedium},
			{"Draft wireframes", "Lay out the main screens", capability.ActionCreate, 20 * time.Minute, []string{"image_generation"}, PriorityHigh},
			{"Produce visual assets", "Render final styles and assets", capability.ActionCreate, 30 * time.Minute, []string{"image_generation", "file_write"}, PriorityCritical},
			{"Usability check", "Walk the flows in a browser", capability.ActionTest, 10 * time.Minute, []string{"browser_automation"}, PriorityMedium},
		},
		capability.ActionModify: {
			{"Audit current design", "List inconsistencies and gaps", capability.ActionAnalyze, 10 * time.Minute, []string{"browser_automation"}, PriorityHigh},
			{"Revise layout and styles", "Apply the design changes", capability.ActionModify, 20 * time.Minute, []string{"image_generation", "file_write"}, PriorityCritical},
		},
	},
	capability.DomainAutomation: {
		capability.ActionCreate: {
			{"Map workflow steps", "Enumerate inputs, steps and outputs", capability.ActionAnalyze, 10 * time.Minute, []string{"file_read"}, PriorityHigh},
			{"Build automation script", "Implement the workflow", capability.ActionCreate, 30 * time.Minute, []string{"workflow", "browser_automation"}, PriorityCritical},
			{"Configure triggers", "Wire schedules and events", capability.ActionCreate, 10 * time.Minute, []string{"workflow"}, PriorityMedium},
			{"Dry-run automation", "Execute once without side effects", capability.ActionTest, 15 * time.Minute, []string{"workflow", "shell_execution"}, PriorityHigh},
		},
	},
	capability.DomainDevOps: {
		capability.ActionCreate: {
			{"Define infrastructure", "Describe environments and containers", capability.ActionCreate, 25 * time.Minute, []string{"file_write", "container_management"}, PriorityCritical},
			{"Configure pipeline", "Set up build and release stages", capability.ActionCreate, 20 * time.Minute, []string{"shell_execution", "file_write"}, PriorityHigh},
			{"Verify environment health", "Probe services after provisioning", capability.ActionTest, 10 * time.Minute, []string{"shell_execution"}, PriorityHigh},
		},
		capability.ActionDeploy: {
			{"Build release artifacts", "Package and tag the release", capability.ActionDeploy, 15 * time.Minute, []string{"container_management", "shell_execution"}, PriorityHigh},
			{"Roll out to environment", "Ship the release progressively", capability.ActionDeploy, 20 * time.Minute, []string{"container_management"}, PriorityCritical},
			{"Smoke test deployment", "Hit health endpoints after rollout", capability.ActionTest, 10 * time.Minute, []string{"shell_execution"}, PriorityHigh},
		},
		capability.ActionDebug: {
			{"Collect logs", "Gather logs and metrics around the incident", capability.ActionDebug, 10 * time.Minute, []string{"log_analysis"}, PriorityCritical},
			{"Remediate incident", "Apply the operational fix", capability.ActionModify, 20 * time.Minute, []string{"shell_execution"}, PriorityCritical},
			{"Confirm recovery", "Watch the service return to normal", capability.ActionTest, 10 * time.Minute, []string{"shell_execution"}, PriorityHigh},
		},
	},
	capability.DomainTesting: {
		capability.ActionCreate: {
			{"Identify test scenarios", "List cases and edge conditions", capability.ActionAnalyze, 10 * time.Minute, []string{"file_read"}, PriorityHigh},
			{"Write test suite", "Implement the test cases", capability.ActionCreate, 25 * time.Minute, []string{"code_generation", "file_write"}, PriorityCritical},
			{"Execute tests", "Run the suite and collect results", capability.ActionTest, 15 * time.Minute, []string{"code_execution"}, PriorityHigh},
			{"Report coverage", "Summarize pass rate and coverage", capability.ActionAnalyze, 10 * time.Minute, []string{"file_write"}, PriorityMedium},
		},
	},
}

var (
	researchTemplate = template{
		"Research & Planning", "Investigate approaches and plan the work",
		capability.ActionResearch, 15 * time.Minute, []string{"web_search"}, PriorityHigh,
	}
	validationTemplate = template{
		"Validation & Testing", "Validate the combined result end to end",
		capability.ActionTest, 15 * time.Minute, []string{"file_read"}, PriorityHigh,
	}
	reviewTemplate = template{
		"Final Review & Documentation", "Review every deliverable and document it",
		capability.ActionAnalyze, 10 * time.Minute, []string{"file_read", "file_write"}, PriorityMedium,
	}
)

var durationScale = map[capability.Complexity]float64{
	capability.Simple:  0.5,
	capability.Medium:  1,
	capability.Complex: 1.5,
	capability.Expert:  2,
}

// templatesFor returns the sequence for (domain, action), falling back to the
// domain's create sequence and then to the code create sequence.
func templatesFor(d capability.Domain, a capability.Action) []template {
	byAction, ok := domainTemplates[d]
	if !ok {
		byAction = domainTemplates[capability.DomainCode]
	}
	if seq, ok := byAction[a]; ok {
		return seq
	}
	return byAction[capability.ActionCreate]
}
