package main

import (
	"fmt"
	"net/http"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/nidhogg/nuka-conductor/internal/api"
	"github.com/nidhogg/nuka-conductor/internal/bus"
	"github.com/nidhogg/nuka-conductor/internal/intent"
	"github.com/nidhogg/nuka-conductor/internal/orchestrator"
	"github.com/nidhogg/nuka-conductor/internal/plan"
	"github.com/spf13/cobra"
)

var (
	executeWait     bool
	executeInterval time.Duration
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze <request>",
	Short: "Classify a request without planning it",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var a intent.Analysis
		if err := call(http.MethodPost, "/api/analyze", map[string]string{"text": strings.Join(args, " ")}, &a); err != nil {
			return err
		}
		if rawOutput {
			return nil
		}
		in := a.Intent
		fmt.Printf("Action:      %s\n", in.Type)
		fmt.Printf("Domain:      %s\n", in.Domain)
		fmt.Printf("Complexity:  %s\n", in.Complexity)
		fmt.Printf("Confidence:  %.2f\n", in.Confidence)
		fmt.Printf("Estimate:    %s\n", in.EstimatedDuration)
		if len(in.Requirements) > 0 {
			fmt.Printf("Requires:    %s\n", strings.Join(in.Requirements, ", "))
		}
		if len(in.CandidateAgents) > 0 {
			names := make([]string, len(in.CandidateAgents))
			for i, c := range in.CandidateAgents {
				names[i] = string(c)
			}
			fmt.Printf("Candidates:  %s\n", strings.Join(names, ", "))
		}
		return nil
	},
}

var planCmd = &cobra.Command{
	Use:   "plan <request>",
	Short: "Create a plan session for a request",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var s orchestrator.Session
		if err := call(http.MethodPost, "/api/plans", map[string]string{"text": strings.Join(args, " ")}, &s); err != nil {
			return err
		}
		if rawOutput {
			return nil
		}
		fmt.Printf("Session %s (%s, %s %s)\n", s.ID, s.Plan.Intent.Domain, s.Plan.Intent.Complexity, s.Plan.Intent.Type)
		fmt.Printf("Estimated %s, critical path %s\n\n", s.Plan.TotalEstimatedTime, strings.Join(s.Plan.CriticalPath, " -> "))
		printTasks(s.Plan.Tasks)
		return nil
	},
}

var executeCmd = &cobra.Command{
	Use:   "execute <session-id>",
	Short: "Start executing a planned session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id := args[0]
		if err := call(http.MethodPost, "/api/plans/"+id+"/execute", nil, nil); err != nil {
			return err
		}
		if !executeWait {
			fmt.Printf("Session %s accepted\n", id)
			return nil
		}
		for {
			var snap orchestrator.Snapshot
			if err := call(http.MethodGet, "/api/plans/"+id+"/snapshot", nil, &snap); err != nil {
				return err
			}
			switch snap.Status {
			case orchestrator.SessionCompleted, orchestrator.SessionFailed:
				printSnapshot(&snap)
				if snap.Status == orchestrator.SessionFailed {
					return fmt.Errorf("session %s failed", id)
				}
				return nil
			}
			select {
			case <-cmd.Context().Done():
				return cmd.Context().Err()
			case <-time.After(executeInterval):
			}
		}
	},
}

var snapshotCmd = &cobra.Command{
	Use:   "snapshot <session-id>",
	Short: "Show task states and bus traffic of a session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var snap orchestrator.Snapshot
		if err := call(http.MethodGet, "/api/plans/"+args[0]+"/snapshot", nil, &snap); err != nil {
			return err
		}
		if !rawOutput {
			printSnapshot(&snap)
		}
		return nil
	},
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show message bus statistics",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		var st bus.Stats
		if err := call(http.MethodGet, "/api/bus/stats", nil, &st); err != nil {
			return err
		}
		if rawOutput {
			return nil
		}
		fmt.Printf("Messages:     %d (failed %d, timed out %d)\n", st.TotalMessages, st.Failed, st.TimedOut)
		fmt.Printf("Responses:    %d, avg %s\n", st.Responses, st.AvgResponseTime)
		fmt.Printf("Queue:        %d queued, %d pending\n", st.QueueDepth, st.Pending)
		fmt.Printf("History:      %d\n", st.HistorySize)
		fmt.Printf("Subscribers:  %d\n", st.Subscribers)
		if len(st.ByType) > 0 {
			fmt.Println()
			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "TYPE\tCOUNT")
			for _, t := range []bus.MessageType{bus.TypeRequest, bus.TypeResponse, bus.TypeError, bus.TypeStatus, bus.TypeBroadcast, bus.TypeHandoff} {
				if n := st.ByType[t]; n > 0 {
					fmt.Fprintf(w, "%s\t%d\n", t, n)
				}
			}
			w.Flush()
		}
		return nil
	},
}

var agentsCmd = &cobra.Command{
	Use:   "agents",
	Short: "List agent profiles and their observed performance",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		var agents []api.AgentView
		if err := call(http.MethodGet, "/api/agents", nil, &agents); err != nil {
			return err
		}
		if rawOutput {
			return nil
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "AGENT\tMAX\tCOST\tRELIABILITY\tRUNS\tSUCCESS")
		for _, a := range agents {
			fmt.Fprintf(w, "%s\t%s\t%.2f\t%.2f\t%d\t%.0f%%\n",
				a.Type, a.MaxComplexity, a.CostPerOperation, a.Reliability,
				a.Performance.Executions, a.SuccessRate*100)
		}
		return w.Flush()
	},
}

func init() {
	executeCmd.Flags().BoolVar(&executeWait, "wait", false, "poll until the session finishes")
	executeCmd.Flags().DurationVar(&executeInterval, "interval", 500*time.Millisecond, "poll interval with --wait")
}

func printTasks(tasks []*plan.Task) {
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tLEVEL\tSTATUS\tAGENT\tPRIORITY\tDEPENDS ON\tTITLE")
	for _, t := range tasks {
		deps := strings.Join(t.Dependencies, ",")
		if deps == "" {
			deps = "-"
		}
		fmt.Fprintf(w, "%s\t%d\t%s\t%s\t%s\t%s\t%s\n",
			t.ID, t.Level, t.Status, t.AssignedAgent, t.Priority, deps, t.Title)
	}
	w.Flush()
}

func printSnapshot(snap *orchestrator.Snapshot) {
	fmt.Printf("Session %s: %s\n", snap.SessionID, snap.Status)
	parts := make([]string, 0, len(snap.Counts))
	for _, s := range []plan.Status{plan.StatusCompleted, plan.StatusFailed, plan.StatusSkipped, plan.StatusInProgress, plan.StatusBlocked, plan.StatusPending} {
		if n := snap.Counts[s]; n > 0 {
			parts = append(parts, fmt.Sprintf("%s=%d", s, n))
		}
	}
	fmt.Printf("Tasks: %s\n\n", strings.Join(parts, " "))
	printTasks(snap.Tasks)
	for _, t := range snap.Tasks {
		if t.Error != "" {
			fmt.Printf("\n%s: %s", t.ID, t.Error)
		}
	}
	fmt.Printf("\n%d bus messages exchanged\n", len(snap.Messages))
}
