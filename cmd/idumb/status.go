package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/jaakkos/idumb/internal/delegation"
	"github.com/jaakkos/idumb/internal/domain"
	"github.com/jaakkos/idumb/internal/taskgraph"
)

func statusCmd() *cobra.Command {
	var (
		asJSON bool
		all    bool
	)
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show plans, the active plan's tasks and open delegations",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := openRuntime(cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer rt.close()

			_, reason := rt.svc.Degraded()
			var report statusReport
			err = rt.svc.Query(func(st *domain.GovernanceState) error {
				report = buildStatus(st, rt.svc.Now(), rt.pol.TaskStaleAfter(), all)
				return nil
			})
			if err != nil {
				return err
			}
			report.Degraded = reason
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(report)
			}
			report.render(cmd.OutOrStdout())
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "output JSON")
	cmd.Flags().BoolVar(&all, "all", false, "include purged plans and closed delegations")
	return cmd
}

type statusReport struct {
	Degraded    string          `json:"degraded,omitempty"`
	ActivePlan  string          `json:"active_plan,omitempty"`
	Plans       []statusPlan    `json:"plans"`
	Tasks       []statusTask    `json:"tasks"`
	Delegations []statusDelegation `json:"delegations"`
}

type statusPlan struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Category string `json:"category"`
	Level    string `json:"level"`
	Status   string `json:"status"`
	Progress string `json:"progress"`
}

type statusTask struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Status      string `json:"status"`
	AssignedTo  string `json:"assigned_to"`
	Stale       bool   `json:"stale"`
	Checkpoints int    `json:"checkpoints"`
	DependsOn   string `json:"depends_on,omitempty"`
}

type statusDelegation struct {
	ID     string `json:"id"`
	From   string `json:"from"`
	To     string `json:"to"`
	TaskID string `json:"task_id"`
	Status string `json:"status"`
}

func buildStatus(st *domain.GovernanceState, now time.Time, stale time.Duration, all bool) statusReport {
	r := statusReport{Plans: []statusPlan{}, Tasks: []statusTask{}, Delegations: []statusDelegation{}}
	for _, p := range st.Graph.WorkPlans {
		if p.PurgedAt != nil && !all {
			continue
		}
		done, total := p.Progress()
		r.Plans = append(r.Plans, statusPlan{
			ID:       p.ID,
			Name:     p.Name,
			Category: string(p.Category),
			Level:    string(p.GovernanceLevel),
			Status:   string(p.Status),
			Progress: fmt.Sprintf("%d/%d", done, total),
		})
	}
	if plan := taskgraph.ActivePlan(st.Graph); plan != nil {
		r.ActivePlan = fmt.Sprintf("%s %s", plan.ID, plan.Name)
		for _, t := range plan.Tasks {
			r.Tasks = append(r.Tasks, statusTask{
				ID:          t.ID,
				Name:        t.Name,
				Status:      string(t.Status),
				AssignedTo:  t.AssignedTo,
				Stale:       taskgraph.IsStale(t, now, stale),
				Checkpoints: len(t.Checkpoints),
				DependsOn:   strings.Join(t.DependsOn, ", "),
			})
		}
	}
	recs := st.Delegations.Delegations
	if !all {
		recs = delegation.Open(st.Delegations)
	}
	for _, d := range recs {
		r.Delegations = append(r.Delegations, statusDelegation{
			ID: d.ID, From: d.FromAgent, To: d.ToAgent, TaskID: d.TaskID, Status: string(d.Status),
		})
	}
	return r
}

func (r statusReport) render(w io.Writer) {
	if r.Degraded != "" {
		fmt.Fprintf(w, "DEGRADED: %s\n\n", r.Degraded)
	}
	if len(r.Plans) == 0 {
		fmt.Fprintln(w, "No plans.")
		return
	}

	pt := table.NewWriter()
	pt.SetOutputMirror(w)
	pt.SetTitle("Plans")
	pt.AppendHeader(table.Row{"ID", "Name", "Category", "Level", "Status", "Done"})
	for _, p := range r.Plans {
		pt.AppendRow(table.Row{p.ID, p.Name, p.Category, p.Level, p.Status, p.Progress})
	}
	pt.Render()

	if r.ActivePlan != "" {
		fmt.Fprintln(w)
		tt := table.NewWriter()
		tt.SetOutputMirror(w)
		tt.SetTitle("Tasks: " + r.ActivePlan)
		tt.AppendHeader(table.Row{"ID", "Name", "Status", "Assigned", "Checkpoints", "Depends on"})
		for _, t := range r.Tasks {
			status := t.Status
			if t.Stale {
				status += " (stale)"
			}
			tt.AppendRow(table.Row{t.ID, t.Name, status, t.AssignedTo, t.Checkpoints, t.DependsOn})
		}
		tt.Render()
	}

	if len(r.Delegations) > 0 {
		fmt.Fprintln(w)
		dt := table.NewWriter()
		dt.SetOutputMirror(w)
		dt.SetTitle("Delegations")
		dt.AppendHeader(table.Row{"ID", "From", "To", "Task", "Status"})
		for _, d := range r.Delegations {
			dt.AppendRow(table.Row{d.ID, d.From, d.To, d.TaskID, d.Status})
		}
		dt.Render()
	}
}
