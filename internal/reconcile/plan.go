package reconcile

import (
	"context"
	"fmt"
	"strings"

	"github.com/dokzlo13/guildsync/internal/blueprint"
	"github.com/dokzlo13/guildsync/internal/guild"
)

// Action is what Apply would do with an entity.
type Action string

// Plan actions
const (
	ActionCreate Action = "create"
	ActionUpdate Action = "update"
)

// Subject kinds that are not channels.
const (
	SubjectRole     = "role"
	SubjectCategory = "category"
)

// PlanLine is one planned change. Subject is "role", "category" or a
// channel kind. Matched is set on an update whose existing channel has a
// different kind than Subject: a stage spec updates a same-named voice
// channel rather than creating a stage.
type PlanLine struct {
	Action   Action `json:"action"`
	Subject  string `json:"subject"`
	Category string `json:"category,omitempty"`
	Name     string `json:"name"`
	Matched  string `json:"matched,omitempty"`
}

func (l PlanLine) String() string {
	prefix := "+ create "
	if l.Action == ActionUpdate {
		prefix = "~ update "
	}
	switch l.Subject {
	case SubjectRole, SubjectCategory:
		return prefix + l.Subject + ": " + l.Name
	default:
		line := fmt.Sprintf("%s%s channel: %s/#%s", prefix, l.Subject, l.Category, l.Name)
		if l.Matched != "" {
			line += " (existing " + l.Matched + " channel)"
		}
		return line
	}
}

// Plan reads the live state and reports what Apply would do, without
// mutating anything.
func (r *Reconciler) Plan(ctx context.Context, q guild.Query, bp *blueprint.Blueprint) ([]PlanLine, error) {
	live, err := q.Snapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("read live state: %w", err)
	}
	return Plan(live, bp), nil
}

// Plan computes the plan for bp against a live snapshot. Role and
// category lines appear only for creations; every channel gets a create
// or update line, classified with the same existence test Apply uses. A
// stage spec whose name is held by a voice channel reports as an update of
// that voice channel.
func Plan(live guild.Snapshot, bp *blueprint.Blueprint) []PlanLine {
	work := live.Clone()
	var lines []PlanLine

	for _, name := range bp.Roles {
		if _, ok := work.Role(name); ok {
			continue
		}
		lines = append(lines, PlanLine{Action: ActionCreate, Subject: SubjectRole, Name: name})
		work.AddRole(guild.Role{Name: name})
	}

	for _, cat := range bp.Categories {
		if cat.Name == "" {
			continue
		}
		if _, ok := work.Category(cat.Name); !ok {
			lines = append(lines, PlanLine{Action: ActionCreate, Subject: SubjectCategory, Name: cat.Name})
			work.AddCategory(guild.Category{Name: cat.Name})
		}
		for _, spec := range cat.Channels {
			if spec.Name == "" {
				continue
			}
			line := PlanLine{Action: ActionUpdate, Subject: string(spec.Kind), Category: cat.Name, Name: spec.Name}
			if existing, ok := findChannel(work, spec.Kind, spec.Name); !ok {
				line.Action = ActionCreate
				work.PutChannel(guild.Channel{Name: spec.Name, Kind: spec.Kind})
			} else if existing.Kind != spec.Kind {
				line.Matched = string(existing.Kind)
			}
			lines = append(lines, line)
		}
	}
	return lines
}

// FormatPlan renders plan lines as a human-readable report.
func FormatPlan(lines []PlanLine) string {
	var b strings.Builder
	b.WriteString("Dry-Run Plan:")
	for _, l := range lines {
		b.WriteByte('\n')
		b.WriteString(l.String())
	}
	return b.String()
}

// Creates counts the create lines of a plan.
func Creates(lines []PlanLine) int {
	n := 0
	for _, l := range lines {
		if l.Action == ActionCreate {
			n++
		}
	}
	return n
}
