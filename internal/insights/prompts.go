package insights

import (
	"fmt"
	"strings"

	"git.home.luguber.info/inful/pmbus/internal/events"
	"git.home.luguber.info/inful/pmbus/internal/projection"
)

const summarySystem = `You are an IT project management analyst writing executive summaries for stakeholders.
Keep summaries concise, actionable and focused on business impact. Be explicit about blockers.
Always respond with a single JSON object.`

const riskSystem = `You are an IT project risk analyst specialising in infrastructure projects.
Identify schedule, resource, technical, dependency and quality risks that metrics alone may hide.
Always respond with a single JSON object.`

const genericSystem = `You are an IT project analyst. Always respond with a single JSON object.`

// responseShape is appended to every prompt so the insight fields can be read back.
const responseShape = `Respond with JSON containing at least:
  "severity": "low|medium|high|critical",
  "requires_attention": true|false,
  "headline": "one sentence status",
  "recommendations": ["action", ...]`

func systemPrompt(analysisType string) string {
	switch analysisType {
	case events.AnalysisSummary:
		return summarySystem
	case events.AnalysisRiskAssessment:
		return riskSystem
	default:
		return genericSystem
	}
}

func buildPrompt(req *events.AnalysisRequested, activity projection.ProjectActivity, known bool) string {
	var b strings.Builder
	switch req.AnalysisType {
	case events.AnalysisSummary:
		b.WriteString("Generate an executive summary for the following project.\n\n")
	case events.AnalysisRiskAssessment:
		b.WriteString("Analyse the following project for risks.\n\n")
	default:
		fmt.Fprintf(&b, "Produce a %q analysis for the following project.\n\n", req.AnalysisType)
	}

	fmt.Fprintf(&b, "PROJECT: %s\nPRIORITY: %s\n\n", req.ProjectID, req.Priority)
	if known {
		b.WriteString("RECORDED ACTIVITY:\n")
		fmt.Fprintf(&b, "- Tasks created: %d\n", activity.TasksCreated)
		fmt.Fprintf(&b, "- Tasks completed: %d\n", activity.TasksCompleted)
		fmt.Fprintf(&b, "- Status changes: %d\n", activity.StatusChanges)
		fmt.Fprintf(&b, "- Hours logged on completed tasks: %.1f\n", activity.ActualHours)
		fmt.Fprintf(&b, "- Milestones achieved: %d\n", activity.MilestonesAchieved)
		fmt.Fprintf(&b, "- Milestones missed: %d\n", activity.MilestonesMissed)
		if !activity.LastEventAt.IsZero() {
			fmt.Fprintf(&b, "- Last activity: %s\n", activity.LastEventAt.UTC().Format("2006-01-02"))
		}
		b.WriteString("\n")
	} else {
		b.WriteString("No recorded activity is available for this project.\n\n")
	}
	b.WriteString(responseShape)
	return b.String()
}
