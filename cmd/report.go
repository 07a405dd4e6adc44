package cmd

import (
	"fmt"
	"strings"

	"github.com/nixsecrets/nixos-secrets/internal/rekey"
	"github.com/nixsecrets/nixos-secrets/internal/ui"
	"github.com/nixsecrets/nixos-secrets/internal/workflows"
)

// outcomeOrder is the order outcomes are listed in summaries.
var outcomeOrder = []rekey.Outcome{
	rekey.OutcomeCreated,
	rekey.OutcomeRekeyed,
	rekey.OutcomeUnchanged,
	rekey.OutcomeSkipped,
	rekey.OutcomeFailed,
	rekey.OutcomeOrphaned,
}

func outcomeMark(o rekey.Outcome) string {
	switch o {
	case rekey.OutcomeFailed:
		return ui.Cross()
	case rekey.OutcomeSkipped, rekey.OutcomeOrphaned:
		return ui.Bang()
	default:
		return ui.Tick()
	}
}

func outcomeText(res rekey.Result) string {
	if !res.Planned {
		return res.Outcome.String()
	}
	switch res.Outcome {
	case rekey.OutcomeCreated:
		return "would create"
	case rekey.OutcomeRekeyed:
		return "would rekey"
	default:
		return res.Outcome.String()
	}
}

func resultDetail(res rekey.Result) string {
	switch {
	case res.Err != nil:
		return ui.Muted.Sprint(res.Err.Error())
	case res.Outcome == rekey.OutcomeRekeyed && res.DecryptedWith != "":
		return ui.Muted.Sprint("read with " + res.DecryptedWith + ", sealed to " + strings.Join(res.Recipients, ", "))
	case res.Outcome == rekey.OutcomeCreated:
		return ui.Muted.Sprint("sealed to " + strings.Join(res.Recipients, ", "))
	default:
		return ""
	}
}

// renderReport formats one line per secret and a summary. withState adds a
// column with the state each secret was found in.
func renderReport(report *workflows.RunReport, withState bool) string {
	if len(report.Results) == 0 {
		return ui.Tick() + " The manifest declares no secrets and the store is empty."
	}

	rows := make([][]string, 0, len(report.Results))
	for _, res := range report.Results {
		row := []string{outcomeMark(res.Outcome), res.Name}
		if withState {
			row = append(row, res.State.String())
		}
		row = append(row, outcomeText(res), resultDetail(res))
		rows = append(rows, row)
	}

	var b strings.Builder
	if report.DryRun {
		b.WriteString(ui.Warning.Sprint("[dry-run]") + " No changes made.\n")
	}
	b.WriteString(ui.Table(rows))
	b.WriteString("\n" + summarize(report))

	counts := report.Counts()
	if counts[rekey.OutcomeOrphaned] > 0 {
		b.WriteString("\n" + ui.Arrow() + " Orphaned secrets are never touched; remove them with " +
			ui.Code.Sprint("nixos-secrets delete NAME"))
	}
	if counts[rekey.OutcomeSkipped] > 0 {
		b.WriteString("\n" + ui.Arrow() + " Skipped secrets need a local key among their recipients, or " +
			ui.Flag.Sprint("--prompt") + " for new ones")
	}
	return b.String()
}

func summarize(report *workflows.RunReport) string {
	counts := report.Counts()
	var parts []string
	for _, o := range outcomeOrder {
		if n := counts[o]; n > 0 {
			parts = append(parts, fmt.Sprintf("%d %s", n, o))
		}
	}

	mark := ui.Tick()
	if report.Err() != nil {
		mark = ui.Cross()
	}
	return fmt.Sprintf("%s %d secret(s): %s %s", mark, len(report.Results), strings.Join(parts, ", "),
		ui.Muted.Sprint("run "+report.RunID))
}
