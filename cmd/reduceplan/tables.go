package main

import (
	"fmt"
	"io"
	"strconv"

	"github.com/born-ml/atomicreduce/reduce"
	"github.com/charmbracelet/lipgloss"
	lgtable "github.com/charmbracelet/lipgloss/table"
	"github.com/dustin/go-humanize"
)

var (
	headerRowStyle = lipgloss.NewStyle().Reverse(true).
			Padding(0, 2, 0, 2).Align(lipgloss.Center)
	oddRowStyle = lipgloss.NewStyle().Faint(false).
			PaddingLeft(1).PaddingRight(1)
	evenRowStyle = lipgloss.NewStyle().Faint(true).
			PaddingLeft(1).PaddingRight(1)
	titleStyle = lipgloss.NewStyle().Bold(true).Padding(1, 4, 0, 4)
	failStyle  = lipgloss.NewStyle().Bold(true).
			Foreground(lipgloss.AdaptiveColor{Light: "9", Dark: "9"})
	passStyle = lipgloss.NewStyle().Bold(true).
			Foreground(lipgloss.AdaptiveColor{Light: "2", Dark: "10"})
)

func newPlainTable(alignments ...lipgloss.Position) *lgtable.Table {
	return lgtable.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("99"))).
		StyleFunc(func(row, col int) (s lipgloss.Style) {
			switch {
			case row < 0:
				return headerRowStyle
			case row%2 == 0:
				s = oddRowStyle
			default:
				s = evenRowStyle
			}
			alignment := lipgloss.Left
			if col < len(alignments) {
				alignment = alignments[col]
			} else if len(alignments) > 0 {
				alignment = alignments[len(alignments)-1]
			}
			return s.Align(alignment)
		})
}

func report(w io.Writer, desc *reduce.Desc, device reduce.DeviceInfo, plan *reduce.PhasePlan) {
	sub := desc.Subproblem()
	fmt.Fprintln(w, titleStyle.Render("Reduction"))
	summary := newPlainTable(lipgloss.Right, lipgloss.Left)
	summary.Row("descriptor", desc.String())
	summary.Row("subproblem", sub.String())
	summary.Row("device", device.Name)
	summary.Row("accumulation type", plan.AccType.String())
	summary.Row("phase threshold", humanize.Comma(int64(plan.Threshold)))
	summary.Row("phases", strconv.Itoa(len(plan.Phases)))
	summary.Row("atomics", yesNo(plan.UsesAtomics()))
	if plan.Finalization != nil {
		summary.Row("finalization", plan.Finalization.String())
		summary.Row("final phase writes", finalTarget(plan))
	} else {
		summary.Row("finalization", "none")
	}
	sp := plan.Scratchpad
	summary.Row("global accumulator", fmt.Sprintf("%s x %s (%s)",
		humanize.Comma(int64(sp.GlobalAccElements)), sp.AccType, humanize.IBytes(sp.GlobalAccBytes())))
	summary.Row("local accumulator", humanize.IBytes(uint64(sp.LocalAccBytes)))
	fmt.Fprintln(w, summary.Render())

	fmt.Fprintln(w, titleStyle.Render("Phases"))
	phases := newPlainTable(lipgloss.Right, lipgloss.Right, lipgloss.Center, lipgloss.Center, lipgloss.Right)
	phases.Headers("#", "Rows", "First", "Final", "G", "Vect", "Unroll", "Local acc", "Global", "Work-group")
	for i, phase := range plan.Phases {
		key := phase.Key
		phases.Row(
			strconv.Itoa(i),
			fmt.Sprintf("%s..%s", humanize.Comma(int64(phase.ReductionStart)),
				humanize.Comma(int64(phase.ReductionStart+phase.ReductionSize))),
			yesNo(key.IsFirst),
			yesNo(key.IsFinal),
			strconv.Itoa(int(key.GlobalAcc)),
			strconv.Itoa(int(key.VectSize)),
			fmt.Sprintf("%d+%d", key.FullUnroll, key.TailUnroll),
			humanize.IBytes(uint64(key.LocalAcc)),
			dims3(phase.Runtime.Global),
			dims3(phase.Runtime.Local),
		)
	}
	fmt.Fprintln(w, phases.Render())
}

func finalTarget(plan *reduce.PhasePlan) string {
	if plan.FinalToAccumulator {
		return "accumulator " + plan.AccType.String()
	}
	return "destination"
}
