package app

import (
	"io"
	"strconv"

	"github.com/olekukonko/tablewriter"

	"github.com/engagement-analysis/advert-sync/internal/sync"
)

// writeReport renders one row per reconciled target
func writeReport(w io.Writer, reports []sync.TargetReport, dryRun bool) error {
	table := tablewriter.NewWriter(w)
	synced := "Newly synced"
	if dryRun {
		synced = "Would sync"
	}
	table.Header("Target", "Kind", "Desired", "Previously synced", synced, "Phase")

	for _, r := range reports {
		n := r.NewlySynced
		if dryRun {
			n = r.ToSync
		}
		row := []string{
			r.Target.Name,
			string(r.Target.Kind),
			strconv.Itoa(r.Desired),
			strconv.Itoa(r.PreviouslySynced),
			strconv.Itoa(n),
			string(r.Phase),
		}
		if err := table.Append(row); err != nil {
			return err
		}
	}
	return table.Render()
}
