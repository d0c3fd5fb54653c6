// Package report renders benchmark results and device listings as console
// tables.
package report

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/jonassorgenfrei/OpenCL/internal/bench"
	"github.com/jonassorgenfrei/OpenCL/internal/gpu"
	"github.com/jonassorgenfrei/OpenCL/internal/strategy"
)

func newWriter(w io.Writer) table.Writer {
	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	tw.SetStyle(table.StyleLight)
	return tw
}

// Results writes the per-strategy summary of res.
func Results(w io.Writer, res *bench.Result) {
	fmt.Fprintf(w, "Using device: %s (%s), order %d\n", res.Device.Name, res.Device.Type, res.Order)

	tw := newWriter(w)
	tw.AppendHeader(table.Row{"Strategy", "Description", "Range", "Runs", "Best ms", "Mean ms", "Best MFLOPS", "Worst errsq", "Status"})
	tw.SetColumnConfigs([]table.ColumnConfig{
		{Number: 4, Align: text.AlignRight},
		{Number: 5, Align: text.AlignRight},
		{Number: 6, Align: text.AlignRight},
		{Number: 7, Align: text.AlignRight},
		{Number: 8, Align: text.AlignRight},
	})

	if res.Host != nil {
		tw.AppendRow(row(*res.Host, "host"))
		tw.AppendSeparator()
	}
	for _, sr := range res.Strategies {
		tw.AppendRow(row(sr, sr.Plan.Range.String()))
	}
	tw.Render()
}

func row(sr bench.StrategyResult, rng string) table.Row {
	best, ok := sr.Best()
	if !ok {
		return table.Row{sr.Kind, sr.Description, rng, 0, "-", "-", "-", "-", status(sr)}
	}
	return table.Row{
		sr.Kind,
		sr.Description,
		rng,
		len(sr.Iterations),
		millis(best.Duration),
		millis(sr.Mean()),
		fmt.Sprintf("%.1f", best.MFLOPS),
		fmt.Sprintf("%g", sr.WorstErrSq()),
		status(sr),
	}
}

func status(sr bench.StrategyResult) string {
	switch {
	case sr.Err != nil:
		return "FAILED: " + gpu.KindOf(sr.Err).String()
	case sr.Verified():
		return "ok"
	default:
		return "out of tolerance"
	}
}

func millis(d time.Duration) string {
	return fmt.Sprintf("%.3f", float64(d.Microseconds())/1000)
}

// Devices writes the device list with the indices accepted by --device.
func Devices(w io.Writer, devices []gpu.DeviceInfo) {
	tw := newWriter(w)
	tw.AppendHeader(table.Row{"#", "Name", "Type", "Vendor", "Compute units", "Max work-group", "Global MiB", "Local KiB", "Extensions"})
	for i, d := range devices {
		tw.AppendRow(table.Row{
			i,
			d.Name,
			d.Type,
			d.Vendor,
			d.ComputeUnits,
			d.MaxWorkGroupSize,
			d.TotalMemory / (1024 * 1024),
			d.LocalMemory / 1024,
			strings.Join(d.Extensions, " "),
		})
	}
	tw.Render()
}

// Strategies writes the dispatch configuration every strategy uses at
// order n. Strategies that cannot be planned show the reason.
func Strategies(w io.Writer, strategies []strategy.Strategy, n int, opts strategy.Options) {
	tw := newWriter(w)
	tw.AppendHeader(table.Row{"Strategy", "Description", "Source", "Range", "Local bytes", "Private floats", "Barriers/item"})
	for _, s := range strategies {
		plan, err := s.Plan(n, opts)
		if err != nil {
			tw.AppendRow(table.Row{s.Kind(), s.Description(), s.SourceFile(), err.Error(), "-", "-", "-"})
			continue
		}
		tw.AppendRow(table.Row{
			s.Kind(),
			s.Description(),
			s.SourceFile(),
			plan.Range.String(),
			plan.LocalBytes(),
			plan.PrivateFloats,
			plan.BarriersPerItem,
		})
	}
	tw.Render()
}
