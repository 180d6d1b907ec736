package reporting

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/ethereum-optimism/infra/op-testbridge/types"
)

// TableReporter prints a RunReport as a table
type TableReporter struct {
	Out io.Writer
	// Trace adds the failure chain of failed tests to the Error column
	Trace bool
}

// Render writes the table for report
func (r TableReporter) Render(report RunReport) {
	out := r.Out
	if out == nil {
		out = os.Stdout
	}

	t := table.NewWriter()
	t.SetOutputMirror(out)
	title := fmt.Sprintf("Test Run Results (%s)", formatDuration(report.Result.RunTime))
	if report.Suite.DisplayName != "" {
		title = fmt.Sprintf("%s: %s", report.Suite.DisplayName, title)
	}
	t.SetTitle(title)

	t.AppendHeader(table.Row{"Package", "Test", "Duration", "Status", "Error"})
	t.SetColumnConfigs([]table.ColumnConfig{
		{Name: "Package", AutoMerge: true, WidthMax: 50, WidthMaxEnforcer: text.WrapSoft},
		{Name: "Test", WidthMax: 50, WidthMaxEnforcer: text.WrapSoft},
		{Name: "Duration", Align: text.AlignRight},
		{Name: "Error", WidthMax: 80, WidthMaxEnforcer: text.WrapSoft},
	})

	for _, test := range report.Tests {
		t.AppendRow(table.Row{
			test.Description.ClassName,
			testName(test.Description),
			formatDuration(test.Duration),
			getResultString(test.Status),
			r.errorText(test),
		})
	}

	for _, violation := range report.Violations {
		t.AppendRow(table.Row{"", "", "", getResultString(types.TestStatusError), violation})
	}

	switch report.Status {
	case types.TestStatusPass:
		t.SetStyle(table.StyleColoredBlackOnGreenWhite)
	case types.TestStatusSkip:
		t.SetStyle(table.StyleColoredBlackOnYellowWhite)
	default:
		t.SetStyle(table.StyleColoredBlackOnRedWhite)
	}

	t.AppendFooter(table.Row{
		"TOTAL",
		fmt.Sprintf("%d run, %d failed, %d ignored", report.Result.RunCount, report.Result.FailureCount, report.Result.IgnoreCount),
		formatDuration(report.Result.RunTime),
		getResultString(report.Status),
		"",
	})

	t.Render()
}

func (r TableReporter) errorText(test types.TestResult) string {
	switch {
	case test.Failure != nil && r.Trace:
		return test.Failure.Exception.Trace()
	case test.Failure != nil:
		return firstLine(test.Failure.Message())
	case test.Status == types.TestStatusError:
		return "no result reported"
	}
	return ""
}

func testName(desc types.Description) string {
	if desc.MethodName != "" {
		return desc.MethodName
	}
	return desc.DisplayName
}

func firstLine(s string) string {
	line, _, _ := strings.Cut(s, "\n")
	return line
}

func getResultString(status types.TestStatus) string {
	switch status {
	case types.TestStatusPass:
		return "✓ pass"
	case types.TestStatusSkip:
		return "- skip"
	case types.TestStatusError:
		return "! error"
	default:
		return "✗ fail"
	}
}

// Helper function to format duration to seconds with 1 decimal place
func formatDuration(d time.Duration) string {
	return fmt.Sprintf("%.1fs", d.Seconds())
}
