package result

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"html/template"

	"github.com/qen-labs/execserv/internal/trace"
)

// ReportFormat selects the rendering in Render.
type ReportFormat string

const (
	FormatJSON ReportFormat = "json"
	FormatHTML ReportFormat = "html"
	FormatCSV  ReportFormat = "csv"
)

// Report bundles a trace with its processed result for rendering
// (spec §4.6 "Reports"). Suite is only populated for test_suite
// executions, where Steps holds one entry per child case.
type Report struct {
	Trace        trace.ExecutionTrace
	Processed    Processed
	Steps        []trace.StepResult
	IncludeSteps bool
	Suite        *SuiteAggregate
}

// NewReport builds a Report, computing the suite aggregate when trace
// is a test_suite execution.
func NewReport(tr trace.ExecutionTrace, processed Processed, steps []trace.StepResult, includeSteps bool) Report {
	r := Report{Trace: tr, Processed: processed, Steps: steps, IncludeSteps: includeSteps}
	if tr.ExecutionType == trace.TypeTestSuite {
		agg := BuildSuiteAggregate(steps, tr.Status)
		r.Suite = &agg
	}
	return r
}

// Render produces the report in the requested format.
func Render(r Report, format ReportFormat) ([]byte, error) {
	switch format {
	case FormatHTML:
		return renderHTML(r)
	case FormatCSV:
		return renderCSV(r)
	default:
		return renderJSON(r)
	}
}

func renderJSON(r Report) ([]byte, error) {
	payload := struct {
		Trace     trace.ExecutionTrace `json:"trace"`
		Processed Processed            `json:"result"`
		Steps     []trace.StepResult   `json:"steps,omitempty"`
		Suite     *SuiteAggregate      `json:"suite,omitempty"`
	}{Trace: r.Trace, Processed: r.Processed, Suite: r.Suite}
	if r.IncludeSteps {
		payload.Steps = r.Steps
	}
	return json.MarshalIndent(payload, "", "  ")
}

var htmlReportTmpl = template.Must(template.New("report").Parse(`<!DOCTYPE html>
<html>
<head><title>Execution Report: {{.Trace.ExecutionID}}</title></head>
<body>
<h1>Execution {{.Trace.ExecutionID}}</h1>
<h2>Summary</h2>
<table border="1" cellpadding="4">
<tr><th>Status</th><td>{{.Trace.Status}}</td></tr>
<tr><th>Execution Type</th><td>{{.Trace.ExecutionType}}</td></tr>
<tr><th>Triggered By</th><td>{{.Trace.TriggeredBy}}</td></tr>
<tr><th>Total Steps</th><td>{{.Processed.Statistics.TotalSteps}}</td></tr>
<tr><th>Passed</th><td>{{.Processed.Statistics.PassedSteps}}</td></tr>
<tr><th>Failed</th><td>{{.Processed.Statistics.FailedSteps}}</td></tr>
<tr><th>Success Rate</th><td>{{printf "%.1f" .Processed.Statistics.SuccessRate}}</td></tr>
</table>
{{if .Suite}}
<h2>Suite Aggregate</h2>
<table border="1" cellpadding="4">
<tr><th>Total Children</th><td>{{.Suite.TotalChildren}}</td></tr>
<tr><th>Overall Status</th><td>{{.Suite.OverallStatus}}</td></tr>
<tr><th>Success Rate</th><td>{{printf "%.1f" .Suite.SuccessRate}}</td></tr>
<tr><th>Average Duration (ms)</th><td>{{printf "%.0f" .Suite.AvgDurationMs}}</td></tr>
</table>
{{end}}
{{if .Processed.Recommendations}}
<h2>Recommendations</h2>
<ul>
{{range .Processed.Recommendations}}<li>{{.}}</li>
{{end}}
</ul>
{{end}}
{{if .IncludeSteps}}
<h2>Steps</h2>
<table border="1" cellpadding="4">
<tr><th>#</th><th>Name</th><th>Status</th><th>Duration (ms)</th></tr>
{{range .Steps}}<tr><td>{{.StepOrder}}</td><td>{{.StepName}}</td><td>{{.Status}}</td><td>{{if .DurationMs}}{{.DurationMs}}{{end}}</td></tr>
{{end}}
</table>
{{end}}
</body>
</html>
`))

func renderHTML(r Report) ([]byte, error) {
	var buf bytes.Buffer
	if err := htmlReportTmpl.Execute(&buf, r); err != nil {
		return nil, fmt.Errorf("render html report: %w", err)
	}
	return buf.Bytes(), nil
}

func renderCSV(r Report) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	if r.IncludeSteps && len(r.Steps) > 0 {
		if err := w.Write([]string{"execution_id", "step_order", "step_name", "status", "duration_ms"}); err != nil {
			return nil, err
		}
		for _, s := range r.Steps {
			duration := ""
			if s.DurationMs != nil {
				duration = fmt.Sprintf("%d", *s.DurationMs)
			}
			row := []string{
				r.Trace.ExecutionID,
				fmt.Sprintf("%d", s.StepOrder),
				s.StepName,
				string(s.Status),
				duration,
			}
			if err := w.Write(row); err != nil {
				return nil, err
			}
		}
	} else {
		header := []string{"execution_id", "status", "execution_type", "total_steps", "passed_steps", "failed_steps", "success_rate"}
		row := []string{
			r.Trace.ExecutionID,
			string(r.Trace.Status),
			string(r.Trace.ExecutionType),
			fmt.Sprintf("%d", r.Processed.Statistics.TotalSteps),
			fmt.Sprintf("%d", r.Processed.Statistics.PassedSteps),
			fmt.Sprintf("%d", r.Processed.Statistics.FailedSteps),
			fmt.Sprintf("%.4f", r.Processed.Statistics.SuccessRate),
		}
		if r.Suite != nil {
			header = append(header, "suite_total_children", "suite_success_rate")
			row = append(row, fmt.Sprintf("%d", r.Suite.TotalChildren), fmt.Sprintf("%.4f", r.Suite.SuccessRate))
		}
		if err := w.Write(header); err != nil {
			return nil, err
		}
		if err := w.Write(row); err != nil {
			return nil, err
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
