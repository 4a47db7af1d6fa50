// internal/report/junit_reporter.go
package report

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/beevik/etree"

	"github.com/xkilldash9x/caliper-cli/api/schemas"
)

// JUnitReporter renders the batch result as JUnit XML: one testsuite per run,
// one testcase per scenario (completed ones from the report list, failed ones
// from the failure list). Scenario errors map to <error>, budget violations
// to <failure>, so CI dashboards show the two apart.
type JUnitReporter struct {
	writer io.WriteCloser
}

// NewJUnitReporter takes ownership of the writer.
func NewJUnitReporter(writer io.WriteCloser) *JUnitReporter {
	return &JUnitReporter{writer: writer}
}

func (r *JUnitReporter) Write(result *schemas.BatchResult) error {
	doc := etree.NewDocument()
	doc.CreateProcInst("xml", `version="1.0" encoding="UTF-8"`)

	suites := doc.CreateElement("testsuites")
	suite := suites.CreateElement("testsuite")
	suite.CreateAttr("name", "caliper")
	suite.CreateAttr("tests", strconv.Itoa(result.Summary.TotalScenarios))
	suite.CreateAttr("errors", strconv.Itoa(result.Summary.Failed))
	suite.CreateAttr("timestamp", result.StartedAt.Format(time.RFC3339))
	suite.CreateAttr("time", junitSeconds(result.FinishedAt.Sub(result.StartedAt)))

	props := suite.CreateElement("properties")
	addProperty(props, "runId", result.RunID)
	if result.VCS != nil {
		addProperty(props, "vcs.commit", result.VCS.Commit)
		if result.VCS.Branch != "" {
			addProperty(props, "vcs.branch", result.VCS.Branch)
		}
		addProperty(props, "vcs.dirty", strconv.FormatBool(result.VCS.Dirty))
	}

	failures := 0
	for i := range result.Reports {
		rep := &result.Reports[i]

		tc := suite.CreateElement("testcase")
		tc.CreateAttr("name", rep.Scenario)
		tc.CreateAttr("classname", "caliper.scenarios")
		tc.CreateAttr("time", junitSeconds(time.Duration(rep.DurationMs*float64(time.Millisecond))))

		violations := violationsFor(result.Summary.BudgetViolations, rep.Scenario)
		for _, v := range violations {
			f := tc.CreateElement("failure")
			f.CreateAttr("message", v)
			f.CreateAttr("type", "BudgetViolation")
		}
		if len(violations) > 0 {
			failures++
		}
	}

	// Scenarios that never completed live in the failure list, not the report
	// list; they still get a testcase so CI shows the whole batch.
	for i := range result.Failures {
		f := &result.Failures[i]

		tc := suite.CreateElement("testcase")
		tc.CreateAttr("name", f.Scenario)
		tc.CreateAttr("classname", "caliper.scenarios")
		tc.CreateAttr("time", junitSeconds(time.Duration(f.DurationMs*float64(time.Millisecond))))

		errEl := tc.CreateElement("error")
		errEl.CreateAttr("message", f.Error)
	}
	suite.CreateAttr("failures", strconv.Itoa(failures))

	doc.Indent(2)
	if _, err := doc.WriteTo(r.writer); err != nil {
		return fmt.Errorf("writing junit report: %w", err)
	}
	return nil
}

func (r *JUnitReporter) Close() error {
	return r.writer.Close()
}

func addProperty(props *etree.Element, name, value string) {
	p := props.CreateElement("property")
	p.CreateAttr("name", name)
	p.CreateAttr("value", value)
}

// violationsFor picks the violations raised for one scenario; the evaluator
// prefixes every message with the quoted scenario name.
func violationsFor(all []string, scenario string) []string {
	prefix := fmt.Sprintf("scenario %q:", scenario)
	var out []string
	for _, v := range all {
		if strings.HasPrefix(v, prefix) {
			out = append(out, v)
		}
	}
	return out
}

func junitSeconds(d time.Duration) string {
	return strconv.FormatFloat(d.Seconds(), 'f', 3, 64)
}
