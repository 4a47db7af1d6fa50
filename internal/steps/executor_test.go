// internal/steps/executor_test.go
package steps

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/chromedp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/caliper-cli/api/schemas"
)

// fakePage records every call the executor makes. Run can be slowed down or
// made to fail; Evaluate answers with a canned JSON payload.
type fakePage struct {
	mu          sync.Mutex
	runs        [][]chromedp.Action
	navigations []string
	evals       []string

	runErr      error
	navErr      error
	evalErr     error
	evalPayload string
	runDelay    time.Duration
}

func (f *fakePage) Run(ctx context.Context, actions ...chromedp.Action) error {
	f.mu.Lock()
	f.runs = append(f.runs, actions)
	delay := f.runDelay
	err := f.runErr
	f.mu.Unlock()

	if delay > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return err
}

func (f *fakePage) Navigate(_ context.Context, url string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.navigations = append(f.navigations, url)
	return f.navErr
}

func (f *fakePage) Evaluate(_ context.Context, expression string, out interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.evals = append(f.evals, expression)
	if f.evalErr != nil {
		return f.evalErr
	}
	if out == nil {
		return nil
	}
	payload := f.evalPayload
	if payload == "" {
		payload = "null"
	}
	return json.Unmarshal([]byte(payload), out)
}

func newTestExecutor(t *testing.T) *Executor {
	t.Helper()
	return NewExecutor(zaptest.NewLogger(t), 0)
}

func TestExecuteAllRunsStepsInOrder(t *testing.T) {
	t.Parallel()

	page := &fakePage{}
	exec := newTestExecutor(t)

	steps := []schemas.Step{
		schemas.NavigateStep{URL: "https://example.com/pricing", Deadline: time.Second},
		schemas.ClickStep{Selector: "#plans", Deadline: time.Second},
		schemas.TypeStep{Selector: "input[name=q]", Text: "team", Deadline: time.Second},
		schemas.WaitStep{Selector: ".results", Deadline: time.Second},
	}
	require.NoError(t, exec.ExecuteAll(context.Background(), page, steps))

	require.Equal(t, []string{"https://example.com/pricing"}, page.navigations)
	require.Len(t, page.runs, 3)
	assert.Len(t, page.runs[0], 2, "click is wait-visible then click")
	assert.Len(t, page.runs[1], 3, "type is wait-visible, focus, send-keys")
	assert.Len(t, page.runs[2], 1, "selector wait is a single wait-visible")
}

func TestExecuteAllStopsAtFirstFailure(t *testing.T) {
	t.Parallel()

	boom := errors.New("node not found")
	page := &fakePage{runErr: boom}
	exec := newTestExecutor(t)

	steps := []schemas.Step{
		schemas.ClickStep{Selector: "#gone", Deadline: time.Second},
		schemas.ClickStep{Selector: "#never-reached", Deadline: time.Second},
	}
	err := exec.ExecuteAll(context.Background(), page, steps)
	require.Error(t, err)

	var stepErr *StepError
	require.ErrorAs(t, err, &stepErr)
	assert.Equal(t, 0, stepErr.Index)
	assert.Contains(t, stepErr.Step, "#gone")
	assert.ErrorIs(t, err, boom)

	assert.Len(t, page.runs, 1, "a failed step aborts the rest")
}

func TestExecuteStepDeadline(t *testing.T) {
	t.Parallel()

	page := &fakePage{runDelay: 5 * time.Second}
	exec := newTestExecutor(t)

	steps := []schemas.Step{
		schemas.ClickStep{Selector: "#slow", Deadline: 30 * time.Millisecond},
	}
	start := time.Now()
	err := exec.ExecuteAll(context.Background(), page, steps)

	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Contains(t, err.Error(), "timed out after 30ms")
	assert.Less(t, time.Since(start), time.Second)
}

func TestNavigateStepSettles(t *testing.T) {
	t.Parallel()

	page := &fakePage{}
	exec := NewExecutor(zaptest.NewLogger(t), 50*time.Millisecond)

	start := time.Now()
	require.NoError(t, exec.ExecuteAll(context.Background(), page, []schemas.Step{
		schemas.NavigateStep{URL: "https://example.com/next", Deadline: time.Second},
	}))

	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond,
		"a navigate step pauses for the settle after the document is ready")
	assert.Equal(t, []string{"https://example.com/next"}, page.navigations)
}

func TestNavigateSettleHonorsContext(t *testing.T) {
	t.Parallel()

	exec := NewExecutor(zaptest.NewLogger(t), 10*time.Second)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := exec.ExecuteAll(ctx, &fakePage{}, []schemas.Step{
		schemas.NavigateStep{URL: "https://example.com", Deadline: time.Minute},
	})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNavigateFailureSkipsSettle(t *testing.T) {
	t.Parallel()

	page := &fakePage{navErr: errors.New("net::ERR_NAME_NOT_RESOLVED")}
	exec := NewExecutor(zaptest.NewLogger(t), 10*time.Second)

	start := time.Now()
	err := exec.ExecuteAll(context.Background(), page, []schemas.Step{
		schemas.NavigateStep{URL: "https://nope.invalid", Deadline: time.Second},
	})
	require.Error(t, err)
	assert.Less(t, time.Since(start), time.Second, "a failed navigation must not pay the settle")
}

func TestSelectorlessWaitSleeps(t *testing.T) {
	t.Parallel()

	page := &fakePage{}
	exec := newTestExecutor(t)

	steps := []schemas.Step{schemas.WaitStep{Deadline: 50 * time.Millisecond}}

	start := time.Now()
	require.NoError(t, exec.ExecuteAll(context.Background(), page, steps))
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)

	assert.Empty(t, page.runs, "a bare wait touches no browser API")
	assert.Empty(t, page.evals)
}

func TestSelectorlessWaitHonorsContext(t *testing.T) {
	t.Parallel()

	exec := newTestExecutor(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := exec.ExecuteAll(ctx, &fakePage{}, []schemas.Step{
		schemas.WaitStep{Deadline: 10 * time.Second},
	})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestScrollEvaluatesScript(t *testing.T) {
	t.Parallel()

	page := &fakePage{}
	exec := newTestExecutor(t)

	steps := []schemas.Step{schemas.ScrollStep{Deadline: time.Second}}
	require.NoError(t, exec.ExecuteAll(context.Background(), page, steps))

	require.Len(t, page.evals, 1)
	assert.Equal(t, scrollToEndScript, page.evals[0])
	assert.Empty(t, page.runs)
}

func TestHoverDispatchesMouseMove(t *testing.T) {
	t.Parallel()

	page := &fakePage{evalPayload: `{"x":140.5,"y":60.25}`}
	exec := newTestExecutor(t)

	steps := []schemas.Step{schemas.HoverStep{Selector: "#menu > li", Deadline: time.Second}}
	require.NoError(t, exec.ExecuteAll(context.Background(), page, steps))

	require.Len(t, page.evals, 1)
	assert.Contains(t, page.evals[0], `"#menu > li"`, "selector must be JSON-escaped into the script")

	require.Len(t, page.runs, 2, "wait-visible then the pointer move")
	require.Len(t, page.runs[1], 1)
	move, ok := page.runs[1][0].(*input.DispatchMouseEventParams)
	require.True(t, ok, "pointer move must be a raw CDP mouse event")
	assert.Equal(t, input.MouseMoved, move.Type)
	assert.Equal(t, 140.5, move.X)
	assert.Equal(t, 60.25, move.Y)
}

func TestHoverFailsWhenElementHasNoLayout(t *testing.T) {
	t.Parallel()

	page := &fakePage{evalPayload: "null"}
	exec := newTestExecutor(t)

	err := exec.ExecuteAll(context.Background(), page, []schemas.Step{
		schemas.HoverStep{Selector: "#ghost", Deadline: time.Second},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no layout box")

	require.Len(t, page.runs, 1, "no pointer move after a failed measure")
}

func TestStepErrorMessageNamesTheStep(t *testing.T) {
	t.Parallel()

	err := &StepError{Index: 2, Step: `click "#buy"`, Err: errors.New("detached")}
	msg := err.Error()
	assert.True(t, strings.HasPrefix(msg, "step 2"), msg)
	assert.Contains(t, msg, `click "#buy"`)
	assert.Contains(t, msg, "detached")
}
