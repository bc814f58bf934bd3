package scriptcage

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetrics_Observe(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.Observe(&RunResult{Duration: 10 * time.Millisecond, FetchCount: 2})
	m.Observe(&RunResult{Error: &ScriptError{Message: "boom"}, FetchCount: 1, LeakedHandles: 3})
	m.Observe(&RunResult{Error: ErrTimeout})
	m.Observe(nil)

	if v := testutil.ToFloat64(m.RunsTotal.WithLabelValues(OutcomeOK)); v != 1 {
		t.Errorf("ok = %v", v)
	}
	if v := testutil.ToFloat64(m.RunsTotal.WithLabelValues(OutcomeError)); v != 1 {
		t.Errorf("error = %v", v)
	}
	if v := testutil.ToFloat64(m.RunsTotal.WithLabelValues(OutcomeTimeout)); v != 1 {
		t.Errorf("timeout = %v", v)
	}
	if v := testutil.ToFloat64(m.FetchesTotal); v != 3 {
		t.Errorf("fetches = %v", v)
	}
	if v := testutil.ToFloat64(m.LeakedHandles); v != 3 {
		t.Errorf("leaked = %v", v)
	}
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	m.Observe(&RunResult{})
}

func TestMetrics_Outcome(t *testing.T) {
	wrapped := errors.Join(errors.New("context"), ErrTimeout)
	if got := outcome(wrapped); got != OutcomeTimeout {
		t.Errorf("outcome(wrapped timeout) = %q", got)
	}
}

func TestMetrics_RunnerReports(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())
	r := newTestRunner(t, WithMetrics(m))
	runJS(t, r, `console.log("hi")`)
	runJS(t, r, `throw new Error("no")`)

	if v := testutil.ToFloat64(m.RunsTotal.WithLabelValues(OutcomeOK)); v != 1 {
		t.Errorf("ok = %v", v)
	}
	if v := testutil.ToFloat64(m.RunsTotal.WithLabelValues(OutcomeError)); v != 1 {
		t.Errorf("error = %v", v)
	}
}
