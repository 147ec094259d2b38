//go:build unix

package runner

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/testworker/internal/idgen"
	"github.com/mattjoyce/testworker/internal/log"
	"github.com/mattjoyce/testworker/internal/testrun"
)

func TestMain(m *testing.M) {
	log.Setup("ERROR", "json")
	os.Exit(m.Run())
}

type recorded struct {
	method string
	id     idgen.ID
	test   testrun.TestDescriptor
	output testrun.OutputEvent
	fail   testrun.Failure
	result testrun.ResultType
}

type recorder struct {
	mu     sync.Mutex
	events []recorded
}

func (r *recorder) add(e recorded) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) Started(test testrun.TestDescriptor, _ testrun.StartEvent) {
	r.add(recorded{method: "started", id: test.ID, test: test})
}

func (r *recorder) Completed(id idgen.ID, ev testrun.CompleteEvent) {
	r.add(recorded{method: "completed", id: id, result: ev.Result})
}

func (r *recorder) Output(id idgen.ID, ev testrun.OutputEvent) {
	r.add(recorded{method: "output", id: id, output: ev})
}

func (r *recorder) Failure(id idgen.ID, f testrun.Failure) {
	r.add(recorded{method: "failure", id: id, fail: f})
}

func (r *recorder) snapshot() []recorded {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]recorded(nil), r.events...)
}

func (r *recorder) outputs(dest testrun.Destination) []string {
	var out []string
	for _, e := range r.snapshot() {
		if e.method == "output" && e.output.Destination == dest {
			out = append(out, e.output.Message)
		}
	}
	return out
}

func newProcessor(t *testing.T, cfg Config) (*ExecProcessor, *recorder) {
	t.Helper()
	f, err := NewFactory(cfg)
	require.NoError(t, err)
	p, err := f.Create(idgen.NewComposite("w1", idgen.NewSequence()))
	require.NoError(t, err)
	rec := &recorder{}
	require.NoError(t, p.StartProcessing(rec))
	return p.(*ExecProcessor), rec
}

func TestProcessTestClassSuccess(t *testing.T) {
	p, rec := newProcessor(t, Config{
		Command:  []string{"/bin/sh", "-c", `echo "running $1 on $2"; echo note >&2`, "sh", "{class}", "{worker}"},
		WorkerID: "w1",
	})

	require.NoError(t, p.ProcessTestClass(context.Background(), testrun.ClassRunInfo{ClassName: "org.example.FooTest"}))

	events := rec.snapshot()
	require.NotEmpty(t, events)
	first, last := events[0], events[len(events)-1]

	assert.Equal(t, "started", first.method)
	assert.Equal(t, idgen.ID{Scope: "w1", Seq: 1}, first.test.ID)
	assert.Equal(t, "org.example.FooTest", first.test.ClassName)
	assert.Equal(t, "completed", last.method)
	assert.Equal(t, testrun.ResultSuccess, last.result)

	assert.Equal(t, []string{"running org.example.FooTest on w1\n"}, rec.outputs(testrun.StdOut))
	assert.Equal(t, []string{"note\n"}, rec.outputs(testrun.StdErr))
}

func TestProcessTestClassNonZeroExitIsTestFailure(t *testing.T) {
	p, rec := newProcessor(t, Config{
		Command: []string{"/bin/sh", "-c", "echo 'expected 2 but was 3' >&2; exit 3"},
	})

	require.NoError(t, p.ProcessTestClass(context.Background(), testrun.ClassRunInfo{ClassName: "CalcTest"}))

	events := rec.snapshot()
	require.GreaterOrEqual(t, len(events), 3)
	fail := events[len(events)-2]
	last := events[len(events)-1]

	assert.Equal(t, "failure", fail.method)
	assert.Equal(t, "ExitError", fail.fail.Type)
	assert.Contains(t, fail.fail.Message, "status 3")
	assert.Equal(t, "expected 2 but was 3\n", fail.fail.Stack)
	assert.Equal(t, testrun.ResultFailure, last.result)
}

func TestProcessTestClassSpawnFailure(t *testing.T) {
	p, rec := newProcessor(t, Config{Command: []string{"/nonexistent/test-runner"}})

	err := p.ProcessTestClass(context.Background(), testrun.ClassRunInfo{ClassName: "FooTest"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "FooTest")
	assert.Empty(t, rec.snapshot())
}

func TestProcessTestClassTimeout(t *testing.T) {
	p, rec := newProcessor(t, Config{
		Command:          []string{"/bin/sh", "-c", "trap '' TERM; sleep 30"},
		Timeout:          100 * time.Millisecond,
		TerminationGrace: 100 * time.Millisecond,
	})

	start := time.Now()
	require.NoError(t, p.ProcessTestClass(context.Background(), testrun.ClassRunInfo{ClassName: "HangTest"}))
	assert.Less(t, time.Since(start), 10*time.Second)

	events := rec.snapshot()
	require.GreaterOrEqual(t, len(events), 3)
	assert.Equal(t, "Timeout", events[len(events)-2].fail.Type)
	assert.Equal(t, testrun.ResultFailure, events[len(events)-1].result)
}

func TestProcessTestClassBackgroundChildDoesNotHoldClass(t *testing.T) {
	p, rec := newProcessor(t, Config{
		Command: []string{"/bin/sh", "-c", "sleep 30 & echo done"},
		Timeout: 20 * time.Second,
	})

	start := time.Now()
	require.NoError(t, p.ProcessTestClass(context.Background(), testrun.ClassRunInfo{ClassName: "ForkTest"}))
	assert.Less(t, time.Since(start), 10*time.Second)

	events := rec.snapshot()
	for _, e := range events {
		assert.NotEqual(t, "failure", e.method, "unexpected failure %+v", e.fail)
	}
	assert.Equal(t, testrun.ResultSuccess, events[len(events)-1].result)
	assert.Equal(t, []string{"done\n"}, rec.outputs(testrun.StdOut))
}

func TestProcessTestClassForwardsUnterminatedLine(t *testing.T) {
	p, rec := newProcessor(t, Config{
		Command: []string{"/bin/sh", "-c", "printf 'one\\ntwo'"},
	})

	require.NoError(t, p.ProcessTestClass(context.Background(), testrun.ClassRunInfo{ClassName: "FooTest"}))
	assert.Equal(t, []string{"one\n", "two"}, rec.outputs(testrun.StdOut))
}

func TestWaitFailure(t *testing.T) {
	failure, err := waitFailure("FooTest", nil)
	assert.Nil(t, failure)
	assert.NoError(t, err)

	failure, err = waitFailure("FooTest", exec.ErrWaitDelay)
	assert.Nil(t, failure)
	assert.NoError(t, err)

	errWait := errors.New("wait: no child processes")
	failure, err = waitFailure("FooTest", errWait)
	require.NotNil(t, failure)
	assert.Equal(t, "WaitError", failure.Type)
	assert.Contains(t, failure.Message, "FooTest")
	assert.ErrorIs(t, err, errWait)
}

func TestProcessTestClassLifecycle(t *testing.T) {
	f, err := NewFactory(Config{Command: []string{"/bin/true"}})
	require.NoError(t, err)
	cp, err := f.Create(idgen.NewSequence())
	require.NoError(t, err)

	info := testrun.ClassRunInfo{ClassName: "FooTest"}
	assert.ErrorIs(t, cp.ProcessTestClass(context.Background(), info), ErrNotStarted)

	require.NoError(t, cp.StartProcessing(&recorder{}))
	require.NoError(t, cp.Stop())
	require.NoError(t, cp.Stop())
	assert.ErrorIs(t, cp.ProcessTestClass(context.Background(), info), ErrStopped)
}

func TestNewFactoryRejectsEmptyCommand(t *testing.T) {
	_, err := NewFactory(Config{})
	assert.Error(t, err)
	_, err = NewFactory(Config{Command: []string{""}})
	assert.Error(t, err)
}

func TestRender(t *testing.T) {
	tests := []struct {
		name     string
		template []string
		want     []string
	}{
		{"no placeholders", []string{"go", "test", "./..."}, []string{"go", "test", "./..."}},
		{"class", []string{"go", "test", "-run", "^{class}$"}, []string{"go", "test", "-run", "^FooTest$"}},
		{"both", []string{"runner", "--id={worker}", "{class}", "{class}"}, []string{"runner", "--id=w9", "FooTest", "FooTest"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Render(tt.template, "FooTest", "w9"))
		})
	}
}

func TestLineTailKeepsLastLines(t *testing.T) {
	tail := newLineTail(2)
	tail.add("a\n")
	tail.add("b\n")
	tail.add("c\n")
	assert.Equal(t, "b\nc\n", tail.String())
}
