// Package suite runs named groups of tests against a node and collects
// their results.
package suite

import (
	"context"
	"fmt"
	"io"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/inconshreveable/log15.v2"
)

// Suite is a named group of tests.
type Suite struct {
	Name        string
	Description string

	// Setup runs once before the first selected test. If it fails, the
	// tests of the suite are not run and are reported as failed.
	Setup func(*T)
	// BeforeEach runs before every test, on the test's own T.
	BeforeEach func(*T)

	Tests []TestSpec
}

// Add adds a test to the suite.
func (s *Suite) Add(test TestSpec) *Suite {
	s.Tests = append(s.Tests, test)
	return s
}

// TestSpec is the description of a test.
type TestSpec struct {
	Name        string
	Description string
	Run         func(*T)
}

// TestResult is the outcome of one test.
type TestResult struct {
	Name     string
	Pass     bool
	Skipped  bool
	Details  string
	Duration time.Duration
}

// SuiteResult holds the results of one suite run.
type SuiteResult struct {
	Name  string
	Tests []TestResult
}

// Counts returns the number of passed, failed and skipped tests.
func (r SuiteResult) Counts() (pass, fail, skip int) {
	for _, t := range r.Tests {
		switch {
		case t.Skipped:
			skip++
		case t.Pass:
			pass++
		default:
			fail++
		}
	}
	return pass, fail, skip
}

// Passed reports whether no test failed.
func Passed(results []SuiteResult) bool {
	for _, r := range results {
		if _, fail, _ := r.Counts(); fail > 0 {
			return false
		}
	}
	return true
}

// Runner executes suites.
type Runner struct {
	m   *matcher
	log log15.Logger
	ctx context.Context
}

// NewRunner creates a runner selecting tests by pattern. See the -run flag
// of the riddled command for the pattern syntax.
func NewRunner(ctx context.Context, pattern string, log log15.Logger) (*Runner, error) {
	m, err := newMatcher(pattern)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid test pattern %q", pattern)
	}
	if log == nil {
		log = log15.Root()
	}
	return &Runner{m: m, log: log, ctx: ctx}, nil
}

// Run executes all given suites in order.
func (r *Runner) Run(suites ...Suite) []SuiteResult {
	var results []SuiteResult
	for _, s := range suites {
		if !r.m.matchSuite(s.Name) {
			r.log.Debug("skipping suite", "suite", s.Name, "pattern", r.m.pattern)
			continue
		}
		results = append(results, r.RunSuite(s))
	}
	return results
}

// RunSuite runs the selected tests of one suite.
func (r *Runner) RunSuite(s Suite) SuiteResult {
	result := SuiteResult{Name: s.Name}
	log := r.log.New("suite", s.Name)

	var selected []TestSpec
	for _, test := range s.Tests {
		if r.m.match(s.Name, test.Name) {
			selected = append(selected, test)
		} else {
			log.Debug("skipping test", "test", test.Name, "pattern", r.m.pattern)
		}
	}
	if len(selected) == 0 {
		return result
	}

	if s.Setup != nil {
		setup := r.run("setup", log, s.Setup)
		if setup.Skipped {
			log.Info("suite skipped", "details", strings.TrimSpace(setup.Details))
			for _, test := range selected {
				result.Tests = append(result.Tests, TestResult{Name: test.Name, Pass: true, Skipped: true, Details: setup.Details})
			}
			return result
		}
		if !setup.Pass {
			log.Error("suite setup failed", "details", strings.TrimSpace(setup.Details))
			for _, test := range selected {
				result.Tests = append(result.Tests, TestResult{
					Name:    test.Name,
					Details: "suite setup failed:\n" + setup.Details,
				})
			}
			return result
		}
	}

	for _, test := range selected {
		test := test
		res := r.run(test.Name, log, func(t *T) {
			if s.BeforeEach != nil {
				s.BeforeEach(t)
			}
			test.Run(t)
		})
		switch {
		case res.Skipped:
			log.Info("test skipped", "test", test.Name)
		case res.Pass:
			log.Info("test passed", "test", test.Name, "time", res.Duration)
		default:
			log.Error("test failed", "test", test.Name, "time", res.Duration)
		}
		result.Tests = append(result.Tests, res)
	}
	return result
}

// run executes fn on a fresh goroutine so that FailNow can end it.
func (r *Runner) run(name string, log log15.Logger, fn func(*T)) TestResult {
	t := &T{
		log:    log.New("test", name),
		ctx:    r.ctx,
		result: TestResult{Name: name, Pass: true},
	}
	start := time.Now()
	done := make(chan struct{})
	go func() {
		defer func() {
			if err := recover(); err != nil {
				buf := make([]byte, 4096)
				i := runtime.Stack(buf, false)
				t.Logf("panic: %v\n\n%s", err, buf[:i])
				t.Fail()
			}
			close(done)
		}()
		fn(t)
	}()
	<-done

	t.mu.Lock()
	defer t.mu.Unlock()
	t.result.Duration = time.Since(start)
	return t.result
}

// T is a running test. It is a lot like testing.T. Log output goes to the
// details of the test result.
type T struct {
	log    log15.Logger
	ctx    context.Context
	mu     sync.Mutex
	result TestResult
}

// Logger returns the structured logger of the test.
func (t *T) Logger() log15.Logger {
	return t.log
}

// Context returns the context the runner was created with.
func (t *T) Context() context.Context {
	if t.ctx == nil {
		return context.Background()
	}
	return t.ctx
}

// Error is like testing.T.Error.
func (t *T) Error(values ...interface{}) {
	t.Log(values...)
	t.Fail()
}

// Errorf is like testing.T.Errorf.
func (t *T) Errorf(format string, values ...interface{}) {
	t.Logf(format, values...)
	t.Fail()
}

// Fatal is like testing.T.Fatal. It fails the test immediately.
func (t *T) Fatal(values ...interface{}) {
	t.Log(values...)
	t.FailNow()
}

// Fatalf is like testing.T.Fatalf. It fails the test immediately.
func (t *T) Fatalf(format string, values ...interface{}) {
	t.Logf(format, values...)
	t.FailNow()
}

// Logf adds a line to the test details.
func (t *T) Logf(format string, values ...interface{}) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !strings.HasSuffix(format, "\n") {
		format += "\n"
	}
	t.result.Details += fmt.Sprintf(format, values...)
}

// Log adds a line to the test details.
func (t *T) Log(values ...interface{}) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.result.Details += fmt.Sprintln(values...)
}

// Failed reports whether the test has already failed.
func (t *T) Failed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return !t.result.Pass
}

// Fail marks the test as failed.
func (t *T) Fail() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.result.Pass = false
}

// FailNow marks the test as failed and exits it. As with testing.T.FailNow,
// this must be called from the test goroutine.
func (t *T) FailNow() {
	t.Fail()
	runtime.Goexit()
}

// Skip logs the reason and ends the test as skipped.
func (t *T) Skip(values ...interface{}) {
	t.Log(values...)
	t.SkipNow()
}

// Skipf is like Skip with formatting.
func (t *T) Skipf(format string, values ...interface{}) {
	t.Logf(format, values...)
	t.SkipNow()
}

// SkipNow ends the test as skipped unless it already failed.
func (t *T) SkipNow() {
	t.mu.Lock()
	t.result.Skipped = t.result.Pass
	t.mu.Unlock()
	runtime.Goexit()
}

// Skipped reports whether the test was skipped.
func (t *T) Skipped() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.result.Skipped
}

// WriteReport prints a summary of the results.
func WriteReport(w io.Writer, results []SuiteResult) {
	for _, r := range results {
		pass, fail, skip := r.Counts()
		fmt.Fprintf(w, "suite %s: %d passed, %d failed, %d skipped\n", r.Name, pass, fail, skip)
		for _, t := range r.Tests {
			status := "PASS"
			switch {
			case t.Skipped:
				status = "SKIP"
			case !t.Pass:
				status = "FAIL"
			}
			fmt.Fprintf(w, "  %s %s (%v)\n", status, t.Name, t.Duration.Round(time.Millisecond))
			if !t.Pass && t.Details != "" {
				for _, line := range strings.Split(strings.TrimRight(t.Details, "\n"), "\n") {
					fmt.Fprintf(w, "      %s\n", line)
				}
			}
		}
	}
}
