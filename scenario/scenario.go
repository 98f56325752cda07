package scenario

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jacentio/lockstore/entity"
	"github.com/jacentio/lockstore/repository"
	"github.com/jacentio/lockstore/store"
)

var (
	// ErrUnknownScenario is returned by Run for a name not listed by All.
	ErrUnknownScenario = errors.New("lockstore: unknown scenario")

	// ErrExpectationFailed is returned when an observed value differs from
	// the expected one.
	ErrExpectationFailed = errors.New("lockstore: scenario expectation failed")
)

// Scenario is one runnable experiment.
type Scenario struct {
	Name        string
	Description string

	// IDBase offsets every record id used by the scenario.
	IDBase int64

	run func(ctx context.Context, e *env) error
}

// Check is one observed value next to the expected one.
type Check struct {
	Step string
	Got  string
	Want string
}

// OK reports whether the observation matched.
func (c Check) OK() bool {
	return c.Got == c.Want
}

// Report collects the checks of one scenario run.
type Report struct {
	Scenario string
	Checks   []Check
	Duration time.Duration
}

// Failed returns the checks that did not match.
func (r *Report) Failed() []Check {
	var failed []Check
	for _, c := range r.Checks {
		if !c.OK() {
			failed = append(failed, c)
		}
	}
	return failed
}

func (r *Report) String() string {
	var b strings.Builder
	status := "PASS"
	if len(r.Failed()) > 0 {
		status = "FAIL"
	}
	fmt.Fprintf(&b, "%s %s (%s)\n", status, r.Scenario, r.Duration.Round(time.Millisecond))
	for _, c := range r.Checks {
		mark := "ok  "
		if !c.OK() {
			mark = "FAIL"
		}
		fmt.Fprintf(&b, "  %s %-48s got %-20s want %s\n", mark, c.Step, c.Got, c.Want)
	}
	return b.String()
}

func (r *Report) expectVersion(step string, got *int64, want *int64) {
	r.Checks = append(r.Checks, Check{Step: step, Got: formatVersion(got), Want: formatVersion(want)})
}

func (r *Report) expectName(step, got, want string) {
	r.Checks = append(r.Checks, Check{Step: step, Got: got, Want: want})
}

func (r *Report) expectInt(step string, got, want int) {
	r.Checks = append(r.Checks, Check{Step: step, Got: fmt.Sprint(got), Want: fmt.Sprint(want)})
}

func formatVersion(v *int64) string {
	if v == nil {
		return "nil"
	}
	return fmt.Sprint(*v)
}

func version(v int64) *int64 {
	return &v
}

// env is what a scenario body works with.
type env struct {
	st       *store.Store
	parents  *repository.ParentRepository
	children *repository.ChildRepository
	report   *Report
	base     int64
}

func (e *env) id(n int64) int64 {
	return e.base + n
}

// wipe deletes the parent with the given id and everything it owns.
func (e *env) wipe(ctx context.Context, parentID int64) error {
	return e.st.InTx(ctx, func(ctx context.Context) error {
		s, err := store.SessionFrom(ctx)
		if err != nil {
			return err
		}
		p, err := s.FindParent(ctx, parentID, store.LockNone)
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		return s.Remove(p)
	})
}

// All returns every scenario in run order.
func All() []Scenario {
	return []Scenario{
		{
			Name:        "force-increment-with-session",
			Description: "pessimistic force increment through the session bumps the version on read",
			IDBase:      0,
			run:         forceIncrementWithSession,
		},
		{
			Name:        "force-increment-with-repo-optimistic",
			Description: "optimistic force increment finder bumps the version at commit only",
			IDBase:      10000,
			run:         forceIncrementWithRepoOptimistic,
		},
		{
			Name:        "force-increment-with-repo-pessimistic",
			Description: "pessimistic force increment finder bumps the version on read",
			IDBase:      20000,
			run:         forceIncrementWithRepoPessimistic,
		},
		{
			Name:        "force-increment-with-repo-standard",
			Description: "redeclared standard finder applies its declared lock mode",
			IDBase:      30000,
			run:         forceIncrementWithRepoStandard,
		},
		{
			Name:        "cascade-on-child-update",
			Description: "renaming a child reached through its parent persists on flush",
			IDBase:      40000,
			run:         cascadeOnChildUpdate,
		},
		{
			Name:        "child-persist-on-update",
			Description: "renaming a child loaded directly persists on flush",
			IDBase:      50000,
			run:         childPersistOnUpdate,
		},
		{
			Name:        "parent-persist-on-update",
			Description: "renaming a child and persisting its parent persists on flush",
			IDBase:      60000,
			run:         parentPersistOnUpdate,
		},
	}
}

// Lookup returns the scenario with the given name.
func Lookup(name string) (Scenario, bool) {
	for _, sc := range All() {
		if sc.Name == name {
			return sc, true
		}
	}
	return Scenario{}, false
}

// Runner runs scenarios against a store.
type Runner struct {
	st     *store.Store
	logger *slog.Logger
	locks  repository.ParentLocks
}

// NewRunner creates a Runner. A nil logger means slog.Default().
func NewRunner(st *store.Store, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		st:     st,
		logger: logger,
		locks:  repository.DefaultParentLocks(),
	}
}

// Run runs one scenario by name.
func Run(ctx context.Context, st *store.Store, name string) (*Report, error) {
	return NewRunner(st, nil).Run(ctx, name)
}

// RunAll runs every scenario.
func RunAll(ctx context.Context, st *store.Store) ([]*Report, error) {
	return NewRunner(st, nil).RunAll(ctx)
}

// Run runs one scenario by name. The report is returned also when an
// expectation fails.
func (r *Runner) Run(ctx context.Context, name string) (*Report, error) {
	sc, ok := Lookup(name)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownScenario, name)
	}
	return r.runScenario(ctx, sc)
}

// RunAll runs every scenario and joins their errors.
func (r *Runner) RunAll(ctx context.Context) ([]*Report, error) {
	var (
		reports []*Report
		errs    []error
	)
	for _, sc := range All() {
		report, err := r.runScenario(ctx, sc)
		if report != nil {
			reports = append(reports, report)
		}
		if err != nil {
			errs = append(errs, err)
		}
	}
	return reports, errors.Join(errs...)
}

func (r *Runner) runScenario(ctx context.Context, sc Scenario) (*Report, error) {
	report := &Report{Scenario: sc.Name}
	e := &env{
		st:       r.st,
		parents:  repository.NewParentRepository(r.locks),
		children: repository.NewChildRepository(repository.DefaultChildLocks()),
		report:   report,
		base:     sc.IDBase,
	}

	start := time.Now()
	if err := e.wipe(ctx, e.id(parentID)); err != nil {
		return nil, fmt.Errorf("scenario %s: wipe: %w", sc.Name, err)
	}
	err := sc.run(ctx, e)
	report.Duration = time.Since(start)
	if err != nil {
		r.logger.Error("scenario aborted", "scenario", sc.Name, "error", err)
		return report, fmt.Errorf("scenario %s: %w", sc.Name, err)
	}

	if failed := report.Failed(); len(failed) > 0 {
		r.logger.Warn("scenario failed",
			"scenario", sc.Name,
			"failed_checks", len(failed),
			"duration", report.Duration,
		)
		return report, fmt.Errorf("scenario %s: %s: got %s, want %s: %w",
			sc.Name, failed[0].Step, failed[0].Got, failed[0].Want, ErrExpectationFailed)
	}
	r.logger.Info("scenario passed",
		"scenario", sc.Name,
		"checks", len(report.Checks),
		"duration", report.Duration,
	)
	return report, nil
}

// Record ids relative to the scenario base.
const (
	parentID = 275
	child1ID = 1001
	child2ID = 1002
)

// childMap indexes the children of p by id.
func childMap(p *entity.Parent) map[int64]*entity.Child {
	m := make(map[int64]*entity.Child)
	for _, c := range p.Children() {
		m[c.ID] = c
	}
	return m
}
