package drift

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"sync"

	"github.com/alitto/pond"
	construct "github.com/klothoplatform/free-courses-infra/pkg/construct2"
	engine_errs "github.com/klothoplatform/free-courses-infra/pkg/engine/errors"
	"github.com/r3labs/diff"
	"go.uber.org/atomic"
	"go.uber.org/zap"
)

type (
	// Reader reads the live attributes of a recorded resource, keyed by the property path they correspond to
	// (for example `DesiredCount` or `LifecyclePolicy.LifecyclePolicyText`). Only the returned attributes are
	// compared. Values that refer to other resources of the stack should be returned as [construct.Ref]s.
	Reader interface {
		Supports(id construct.ResourceId) bool
		Read(ctx context.Context, recorded construct.Graph, r *construct.Resource) (map[string]any, error)
	}

	Detector struct {
		Reader Reader
		// Workers bounds the number of concurrent reads. Zero uses [DefaultWorkers].
		Workers int
	}

	Report struct {
		Checked int
		Skipped int
		Drifts  []engine_errs.DriftError
	}
)

const DefaultWorkers = 5

// ErrNotFound is returned by a [Reader] when the resource no longer exists.
var ErrNotFound = errors.New("resource not found")

// Detect compares every supported resource of `recorded` against what the reader reports. Read failures are
// returned as the error; differences are collected in the report.
func (d Detector) Detect(ctx context.Context, recorded construct.Graph) (*Report, error) {
	log := zap.S().Named("drift")
	report := &Report{}
	if recorded == nil {
		return report, nil
	}
	ids, err := construct.TopologicalSort(recorded)
	if err != nil {
		return nil, err
	}

	workers := d.Workers
	if workers <= 0 {
		workers = DefaultWorkers
	}
	pool := pond.New(workers, len(ids), pond.Context(ctx))

	var (
		checked = atomic.NewInt32(0)
		skipped = atomic.NewInt32(0)
		mu      sync.Mutex
		errs    error
	)
	for _, id := range ids {
		r, err := recorded.Vertex(id)
		if err != nil {
			return nil, err
		}
		if !d.Reader.Supports(id) {
			skipped.Inc()
			continue
		}
		pool.Submit(func() {
			drifts, err := d.check(ctx, recorded, r)
			checked.Inc()
			mu.Lock()
			defer mu.Unlock()
			errs = errors.Join(errs, err)
			report.Drifts = append(report.Drifts, drifts...)
		})
	}
	pool.StopAndWait()

	report.Checked = int(checked.Load())
	report.Skipped = int(skipped.Load())
	sort.SliceStable(report.Drifts, func(i, j int) bool {
		a, b := report.Drifts[i], report.Drifts[j]
		if a.Resource != b.Resource {
			return a.Resource.String() < b.Resource.String()
		}
		return a.Attribute < b.Attribute
	})
	log.Debugf("checked %d resources (%d skipped), %d drifted attribute(s)",
		report.Checked, report.Skipped, len(report.Drifts))
	return report, errs
}

func (d Detector) check(ctx context.Context, recorded construct.Graph, r *construct.Resource) ([]engine_errs.DriftError, error) {
	live, err := d.Reader.Read(ctx, recorded, r)
	if errors.Is(err, ErrNotFound) {
		zap.S().Named("drift").Debugf("%s: missing", r.ID)
		return []engine_errs.DriftError{{Resource: r.ID, Expected: "present", Actual: "absent"}}, nil
	}
	if err != nil {
		return nil, err
	}
	return Compare(r, live)
}

// Compare diffs the live attributes against the recorded properties of `r`. References are compared by their
// string form.
func Compare(r *construct.Resource, live map[string]any) ([]engine_errs.DriftError, error) {
	paths := make([]string, 0, len(live))
	for k := range live {
		paths = append(paths, k)
	}
	sort.Strings(paths)

	differ, err := diff.NewDiffer()
	if err != nil {
		return nil, err
	}
	var drifts []engine_errs.DriftError
	for _, path := range paths {
		want, err := r.GetProperty(path)
		if err != nil {
			return nil, fmt.Errorf("could not read %s of %s: %w", path, r.ID, err)
		}
		want = construct.StringifyIntrinsics(want)
		got := construct.StringifyIntrinsics(live[path])
		if reflect.DeepEqual(want, got) {
			continue
		}

		changelog, err := differ.Diff(want, got)
		if err != nil {
			drifts = append(drifts, engine_errs.DriftError{Resource: r.ID, Attribute: path, Expected: want, Actual: got})
			continue
		}
		if len(changelog) > 0 {
			zap.S().Named("drift").With("resource", r.ID).Debugf("%s drifted at %s", path, strings.Join(changelog[0].Path, "."))
			drifts = append(drifts, engine_errs.DriftError{Resource: r.ID, Attribute: path, Expected: want, Actual: got})
		}
	}
	return drifts, nil
}

// Err joins the drifts of the report, or returns nil if there are none.
func (r *Report) Err() error {
	var errs error
	for _, d := range r.Drifts {
		errs = errors.Join(errs, d)
	}
	return errs
}
