package plugin

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/mvp-joe/cortex-lsp/internal/feature"
	"github.com/mvp-joe/cortex-lsp/internal/telemetry"
)

// call is one function invocation planned by a dispatch.
type call struct {
	pluginID      string
	entry         *entry
	fn            registered
	lowConfidence bool
}

type callResult struct {
	index int
	items []feature.Item
	ok    bool
}

// Dispatch invokes every function registered for name by an active or
// degraded plugin and merges their items: plugin registration order first,
// then function priority, with duplicates removed by the feature's contract.
//
// Failing functions are recorded against their plugin and left out. When ctx
// is cancelled, Dispatch returns the items gathered so far with ctx's error.
func (m *Manager) Dispatch(ctx context.Context, name string, req *feature.Request) ([]feature.Item, error) {
	dispatchID := uuid.NewString()
	calls := m.plan(name)
	if len(calls) == 0 {
		return nil, ctx.Err()
	}
	log.Debugf("dispatch %s %s: %d functions", dispatchID, name, len(calls))

	results := make(chan callResult, len(calls))
	for i, c := range calls {
		go m.invoke(ctx, dispatchID, i, c, req, results)
	}

	gathered := make([][]feature.Item, len(calls))
	var err error
	pending := len(calls)
collect:
	for pending > 0 {
		select {
		case r := <-results:
			pending--
			if r.ok {
				gathered[r.index] = r.items
			}
		case <-ctx.Done():
			err = ctx.Err()
			break collect
		}
	}
	// Keep results that finished alongside the cancellation.
	for drained := false; pending > 0 && !drained; {
		select {
		case r := <-results:
			pending--
			if r.ok {
				gathered[r.index] = r.items
			}
		default:
			drained = true
		}
	}

	var items []feature.Item
	for _, batch := range gathered {
		items = append(items, batch...)
	}
	return feature.Dedupe(name, items), err
}

// plan lists the invocations of a dispatch in merge order.
func (m *Manager) plan(name string) []call {
	m.mu.RLock()
	ids := append([]string(nil), m.order...)
	entries := make([]*entry, 0, len(ids))
	for _, id := range ids {
		entries = append(entries, m.plugins[id])
	}
	m.mu.RUnlock()

	now := m.now()
	var calls []call
	for i, e := range entries {
		fns := e.functions[name]
		if len(fns) == 0 {
			continue
		}

		e.mu.Lock()
		before := e.health.state
		st := e.health.admit(now)
		e.mu.Unlock()
		if before != st {
			m.transitioned(ids[i], before, st)
		}
		if !st.Invocable() {
			continue
		}

		for _, fn := range fns {
			calls = append(calls, call{
				pluginID:      ids[i],
				entry:         e,
				fn:            fn,
				lowConfidence: st == StateDegraded,
			})
		}
	}
	return calls
}

// invoke runs one call under the concurrency bound and records its outcome.
func (m *Manager) invoke(ctx context.Context, dispatchID string, index int, c call, req *feature.Request, out chan<- callResult) {
	res := callResult{index: index}
	defer func() { out <- res }()

	if err := m.sem.Acquire(ctx, 1); err != nil {
		telemetry.PluginInvocations.WithLabelValues(c.pluginID, "cancelled").Inc()
		return
	}
	defer m.sem.Release(1)

	items, failure := m.run(ctx, c, req)
	switch {
	case failure == nil:
		m.record(c, false)
		telemetry.PluginInvocations.WithLabelValues(c.pluginID, "ok").Inc()
		for i := range items {
			items[i].Source = c.pluginID
			items[i].LowConfidence = c.lowConfidence
		}
		res.items, res.ok = items, true

	case ctx.Err() != nil:
		// The caller went away; the function is not at fault.
		telemetry.PluginInvocations.WithLabelValues(c.pluginID, "cancelled").Inc()

	default:
		failure.DispatchID = dispatchID
		m.record(c, true)
		telemetry.PluginInvocations.WithLabelValues(c.pluginID, failure.outcome()).Inc()
		log.Warningf("dispatch %s: %v", dispatchID, failure)
		if m.onFailure != nil {
			m.onFailure(failure)
		}
	}
}

// run calls the handler with the invocation timeout, recovering panics. A
// handler that ignores its context is abandoned when the timeout fires.
func (m *Manager) run(ctx context.Context, c call, req *feature.Request) ([]feature.Item, *FunctionFailure) {
	callCtx, cancel := context.WithTimeout(ctx, m.config.Timeout)
	defer cancel()

	type outcome struct {
		items    []feature.Item
		err      error
		panicked bool
	}
	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: fmt.Errorf("%v", r), panicked: true}
			}
		}()
		items, err := c.fn.Handler(callCtx, req)
		done <- outcome{items: items, err: err}
	}()

	failure := func(err error) *FunctionFailure {
		return &FunctionFailure{
			Plugin:   c.pluginID,
			Function: c.fn.Name,
			Feature:  c.fn.Feature,
			Err:      err,
		}
	}

	select {
	case o := <-done:
		switch {
		case o.panicked:
			f := failure(o.err)
			f.Panic = true
			return nil, f
		case o.err != nil:
			f := failure(o.err)
			f.Timeout = errors.Is(o.err, context.DeadlineExceeded) && errors.Is(callCtx.Err(), context.DeadlineExceeded)
			return nil, f
		}
		return o.items, nil

	case <-callCtx.Done():
		f := failure(callCtx.Err())
		f.Timeout = ctx.Err() == nil
		return nil, f
	}
}

func (m *Manager) record(c call, failed bool) {
	c.entry.mu.Lock()
	before := c.entry.health.state
	after := c.entry.health.record(failed, m.now())
	c.entry.mu.Unlock()

	if before != after {
		m.transitioned(c.pluginID, before, after)
	}
}
