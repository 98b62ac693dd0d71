// Package workflows hosts the named workflow implementations and the shared
// runtime they execute under: the registry, the background runner, the
// poll-to-idle helper, the item collector and the cancellation discipline.
package workflows

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/lenslabs/webset-engine/pkg/taskstore"
	"github.com/lenslabs/webset-engine/pkg/upstream"
)

// Runtime carries the dependencies every workflow function receives.
type Runtime struct {
	Client upstream.Client
	Store  *taskstore.Store
	Logger *zap.Logger

	// PollInterval is the webset refresh cadence while polling to idle.
	PollInterval time.Duration
	// StepTimeout is the default per-step deadline; task args may override
	// it per invocation.
	StepTimeout time.Duration
	// ResearchConcurrency bounds parallel research calls.
	ResearchConcurrency int64
}

// Func is one workflow implementation. It runs to completion on a background
// goroutine; the runner converts its return value into the task's final
// record. Returning (nil, nil) after observing cancellation leaves the task
// cancelled.
type Func func(ctx context.Context, rt *Runtime, taskID string, args map[string]any) (any, error)

var (
	registryMu sync.Mutex
	registry   = make(map[string]Func)
	sealed     bool
)

// MustRegister adds a workflow at module-load time. Duplicate names and
// post-startup registration are programming errors.
func MustRegister(name string, fn Func) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if sealed {
		panic(fmt.Sprintf("workflow registry sealed, cannot register %q", name))
	}
	if _, exists := registry[name]; exists {
		panic(fmt.Sprintf("workflow %q already registered", name))
	}
	registry[name] = fn
}

// Seal freezes the registry; called once startup wiring is done.
func Seal() {
	registryMu.Lock()
	defer registryMu.Unlock()
	sealed = true
}

// Lookup returns a registered workflow function.
func Lookup(name string) (Func, bool) {
	registryMu.Lock()
	defer registryMu.Unlock()
	fn, ok := registry[name]
	return fn, ok
}

// Names lists registered workflow types, sorted.
func Names() []string {
	registryMu.Lock()
	defer registryMu.Unlock()
	out := make([]string, 0, len(registry))
	for name := range registry {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
