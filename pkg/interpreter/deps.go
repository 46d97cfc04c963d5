package interpreter

import (
	"context"

	"github.com/psantana5/interpreter-runtime/pkg/logging"
	"github.com/psantana5/interpreter-runtime/pkg/metrics"
	"github.com/psantana5/interpreter-runtime/pkg/models"
	"github.com/psantana5/interpreter-runtime/pkg/process"
	"github.com/psantana5/interpreter-runtime/pkg/scheduler"
	"github.com/psantana5/interpreter-runtime/pkg/store"
	"github.com/psantana5/interpreter-runtime/pkg/tracing"
)

// Deps are the collaborators shared by every setting of a registry
type Deps struct {
	Launcher   process.Launcher
	Schedulers *scheduler.Factory
	Store      store.Store
	Metrics    *metrics.Metrics
	Tracer     *tracing.Provider
	Logger     *logging.Logger
	Process    process.Config
	// MaxConcurrency bounds PARALLEL queues, 0 means unbounded
	MaxConcurrency int
}

func (d Deps) withDefaults() Deps {
	if d.Logger == nil {
		d.Logger = logging.Nop()
	}
	if d.Launcher == nil {
		d.Launcher = process.NewExecLauncher(d.Logger)
	}
	if d.Schedulers == nil {
		d.Schedulers = scheduler.NewFactory(scheduler.WithMetrics(d.Metrics), scheduler.WithLogger(d.Logger))
	}
	if d.Store == nil {
		d.Store = store.NewMemoryStore()
	}
	if d.Tracer == nil {
		d.Tracer = tracing.NewNoop("interpreter-runtime")
	}
	return d
}

// recordEvent journals a process event. Store failures are logged, not returned.
func (d Deps) recordEvent(ev *models.ProcessEvent) {
	if err := d.Store.RecordProcessEvent(context.Background(), ev); err != nil {
		d.Logger.Warn("Failed to record process event", map[string]interface{}{
			"process_id": ev.ProcessID,
			"type":       string(ev.Type),
			"error":      err.Error(),
		})
	}
}

// recordExecution journals an interpret call. Store failures are logged, not returned.
func (d Deps) recordExecution(rec *models.ExecutionRecord) {
	if err := d.Store.RecordExecution(context.Background(), rec); err != nil {
		d.Logger.Warn("Failed to record execution", map[string]interface{}{
			"setting": rec.SettingID,
			"error":   err.Error(),
		})
	}
}
