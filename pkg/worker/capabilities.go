package worker

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/psantana5/interpreter-runtime/pkg/models"
	"github.com/psantana5/interpreter-runtime/pkg/rpc"
)

// Capability is one code-execution capability hosted by a worker
type Capability interface {
	Interpret(ctx context.Context, code string, ectx models.ExecutionContext) *models.Result
	Progress(paragraphID string) int
	FormType() models.FormType
	Parallel() bool
	Close() error
}

// Env is what a capability sees of its process
type Env struct {
	// Properties are the setting properties passed at launch
	Properties map[string]string
	// LookupEnv reads the process environment. Defaults to os.LookupEnv.
	LookupEnv func(key string) (string, bool)
}

func (e Env) lookupEnv(key string) (string, bool) {
	if e.LookupEnv == nil {
		return os.LookupEnv(key)
	}
	return e.LookupEnv(key)
}

func (e Env) property(key string) (string, bool) {
	v, ok := e.Properties[key]
	return v, ok
}

// flag reports whether the first of keys that is set parses as true
func (e Env) flag(keys ...string) bool {
	for _, key := range keys {
		v, ok := e.property(key)
		if !ok {
			continue
		}
		b, err := strconv.ParseBool(v)
		return err == nil && b
	}
	return false
}

// Property names read by the built-in capabilities. The long names are
// accepted as aliases.
const (
	PropEchoFail          = "echo.fail"
	PropEchoFailLong      = "zeppelin.interpreter.echo.fail"
	PropSleepParallel     = "sleep.parallel"
	PropSleepParallelLong = "zeppelin.SleepInterpreter.parallel"
)

type constructor func(Env) Capability

var capabilities = map[string]constructor{
	"echo":        func(e Env) Capability { return &echo{fail: e.flag(PropEchoFail, PropEchoFailLong)} },
	"double_echo": func(e Env) Capability { return &echo{times: 2} },
	"sleep":       func(e Env) Capability { return newSleep(e.flag(PropSleepParallel, PropSleepParallelLong)) },
	"get":         func(e Env) Capability { return &get{env: e} },
}

// Names returns the capabilities a worker can host, sorted
func Names() []string {
	names := make([]string, 0, len(capabilities))
	for name := range capabilities {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// NewCapability instantiates capability name
func NewCapability(name string, env Env) (Capability, error) {
	ctor, ok := capabilities[name]
	if !ok {
		return nil, fmt.Errorf("unknown capability %q: %w", name, rpc.ErrNotFound)
	}
	return ctor(env), nil
}

// echo returns its input, once or several times
type echo struct {
	times int
	fail  bool
}

func (c *echo) Interpret(ctx context.Context, code string, ectx models.ExecutionContext) *models.Result {
	if c.fail {
		return models.ErrorResult("echo failed: " + code)
	}
	n := c.times
	if n < 1 {
		n = 1
	}
	texts := make([]string, n)
	for i := range texts {
		texts[i] = code
	}
	return models.NewResult(models.CodeSuccess, texts...)
}

func (c *echo) Progress(string) int { return 0 }
func (c *echo) FormType() models.FormType { return models.FormNative }
func (c *echo) Parallel() bool { return false }
func (c *echo) Close() error { return nil }

// sleep waits for the number of milliseconds given as code
type sleep struct {
	parallel bool

	mu      sync.Mutex
	running map[string]sleepRun
	done    map[string]bool
}

type sleepRun struct {
	start time.Time
	total time.Duration
}

func newSleep(parallel bool) *sleep {
	return &sleep{
		parallel: parallel,
		running:  make(map[string]sleepRun),
		done:     make(map[string]bool),
	}
}

func (c *sleep) Interpret(ctx context.Context, code string, ectx models.ExecutionContext) *models.Result {
	ms, err := strconv.Atoi(strings.TrimSpace(code))
	if err != nil || ms < 0 {
		return models.ErrorResult(fmt.Sprintf("sleep expects a non-negative number of milliseconds, got %q", code))
	}
	d := time.Duration(ms) * time.Millisecond

	c.mu.Lock()
	c.running[ectx.ParagraphID] = sleepRun{start: time.Now(), total: d}
	delete(c.done, ectx.ParagraphID)
	c.mu.Unlock()

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
	case <-ctx.Done():
		c.mu.Lock()
		delete(c.running, ectx.ParagraphID)
		c.mu.Unlock()
		return models.ErrorResult("sleep interrupted: " + ctx.Err().Error())
	}

	c.mu.Lock()
	delete(c.running, ectx.ParagraphID)
	c.done[ectx.ParagraphID] = true
	c.mu.Unlock()
	return models.NewResult(models.CodeSuccess, strconv.Itoa(ms))
}

func (c *sleep) Progress(paragraphID string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.done[paragraphID] {
		return 100
	}
	run, ok := c.running[paragraphID]
	if !ok || run.total <= 0 {
		return 0
	}
	p := int(time.Since(run.start) * 100 / run.total)
	if p > 99 {
		p = 99
	}
	return p
}

func (c *sleep) FormType() models.FormType { return models.FormNative }
func (c *sleep) Parallel() bool { return c.parallel }
func (c *sleep) Close() error { return nil }

// get reads an environment variable or a launch property
type get struct {
	env Env
}

func (c *get) Interpret(ctx context.Context, code string, ectx models.ExecutionContext) *models.Result {
	fields := strings.Fields(code)
	if len(fields) != 2 {
		return models.ErrorResult(`usage: "env KEY" or "property KEY"`)
	}

	var (
		value string
		ok    bool
	)
	switch fields[0] {
	case "env", "getEnv":
		value, ok = c.env.lookupEnv(fields[1])
	case "property", "getProperty":
		value, ok = c.env.property(fields[1])
	default:
		return models.ErrorResult(fmt.Sprintf("unknown source %q, expected env or property", fields[0]))
	}
	if !ok {
		value = models.NullValue
	}
	return models.NewResult(models.CodeSuccess, value)
}

func (c *get) Progress(string) int { return 0 }
func (c *get) FormType() models.FormType { return models.FormNative }
func (c *get) Parallel() bool { return false }
func (c *get) Close() error { return nil }
