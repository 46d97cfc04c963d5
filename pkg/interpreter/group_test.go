package interpreter_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/psantana5/interpreter-runtime/pkg/interpreter"
	"github.com/psantana5/interpreter-runtime/pkg/models"
	"github.com/psantana5/interpreter-runtime/pkg/process"
	"github.com/psantana5/interpreter-runtime/pkg/process/processtest"
	"github.com/psantana5/interpreter-runtime/pkg/store"
)

func TestGroup_ConcurrentStartSharesOneProcess(t *testing.T) {
	launcher := processtest.NewLauncher()
	reg, _ := newRegistry(t, launcher)
	s := addSetting(t, reg, settingConfig("concurrent", models.Option{}, nil))
	g, _ := s.GetOrCreateGroup("A", "N")

	const callers = 10
	procs := make([]*process.Process, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			p, err := g.GetOrCreateProcess(context.Background())
			assert.NoError(t, err)
			procs[i] = p
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, launcher.Launches())
	for _, p := range procs {
		assert.Same(t, procs[0], p)
	}
	assert.Equal(t, models.GroupRunning, g.State())
}

func TestGroup_StartupFailureIsRetryable(t *testing.T) {
	launcher := processtest.NewLauncher()
	launcher.Err = errors.New("no capacity")
	reg, st := newRegistry(t, launcher)
	s := addSetting(t, reg, settingConfig("retry", models.Option{}, nil))
	g, _ := s.GetOrCreateGroup("A", "N")
	ctx := context.Background()

	_, err := g.GetOrCreateProcess(ctx)
	require.Error(t, err)
	assert.True(t, process.IsStartupError(err))
	assert.Equal(t, models.GroupEmpty, g.State())
	assert.Nil(t, g.GetProcess())

	launcher.Err = nil
	p, err := g.GetOrCreateProcess(ctx)
	require.NoError(t, err)
	assert.True(t, p.IsRunning())
	assert.Equal(t, models.GroupRunning, g.State())
	assert.Equal(t, 2, launcher.Launches())

	events, err := st.ListProcessEvents(ctx, store.EventFilter{SettingID: "retry"})
	require.NoError(t, err)
	var types []models.ProcessEventType
	for _, ev := range events {
		types = append(types, ev.Type)
	}
	assert.Equal(t, []models.ProcessEventType{
		models.ProcessStarting, models.ProcessStartupFailed,
		models.ProcessStarting, models.ProcessReady,
	}, types)
}

func TestGroup_StoppedKeyGetsFreshInstance(t *testing.T) {
	launcher := processtest.NewLauncher()
	reg, _ := newRegistry(t, launcher)
	s := addSetting(t, reg, settingConfig("fresh", models.Option{}, nil))
	ctx := context.Background()

	px := getProxy(t, s, "A", "N", "echo")
	_, err := px.Interpret(ctx, "one", ectx("A", "N", "p"))
	require.NoError(t, err)
	old := px.Group()
	require.NoError(t, px.Close(ctx))
	assert.Equal(t, models.GroupStopped, old.State())
	assert.Nil(t, s.Group(old.Key()))

	_, err = old.GetOrCreateProcess(ctx)
	assert.ErrorIs(t, err, interpreter.ErrClosedResource)

	next := getProxy(t, s, "A", "N", "echo")
	assert.NotSame(t, px, next)
	assert.NotEqual(t, old.ID(), next.Group().ID())
	assert.Equal(t, old.Key(), next.Group().Key())

	res, err := next.Interpret(ctx, "two", ectx("A", "N", "p"))
	require.NoError(t, err)
	assert.Equal(t, "two", res.Text())
	assert.Equal(t, 2, launcher.Launches())
}

func TestGroup_CloseIsIdempotent(t *testing.T) {
	launcher := processtest.NewLauncher()
	reg, _ := newRegistry(t, launcher)
	s := addSetting(t, reg, settingConfig("idempotent", models.Option{}, nil))
	ctx := context.Background()

	px := getProxy(t, s, "A", "N", "echo")
	_, err := px.Interpret(ctx, "x", ectx("A", "N", "p"))
	require.NoError(t, err)

	g := px.Group()
	for i := 0; i < 3; i++ {
		assert.NoError(t, g.Close(ctx, px.SessionKey()))
	}
	assert.NoError(t, g.Close(ctx, "never-registered"))
	assert.NoError(t, g.Shutdown(ctx))
	assert.NoError(t, s.CloseSession(ctx, "nobody", "nothing"))

	handles := launcher.Handles()
	require.Len(t, handles, 1)
	assert.Empty(t, handles[0].Signals(), "a cooperative worker exits on the shutdown request")
}

func TestGroup_ClosingOneSessionKeepsOthers(t *testing.T) {
	launcher := processtest.NewLauncher()
	reg, _ := newRegistry(t, launcher)
	s := addSetting(t, reg, settingConfig("sessions", models.Option{PerNote: models.PolicyScoped}, nil))
	ctx := context.Background()

	p1 := getProxy(t, s, "A", "N1", "echo")
	p2 := getProxy(t, s, "A", "N2", "echo")
	for _, px := range []*interpreter.Proxy{p1, p2} {
		_, err := px.Interpret(ctx, "x", ectx("A", "", "p"))
		require.NoError(t, err)
	}
	g := p1.Group()
	assert.Equal(t, []string{"N1", "N2"}, g.SessionKeys())

	svc := launcher.Handles()[0].Service()
	require.NoError(t, s.CloseSession(ctx, "A", "N1"))
	assert.Equal(t, []string{"N2"}, g.SessionKeys())
	assert.Equal(t, 1, svc.Sessions(), "the worker forgets the closed session")
	assert.True(t, p1.IsClosed())
	assert.False(t, p2.IsClosed())
	assert.Equal(t, models.GroupRunning, g.State())
}

func TestGroup_CrashedWorkerIsReplaced(t *testing.T) {
	launcher := processtest.NewLauncher()
	reg, st := newRegistry(t, launcher)
	s := addSetting(t, reg, settingConfig("crash", models.Option{}, nil))
	ctx := context.Background()

	px := getProxy(t, s, "A", "N", "echo")
	_, err := px.Interpret(ctx, "x", ectx("A", "N", "p"))
	require.NoError(t, err)
	first := px.Group().GetProcess()

	launcher.Handles()[0].Crash()
	require.Eventually(t, func() bool { return !first.IsRunning() }, 5*time.Second, 10*time.Millisecond)

	res, err := px.Interpret(ctx, "again", ectx("A", "N", "p"))
	require.NoError(t, err)
	assert.Equal(t, "again", res.Text())
	second := px.Group().GetProcess()
	assert.NotEqual(t, first.ID(), second.ID())
	assert.Equal(t, 2, launcher.Launches())

	events, err := st.ListProcessEvents(ctx, store.EventFilter{ProcessID: first.ID()})
	require.NoError(t, err)
	var exited bool
	for _, ev := range events {
		if ev.Type == models.ProcessExited {
			exited = true
			assert.Equal(t, string(process.ExitCrashed), ev.ExitReason)
		}
	}
	assert.True(t, exited)
}

func TestGroup_PropertiesReachTheWorker(t *testing.T) {
	launcher := processtest.NewLauncher()
	reg, _ := newRegistry(t, launcher)
	s := addSetting(t, reg, settingConfig("props", models.Option{}, map[string]string{
		"SPARK_HOME": "/opt/spark",
		"spark.app":  "demo",
	}))
	ctx := context.Background()

	px := getProxy(t, s, "A", "N", "get")
	res, err := px.Interpret(ctx, "env SPARK_HOME", ectx("A", "N", "p"))
	require.NoError(t, err)
	assert.Equal(t, "/opt/spark", res.Text())

	reqs := launcher.Requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, "demo", reqs[0].Properties["spark.app"])
	assert.Equal(t, []string{"SPARK_HOME=/opt/spark"}, reqs[0].Env)
}

func TestGroup_ReadsDoNotWaitForStart(t *testing.T) {
	launcher := processtest.NewLauncher()
	launcher.NeverReady = true
	reg := interpreter.NewRegistry(interpreter.Deps{
		Launcher: launcher,
		Store:    store.NewMemoryStore(),
		Process:  process.Config{StartTimeout: 2 * time.Second, GracePeriod: 100 * time.Millisecond},
	})
	t.Cleanup(func() { reg.Close(context.Background()) })
	s := addSetting(t, reg, settingConfig("slow-start", models.Option{}, nil))
	g, keys := s.GetOrCreateGroup("A", "N")
	_, err := g.Proxies(keys.Session, true)
	require.NoError(t, err)

	started := make(chan error, 1)
	go func() {
		_, err := g.GetOrCreateProcess(context.Background())
		started <- err
	}()
	require.Eventually(t, func() bool { return launcher.Launches() == 1 }, time.Second, 5*time.Millisecond)

	begin := time.Now()
	assert.Nil(t, g.GetProcess())
	assert.Equal(t, models.GroupEmpty, g.State())
	assert.Equal(t, []string{keys.Session}, g.SessionKeys())
	assert.Less(t, time.Since(begin), 500*time.Millisecond)

	begin = time.Now()
	require.NoError(t, g.Close(context.Background(), keys.Session))
	assert.Less(t, time.Since(begin), 500*time.Millisecond)
	assert.Equal(t, models.GroupStopped, g.State())

	select {
	case err := <-started:
		assert.Error(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("start never returned")
	}
	assert.Nil(t, g.GetProcess())
}

func TestGroup_ConcurrentCloseAndInterpret(t *testing.T) {
	launcher := processtest.NewLauncher()
	reg, _ := newRegistry(t, launcher)
	s := addSetting(t, reg, settingConfig("race", models.Option{}, nil))
	ctx := context.Background()

	const rounds, workers = 10, 8
	for round := 0; round < rounds; round++ {
		px := getProxy(t, s, "A", "N", "echo")
		_, err := px.Interpret(ctx, "warm", ectx("A", "N", "p"))
		require.NoError(t, err)
		g := px.Group()

		var wg sync.WaitGroup
		for i := 0; i < workers; i++ {
			wg.Add(2)
			go func() {
				defer wg.Done()
				assert.NoError(t, g.Close(ctx, px.SessionKey()))
			}()
			go func() {
				defer wg.Done()
				res, err := px.Interpret(ctx, "x", ectx("A", "N", "p"))
				if err != nil {
					assert.ErrorIs(t, err, interpreter.ErrClosedResource)
					return
				}
				assert.NotNil(t, res)
			}()
		}
		wg.Wait()

		assert.Nil(t, g.GetProcess())
		assert.Equal(t, models.GroupStopped, g.State())
		_, err = px.Interpret(ctx, "late", ectx("A", "N", "p"))
		assert.ErrorIs(t, err, interpreter.ErrClosedResource)
		_, err = g.GetOrCreateProcess(ctx)
		assert.ErrorIs(t, err, interpreter.ErrClosedResource)
	}

	assert.Empty(t, reg.Deps().Schedulers.Keys())
	assert.Equal(t, rounds, launcher.Launches())
}
