package interpreter_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/psantana5/interpreter-runtime/pkg/interpreter"
	"github.com/psantana5/interpreter-runtime/pkg/models"
	"github.com/psantana5/interpreter-runtime/pkg/process/processtest"
	"github.com/psantana5/interpreter-runtime/pkg/store"
)

func TestProxy_ClosedBeforeFirstCall(t *testing.T) {
	launcher := processtest.NewLauncher()
	reg, _ := newRegistry(t, launcher)
	s := addSetting(t, reg, settingConfig("closed", models.Option{}, nil))
	ctx := context.Background()

	px := getProxy(t, s, "A", "N", "echo")
	require.NoError(t, px.Close(ctx))
	assert.True(t, px.IsClosed())

	_, err := px.Interpret(ctx, "x", ectx("A", "N", "p"))
	var closed *interpreter.ClosedResourceError
	require.ErrorAs(t, err, &closed)
	assert.Contains(t, closed.Error(), "echo")

	_, err = px.GetProgress(ctx, ectx("A", "N", "p"))
	assert.ErrorIs(t, err, interpreter.ErrClosedResource)
	_, err = px.GetFormType(ctx)
	assert.ErrorIs(t, err, interpreter.ErrClosedResource)
	assert.Equal(t, 0, launcher.Launches())
}

func TestProxy_UnknownCapability(t *testing.T) {
	reg, _ := newRegistry(t, processtest.NewLauncher())
	s := addSetting(t, reg, settingConfig("caps", models.Option{}, nil))

	_, err := s.GetInterpreter(context.Background(), "A", "N", "nope")
	assert.ErrorIs(t, err, interpreter.ErrUnknownCapability)

	px, err := s.GetDefaultInterpreter(context.Background(), "A", "N")
	require.NoError(t, err)
	assert.Equal(t, "echo", px.Name())
}

func TestProxy_Results(t *testing.T) {
	tests := []struct {
		name       string
		capability string
		props      map[string]string
		code       string
		wantCode   models.Code
		wantTexts  []string
	}{
		{name: "echo", capability: "echo", code: "hello", wantCode: models.CodeSuccess, wantTexts: []string{"hello"}},
		{name: "double echo", capability: "double_echo", code: "hi", wantCode: models.CodeSuccess, wantTexts: []string{"hi", "hi"}},
		{name: "simulated failure", capability: "echo", props: map[string]string{"echo.fail": "true"}, code: "boom", wantCode: models.CodeError},
		{name: "bad sleep input", capability: "sleep", code: "soon", wantCode: models.CodeError},
		{name: "unset property", capability: "get", code: "property missing", wantCode: models.CodeSuccess, wantTexts: []string{models.NullValue}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reg, st := newRegistry(t, processtest.NewLauncher())
			s := addSetting(t, reg, settingConfig("results", models.Option{}, tt.props))
			ctx := context.Background()

			res, err := getProxy(t, s, "A", "N", tt.capability).Interpret(ctx, tt.code, ectx("A", "N", "p1"))
			require.NoError(t, err)
			assert.Equal(t, tt.wantCode, res.Code)
			if tt.wantTexts != nil {
				var texts []string
				for _, m := range res.Messages {
					texts = append(texts, m.Data)
				}
				assert.Equal(t, tt.wantTexts, texts)
			}

			recs, err := st.ListExecutions(ctx, store.ExecutionFilter{SettingID: "results"})
			require.NoError(t, err)
			require.Len(t, recs, 1)
			assert.Equal(t, tt.wantCode, recs[0].Code)
			assert.Equal(t, tt.capability, recs[0].Capability)
			assert.Equal(t, "p1", recs[0].ParagraphID)
			assert.NotEmpty(t, recs[0].ProcessID)
		})
	}
}

func TestProxy_Progress(t *testing.T) {
	reg, _ := newRegistry(t, processtest.NewLauncher())
	s := addSetting(t, reg, settingConfig("progress", models.Option{}, nil))
	ctx := context.Background()
	px := getProxy(t, s, "A", "N", "sleep")

	progress, err := px.GetProgress(ctx, ectx("A", "N", "p1"))
	require.NoError(t, err)
	assert.Equal(t, 0, progress, "nothing ran yet")

	done := make(chan *models.Result, 1)
	go func() {
		res, err := px.Interpret(ctx, "400", ectx("A", "N", "p1"))
		assert.NoError(t, err)
		done <- res
	}()

	require.Eventually(t, func() bool {
		p, err := px.GetProgress(ctx, ectx("A", "N", "p1"))
		return err == nil && p > 0 && p < 100
	}, 5*time.Second, 20*time.Millisecond)

	res := <-done
	assert.Equal(t, models.CodeSuccess, res.Code)

	progress, err = px.GetProgress(ctx, ectx("A", "N", "p1"))
	require.NoError(t, err)
	assert.Equal(t, 100, progress)

	progress, err = px.GetProgress(ctx, models.ExecutionContext{})
	require.NoError(t, err)
	assert.Equal(t, 100, progress, "empty paragraph means the latest call")
}

func TestProxy_ProgressIsWhatTheWorkerReports(t *testing.T) {
	launcher := processtest.NewLauncher()
	reg, _ := newRegistry(t, launcher)
	s := addSetting(t, reg, settingConfig("echo-progress", models.Option{}, nil))
	ctx := context.Background()

	px := getProxy(t, s, "A", "N", "echo")
	res, err := px.Interpret(ctx, "hello", ectx("A", "N", "p"))
	require.NoError(t, err)
	assert.Equal(t, "hello", res.Text())

	progress, err := px.GetProgress(ctx, ectx("A", "N", "p"))
	require.NoError(t, err)
	assert.Equal(t, 0, progress, "echo never reports progress")

	progress, err = px.GetProgress(ctx, models.ExecutionContext{})
	require.NoError(t, err)
	assert.Equal(t, 0, progress)
}

func TestProxy_FormTypeIsCached(t *testing.T) {
	launcher := processtest.NewLauncher()
	reg, _ := newRegistry(t, launcher)
	s := addSetting(t, reg, settingConfig("form", models.Option{PerUser: models.PolicyScoped}, nil))
	ctx := context.Background()

	px := getProxy(t, s, "A", "N", "echo")
	ft, err := px.GetFormType(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.FormNative, ft)

	// a second session keeps the worker up after this proxy is released
	getProxy(t, s, "B", "N", "echo")
	require.NoError(t, px.Close(ctx))

	ft, err = px.GetFormType(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.FormNative, ft)
}

func TestProxy_StopFailsInFlightCall(t *testing.T) {
	reg, _ := newRegistry(t, processtest.NewLauncher())
	s := addSetting(t, reg, settingConfig("inflight", models.Option{}, nil))
	ctx := context.Background()
	px := getProxy(t, s, "A", "N", "sleep")

	errCh := make(chan error, 1)
	go func() {
		_, err := px.Interpret(ctx, "30000", ectx("A", "N", "long"))
		errCh <- err
	}()
	require.Eventually(t, func() bool {
		p, err := px.GetProgress(ctx, ectx("A", "N", "long"))
		return err == nil && p > 0
	}, 5*time.Second, 20*time.Millisecond)

	start := time.Now()
	require.NoError(t, px.Close(ctx))

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, interpreter.ErrClosedResource)
	case <-time.After(10 * time.Second):
		t.Fatal("in-flight call did not fail after stop")
	}
	assert.Less(t, time.Since(start), 10*time.Second)
}

func TestProxy_CallerContextCancelsWait(t *testing.T) {
	reg, _ := newRegistry(t, processtest.NewLauncher())
	s := addSetting(t, reg, settingConfig("cancel", models.Option{}, nil))
	px := getProxy(t, s, "A", "N", "sleep")

	_, err := px.Interpret(context.Background(), "0", ectx("A", "N", "warm"))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_, err = px.Interpret(ctx, "5000", ectx("A", "N", "p"))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
