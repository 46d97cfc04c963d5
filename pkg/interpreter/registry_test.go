package interpreter_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/psantana5/interpreter-runtime/pkg/interpreter"
	"github.com/psantana5/interpreter-runtime/pkg/models"
	"github.com/psantana5/interpreter-runtime/pkg/process/processtest"
)

func TestRegistry_Add(t *testing.T) {
	valid := settingConfig("ok", models.Option{}, nil)

	tests := []struct {
		name    string
		mutate  func(c *models.SettingConfig)
		wantErr bool
	}{
		{name: "valid", mutate: func(c *models.SettingConfig) {}},
		{name: "missing id", mutate: func(c *models.SettingConfig) { c.ID = "" }, wantErr: true},
		{name: "missing runner", mutate: func(c *models.SettingConfig) { c.Runner.Path = "" }, wantErr: true},
		{name: "no capabilities", mutate: func(c *models.SettingConfig) { c.Capabilities = nil }, wantErr: true},
		{name: "unknown policy", mutate: func(c *models.SettingConfig) { c.Option.PerUser = "private" }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reg, _ := newRegistry(t, processtest.NewLauncher())
			cfg := valid
			cfg.Capabilities = append([]models.CapabilityInfo(nil), valid.Capabilities...)
			tt.mutate(&cfg)

			_, err := reg.Add(cfg)
			if tt.wantErr {
				assert.Error(t, err)
				assert.Empty(t, reg.List())
				return
			}
			require.NoError(t, err)
			assert.Len(t, reg.List(), 1)
		})
	}
}

func TestRegistry_Lookup(t *testing.T) {
	reg, _ := newRegistry(t, processtest.NewLauncher())
	require.NoError(t, reg.Load([]models.SettingConfig{
		settingConfig("spark", models.Option{}, nil),
		settingConfig("python", models.Option{PerNote: models.PolicyIsolated}, nil),
	}))

	_, err := reg.Add(settingConfig("spark", models.Option{}, nil))
	assert.ErrorIs(t, err, interpreter.ErrDuplicateSetting)

	s, err := reg.Get("python")
	require.NoError(t, err)
	assert.Equal(t, models.PolicyIsolated, s.Option().PerNote)
	assert.Equal(t, models.PolicyShared, s.Option().PerUser)

	_, err = reg.Get("ruby")
	assert.ErrorIs(t, err, interpreter.ErrSettingNotFound)

	var ids []string
	for _, s := range reg.List() {
		ids = append(ids, s.ID())
	}
	assert.Equal(t, []string{"python", "spark"}, ids)
}

func TestRegistry_RemoveStopsWorkers(t *testing.T) {
	launcher := processtest.NewLauncher()
	reg, _ := newRegistry(t, launcher)
	s := addSetting(t, reg, settingConfig("gone", models.Option{}, nil))
	ctx := context.Background()

	px := getProxy(t, s, "A", "N", "echo")
	_, err := px.Interpret(ctx, "x", ectx("A", "N", "p"))
	require.NoError(t, err)
	proc := px.Group().GetProcess()

	require.NoError(t, reg.Remove(ctx, "gone"))
	assert.False(t, proc.IsRunning())
	assert.True(t, px.IsClosed())
	assert.ErrorIs(t, reg.Remove(ctx, "gone"), interpreter.ErrSettingNotFound)
}

func TestRegistry_Close(t *testing.T) {
	launcher := processtest.NewLauncher()
	reg, _ := newRegistry(t, launcher)
	ctx := context.Background()

	var procs []*interpreter.Proxy
	for _, id := range []string{"a", "b"} {
		s := addSetting(t, reg, settingConfig(id, models.Option{PerUser: models.PolicyIsolated}, nil))
		for _, user := range []string{"u1", "u2"} {
			px := getProxy(t, s, user, "N", "echo")
			_, err := px.Interpret(ctx, "x", ectx(user, "N", "p"))
			require.NoError(t, err)
			procs = append(procs, px)
		}
	}
	assert.Equal(t, 4, launcher.Launches())

	require.NoError(t, reg.Close(ctx))
	require.NoError(t, reg.Close(ctx))
	for _, px := range procs {
		assert.Equal(t, models.GroupStopped, px.Group().State())
		_, err := px.Interpret(ctx, "x", ectx("", "N", "p"))
		assert.ErrorIs(t, err, interpreter.ErrClosedResource)
	}
	assert.Empty(t, reg.Deps().Schedulers.Keys())

	_, err := reg.Add(settingConfig("late", models.Option{}, nil))
	assert.ErrorIs(t, err, interpreter.ErrClosedResource)
}
