package sensor

import (
	"context"
	"sync"
	"testing"

	"codeberg.org/mutker/sensorctl/internal/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubSensor struct{}

func (stubSensor) CollectData(context.Context, Params) (any, error) { return "frame", nil }

func (stubSensor) CheckHealth(context.Context) (HealthStatus, error) {
	return HealthStatus{Healthy: true, Status: "ok"}, nil
}

type describedSensor struct{ stubSensor }

func (describedSensor) Describe() map[string]any { return map[string]any{"model": "x1"} }

type collectOnly struct{}

func (collectOnly) CollectData(context.Context, Params) (any, error) { return nil, nil }

func TestRegisterAndGet(t *testing.T) {
	r := NewRegistry()

	require.NoError(t, r.Register("camera", stubSensor{}, Config{Labels: map[string]string{"zone": "a"}}))

	s, err := r.Get("camera")
	require.NoError(t, err)
	assert.NotNil(t, s)

	entry, err := r.Lookup("camera")
	require.NoError(t, err)
	assert.Equal(t, "a", entry.Config.Labels["zone"])
	assert.False(t, entry.RegisteredAt.IsZero())
	assert.Nil(t, entry.Describe())
}

func TestRegisterDuplicate(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register("camera", stubSensor{}, Config{}))

	err := r.Register("camera", stubSensor{}, Config{})
	assert.True(t, errors.HasCode(err, errors.ErrDuplicateName))
	assert.Equal(t, 1, r.Len())
}

func TestRegisterRejectsIncompleteSensor(t *testing.T) {
	r := NewRegistry()

	err := r.Register("probe", collectOnly{}, Config{})
	assert.True(t, errors.HasCode(err, ErrInvalidSensor))

	err = r.Register("nil", nil, Config{})
	assert.True(t, errors.HasCode(err, ErrInvalidSensor))

	var ptr *describedSensor
	err = r.Register("nil-ptr", ptr, Config{})
	assert.True(t, errors.HasCode(err, ErrInvalidSensor))

	err = r.Register("  ", stubSensor{}, Config{})
	assert.True(t, errors.HasCode(err, ErrInvalidName))

	assert.Zero(t, r.Len())
}

func TestUnregister(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register("lidar", describedSensor{}, Config{}))

	entry, err := r.Lookup("lidar")
	require.NoError(t, err)
	assert.Equal(t, "x1", entry.Describe()["model"])

	require.NoError(t, r.Unregister("lidar"))

	err = r.Unregister("lidar")
	assert.True(t, errors.HasCode(err, errors.ErrResourceNotFound))

	_, err = r.Get("lidar")
	assert.True(t, errors.HasCode(err, errors.ErrResourceNotFound))
}

func TestNamesAreTrimmedOnEveryAccess(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(" cam ", stubSensor{}, Config{}))

	assert.Equal(t, []string{"cam"}, r.List())
	assert.True(t, r.Has("cam "))

	entry, err := r.Lookup("  cam")
	require.NoError(t, err)
	assert.Equal(t, "cam", entry.Name)

	err = r.Register("cam", stubSensor{}, Config{})
	assert.True(t, errors.HasCode(err, errors.ErrDuplicateName))

	require.NoError(t, r.Unregister(" cam "))
	assert.Zero(t, r.Len())
}

func TestListIsSortedSnapshot(t *testing.T) {
	r := NewRegistry()
	for _, name := range []string{"thermo", "camera", "lidar"} {
		require.NoError(t, r.Register(name, stubSensor{}, Config{}))
	}

	assert.Equal(t, []string{"camera", "lidar", "thermo"}, r.List())

	snap := r.Snapshot()
	require.Len(t, snap, 3)
	assert.Equal(t, "camera", snap[0].Name)

	require.NoError(t, r.Unregister("camera"))
	assert.Len(t, snap, 3, "snapshot is a copy")
}

func TestRegistryConcurrentAccess(t *testing.T) {
	r := NewRegistry()
	var wg sync.WaitGroup

	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			_ = r.Register(string(rune('a'+i%26)), stubSensor{}, Config{})
		}(i)
		go func() {
			defer wg.Done()
			_ = r.List()
		}()
	}
	wg.Wait()

	assert.Equal(t, 26, r.Len())
}
