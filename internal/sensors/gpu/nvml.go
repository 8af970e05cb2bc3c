package gpu

import (
	"sync"

	"codeberg.org/mutker/sensorctl/internal/errors"
	"github.com/NVIDIA/go-nvml/pkg/nvml"
)

// nvmlController abstracts NVML library lifecycle for testing
type nvmlController interface {
	Initialize() error
	Shutdown() error
	GetDeviceCount() (int, error)
	GetDevice(index int) (Device, error)
}

// nvmlWrapper reference counts Initialize and Shutdown so several sensors
// can share the library.
type nvmlWrapper struct {
	mu   sync.Mutex
	refs int
}

var library nvmlController = &nvmlWrapper{}

func (w *nvmlWrapper) Initialize() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.refs > 0 {
		w.refs++
		return nil
	}

	if ret := nvml.Init(); !IsNVMLSuccess(ret) {
		return errors.New().Wrap(ErrInitFailed, newNVMLError(ret))
	}
	w.refs = 1

	return nil
}

func (w *nvmlWrapper) Shutdown() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.refs == 0 {
		return nil
	}
	w.refs--
	if w.refs > 0 {
		return nil
	}

	if ret := nvml.Shutdown(); !IsNVMLSuccess(ret) {
		return errors.New().Wrap(ErrShutdownFailed, newNVMLError(ret))
	}

	return nil
}

func (w *nvmlWrapper) initialized() bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	return w.refs > 0
}

func (w *nvmlWrapper) GetDeviceCount() (int, error) {
	errFactory := errors.New()
	if !w.initialized() {
		return 0, errFactory.New(ErrNotInitialized)
	}

	count, ret := nvml.DeviceGetCount()
	if !IsNVMLSuccess(ret) {
		return 0, errFactory.Wrap(ErrDeviceNotFound, newNVMLError(ret))
	}

	return count, nil
}

func (w *nvmlWrapper) GetDevice(index int) (Device, error) {
	errFactory := errors.New()
	if !w.initialized() {
		return nil, errFactory.New(ErrNotInitialized)
	}

	device, ret := nvml.DeviceGetHandleByIndex(index)
	if !IsNVMLSuccess(ret) {
		return nil, errFactory.Wrap(ErrDeviceNotFound, newNVMLError(ret))
	}

	return device, nil
}
