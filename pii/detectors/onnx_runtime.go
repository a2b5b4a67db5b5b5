package detectors

import (
	"errors"
	"sync"

	onnxruntime "github.com/yalue/onnxruntime_go"
)

// Runtime reference counts the process-wide ONNX Runtime environment. The
// first Acquire initializes it and the last Release destroys it, so a model
// reload can open the new session before the old detector lets go.
type Runtime struct {
	mu      sync.Mutex
	refs    int
	init    func() error
	destroy func() error
}

// NewRuntime returns a Runtime driven by the given init and destroy hooks.
func NewRuntime(init, destroy func() error) *Runtime {
	return &Runtime{init: init, destroy: destroy}
}

var defaultRuntime = NewRuntime(initializeONNXRuntime, onnxruntime.DestroyEnvironment)

func initializeONNXRuntime() error {
	if libPath := sharedLibraryPath(); libPath != "" {
		onnxruntime.SetSharedLibraryPath(libPath)
	}
	return onnxruntime.InitializeEnvironment()
}

// Acquire takes a reference, initializing the environment if none is held.
func (r *Runtime) Acquire() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.refs == 0 {
		if err := r.init(); err != nil {
			return err
		}
	}
	r.refs++
	return nil
}

// Release drops a reference and destroys the environment with the last one.
func (r *Runtime) Release() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.refs == 0 {
		return errors.New("onnx runtime released without a matching acquire")
	}
	r.refs--
	if r.refs == 0 {
		return r.destroy()
	}
	return nil
}

// Refs returns the number of live references.
func (r *Runtime) Refs() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.refs
}
