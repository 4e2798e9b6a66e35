package pipeline

// adapterFailureError wraps a model failure during a batch.
type adapterFailureError struct{ err error }

func (e adapterFailureError) Error() string { return "adapter failure: " + e.err.Error() }
func (e adapterFailureError) Unwrap() error { return e.err }

// ErrAdapterFailure constructs an adapterFailureError.
func ErrAdapterFailure(err error) error { return adapterFailureError{err: err} }

// IsAdapterFailure reports whether err originated in the model adapter.
func IsAdapterFailure(err error) bool {
	_, ok := err.(adapterFailureError)
	return ok
}

// alreadyRanError signals Run being called twice on the same engine.
type alreadyRanError struct{}

func (alreadyRanError) Error() string { return "engine already ran" }

// IsAlreadyRan reports whether err indicates a reused engine.
func IsAlreadyRan(err error) bool {
	_, ok := err.(alreadyRanError)
	return ok
}
