package sink

// Handle is an in-flight asynchronous write.
type Handle interface {
	// Done is closed once the write has finished, successfully or not.
	Done() <-chan struct{}

	// Result returns the outcome. It blocks until Done is closed.
	Result() (WriteResult, error)
}

type future struct {
	done chan struct{}
	res  WriteResult
	err  error
}

func newFuture() *future {
	return &future{done: make(chan struct{})}
}

func (f *future) complete(res WriteResult, err error) {
	f.res, f.err = res, err
	close(f.done)
}

func (f *future) Done() <-chan struct{} {
	return f.done
}

func (f *future) Result() (WriteResult, error) {
	<-f.done
	return f.res, f.err
}

// Go runs fn on a new goroutine and returns a Handle for its outcome.
func Go(fn func() (WriteResult, error)) Handle {
	f := newFuture()
	go func() {
		f.complete(fn())
	}()
	return f
}

// Completed returns a Handle that has already finished.
func Completed(res WriteResult, err error) Handle {
	f := newFuture()
	f.complete(res, err)
	return f
}
