package apiclient

// Observer receives session events. Implementations must be safe for
// concurrent use; callbacks run on the goroutine of the request involved.
type Observer interface {
	AccessTokenRejected(method, path string)
	RefreshStarted()
	RefreshJoined()
	RefreshSucceeded(waiters int)
	RefreshFailed(err error, waiters int)
	SessionTerminated()
	RequestFinished(method, path string, err error)
}

// NopObserver ignores all events.
type NopObserver struct{}

func (NopObserver) AccessTokenRejected(_, _ string)      {}
func (NopObserver) RefreshStarted()                      {}
func (NopObserver) RefreshJoined()                       {}
func (NopObserver) RefreshSucceeded(_ int)               {}
func (NopObserver) RefreshFailed(_ error, _ int)         {}
func (NopObserver) SessionTerminated()                   {}
func (NopObserver) RequestFinished(_, _ string, _ error) {}

// observers fans every event out to a list of observers.
type observers []Observer

func (o observers) AccessTokenRejected(method, path string) {
	for _, ob := range o {
		ob.AccessTokenRejected(method, path)
	}
}

func (o observers) RefreshStarted() {
	for _, ob := range o {
		ob.RefreshStarted()
	}
}

func (o observers) RefreshJoined() {
	for _, ob := range o {
		ob.RefreshJoined()
	}
}

func (o observers) RefreshSucceeded(waiters int) {
	for _, ob := range o {
		ob.RefreshSucceeded(waiters)
	}
}

func (o observers) RefreshFailed(err error, waiters int) {
	for _, ob := range o {
		ob.RefreshFailed(err, waiters)
	}
}

func (o observers) SessionTerminated() {
	for _, ob := range o {
		ob.SessionTerminated()
	}
}

func (o observers) RequestFinished(method, path string, err error) {
	for _, ob := range o {
		ob.RequestFinished(method, path, err)
	}
}
