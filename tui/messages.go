package tui

import (
	"time"
)

// MsgBanner signals that the banner/title should be displayed.
type MsgBanner struct{}

// MsgCredentialsFound signals that a stored credential was found.
type MsgCredentialsFound struct{}

// MsgCredentialsNotFound signals that no credential is stored.
type MsgCredentialsNotFound struct{}

// MsgLoginOK signals that login succeeded and the credential was stored.
type MsgLoginOK struct{ Email string }

// MsgLoginFailed signals that login was refused or could not be sent.
type MsgLoginFailed struct{ Err error }

// MsgLoggedOut signals that the local credential was cleared.
type MsgLoggedOut struct{}

// MsgRequesting signals that Count copies of a request are being sent.
type MsgRequesting struct {
	Method string
	Path   string
	Count  int
}

// MsgResponseOK carries the body of one successful response.
type MsgResponseOK struct {
	Index int
	Body  string
}

// MsgRequestFinished signals that one logical request completed.
type MsgRequestFinished struct {
	Method string
	Path   string
	Err    error
}

// MsgAccessTokenRejected signals that the API answered 401 to a request.
type MsgAccessTokenRejected struct {
	Method string
	Path   string
}

// MsgRefreshStarted signals that a refresh-token exchange was issued.
type MsgRefreshStarted struct{}

// MsgRefreshJoined signals that a request is waiting on the running refresh.
type MsgRefreshJoined struct{}

// MsgRefreshOK signals that the refresh succeeded.
type MsgRefreshOK struct{ Waiters int }

// MsgRefreshFailed signals that the refresh was rejected.
type MsgRefreshFailed struct {
	Err     error
	Waiters int
}

// MsgSessionTerminated signals that the user has to log in again.
type MsgSessionTerminated struct{}

// MsgStatus describes the stored credential. ExpiresIn is zero when the
// expiry is unknown and negative once expired.
type MsgStatus struct {
	Preview   string
	ExpiresIn time.Duration
}

// MsgDone signals successful completion of the command.
type MsgDone struct{ Summary string }

// MsgFatal signals a fatal error that should terminate the command.
type MsgFatal struct{ Err error }
