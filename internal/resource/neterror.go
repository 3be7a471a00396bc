package resource

import "fmt"

// NetError is a numeric network error code. Values follow the
// well known browser network stack numbering so logs and sinks can be
// compared with other tooling.
type NetError int

const (
	OK                       NetError = 0
	ErrFailed                NetError = -2
	ErrAborted               NetError = -3
	ErrInvalidArgument       NetError = -4
	ErrTimedOut              NetError = -7
	ErrUnexpected            NetError = -9
	ErrAccessDenied          NetError = -10
	ErrInsufficientResources NetError = -12
	ErrFileNoSpace           NetError = -18
	ErrBlockedByClient       NetError = -20
	ErrBlockedByResponse     NetError = -27
	ErrConnectionReset       NetError = -101
	ErrConnectionRefused     NetError = -102
	ErrNameNotResolved       NetError = -105
	ErrInternetDisconnected  NetError = -106
	ErrCertInvalid           NetError = -207
	ErrTooManyRedirects      NetError = -310
	ErrUnsafeRedirect        NetError = -311
	ErrInvalidResponse       NetError = -320
	ErrContentDecodingFailed NetError = -330
)

var netErrorNames = map[NetError]string{
	OK:                       "OK",
	ErrFailed:                "ERR_FAILED",
	ErrAborted:               "ERR_ABORTED",
	ErrInvalidArgument:       "ERR_INVALID_ARGUMENT",
	ErrTimedOut:              "ERR_TIMED_OUT",
	ErrUnexpected:            "ERR_UNEXPECTED",
	ErrAccessDenied:          "ERR_ACCESS_DENIED",
	ErrInsufficientResources: "ERR_INSUFFICIENT_RESOURCES",
	ErrFileNoSpace:           "ERR_FILE_NO_SPACE",
	ErrBlockedByClient:       "ERR_BLOCKED_BY_CLIENT",
	ErrBlockedByResponse:     "ERR_BLOCKED_BY_RESPONSE",
	ErrConnectionReset:       "ERR_CONNECTION_RESET",
	ErrConnectionRefused:     "ERR_CONNECTION_REFUSED",
	ErrNameNotResolved:       "ERR_NAME_NOT_RESOLVED",
	ErrInternetDisconnected:  "ERR_INTERNET_DISCONNECTED",
	ErrCertInvalid:           "ERR_CERT_INVALID",
	ErrTooManyRedirects:      "ERR_TOO_MANY_REDIRECTS",
	ErrUnsafeRedirect:        "ERR_UNSAFE_REDIRECT",
	ErrInvalidResponse:       "ERR_INVALID_RESPONSE",
	ErrContentDecodingFailed: "ERR_CONTENT_DECODING_FAILED",
}

// String returns the symbolic name, e.g. "ERR_ABORTED".
func (e NetError) String() string {
	if name, ok := netErrorNames[e]; ok {
		return name
	}
	return fmt.Sprintf("ERR_%d", int(e))
}

func (e NetError) Error() string {
	return "net::" + e.String()
}
