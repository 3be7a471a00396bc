package loader

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"io"
	"net"
	"syscall"

	"github.com/unkn0wn-root/resload/internal/resource"
)

// NetErrorOf maps a transport failure to a network error code.
func NetErrorOf(err error) resource.NetError {
	if err == nil {
		return resource.OK
	}
	var code resource.NetError
	if errors.As(err, &code) && code != resource.OK {
		return code
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return resource.ErrTimedOut
	case errors.Is(err, context.Canceled):
		return resource.ErrAborted
	case errors.Is(err, syscall.ECONNREFUSED):
		return resource.ErrConnectionRefused
	case errors.Is(err, syscall.ECONNRESET), errors.Is(err, io.ErrUnexpectedEOF):
		return resource.ErrConnectionReset
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return resource.ErrNameNotResolved
	}
	var (
		unknownAuthority x509.UnknownAuthorityError
		invalidCert      x509.CertificateInvalidError
		hostnameErr      x509.HostnameError
		verifyErr        *tls.CertificateVerificationError
	)
	if errors.As(err, &unknownAuthority) || errors.As(err, &invalidCert) ||
		errors.As(err, &hostnameErr) || errors.As(err, &verifyErr) {
		return resource.ErrCertInvalid
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return resource.ErrTimedOut
	}
	return resource.ErrFailed
}
