//
// SPDX-License-Identifier: GPL-3.0-or-later
//

package errclass

// These aliases exist so errclass.go can compare against a single symbol
// regardless of platform; the underlying errno values are defined in
// unix.go and windows.go.
var (
	errWouldBlock  = errEWOULDBLOCK
	errAgain       = errEAGAIN
	errConnReset   = errECONNRESET
	errConnAborted = errECONNABORTED
	errBrokenPipe  = errEPIPE
)

func classifyErrno(err error) string {
	switch {
	case isErrno(err, errEADDRNOTAVAIL):
		return EADDRNOTAVAIL
	case isErrno(err, errEADDRINUSE):
		return EADDRINUSE
	case isErrno(err, errECONNABORTED):
		return ECONNABORTED
	case isErrno(err, errECONNREFUSED):
		return ECONNREFUSED
	case isErrno(err, errECONNRESET):
		return ECONNRESET
	case isErrno(err, errEHOSTUNREACH):
		return EHOSTUNREACH
	case isErrno(err, errEINVAL):
		return EINVAL
	case isErrno(err, errEINTR):
		return EINTR
	case isErrno(err, errENETDOWN):
		return ENETDOWN
	case isErrno(err, errENETUNREACH):
		return ENETUNREACH
	case isErrno(err, errENOBUFS):
		return ENOBUFS
	case isErrno(err, errENOTCONN):
		return ENOTCONN
	case isErrno(err, errEPROTONOSUPPORT):
		return EPROTONOSUPPORT
	case isErrno(err, errETIMEDOUT):
		return ETIMEDOUT
	case isErrno(err, errEWOULDBLOCK), isErrno(err, errEAGAIN):
		return EWOULDBLOCK
	case isErrno(err, errEPIPE):
		return ECONNRESET
	}
	return ""
}
