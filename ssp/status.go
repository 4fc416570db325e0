package ssp

import "fmt"

// Status is a security status code as returned by a package.
// Values with the high bit set are failures; the rest are informational.
type Status uint32

const (
	StatusOK                  Status = 0x00000000
	StatusContinueNeeded      Status = 0x00090312
	StatusCompleteNeeded      Status = 0x00090313
	StatusCompleteAndContinue Status = 0x00090314

	StatusInsufficientMemory Status = 0x80090300
	StatusInvalidHandle      Status = 0x80090301
	StatusUnsupported        Status = 0x80090302
	StatusTargetUnknown      Status = 0x80090303
	StatusInternalError      Status = 0x80090304
	StatusSecpkgNotFound     Status = 0x80090305
	StatusInvalidToken       Status = 0x80090308
	StatusLogonDenied        Status = 0x8009030C
	StatusUnknownCredentials Status = 0x8009030D
	StatusNoCredentials      Status = 0x8009030E
	StatusMessageAltered     Status = 0x8009030F
	StatusOutOfSequence      Status = 0x80090310
	StatusContextExpired     Status = 0x80090317
	StatusIncompleteMessage  Status = 0x80090318
	StatusBufferTooSmall     Status = 0x80090321
	StatusWrongPrincipal     Status = 0x80090322
	StatusInvalidParameter   Status = 0x8009035D
)

// StatusConversionFailed is reported by Adapt when a text argument cannot
// be converted. It carries the customer bit, so no system package returns
// it; the engine maps it, and only it, to a conversion error.
const StatusConversionFailed Status = 0xA0090001

// StatusAccessDenied is the failure packages report when the peer or the
// supplied identity is refused.
const StatusAccessDenied = StatusLogonDenied

var statusNames = map[Status]string{
	StatusOK:                  "SEC_E_OK",
	StatusContinueNeeded:      "SEC_I_CONTINUE_NEEDED",
	StatusCompleteNeeded:      "SEC_I_COMPLETE_NEEDED",
	StatusCompleteAndContinue: "SEC_I_COMPLETE_AND_CONTINUE",
	StatusInsufficientMemory:  "SEC_E_INSUFFICIENT_MEMORY",
	StatusInvalidHandle:       "SEC_E_INVALID_HANDLE",
	StatusUnsupported:         "SEC_E_UNSUPPORTED_FUNCTION",
	StatusTargetUnknown:       "SEC_E_TARGET_UNKNOWN",
	StatusInternalError:       "SEC_E_INTERNAL_ERROR",
	StatusSecpkgNotFound:      "SEC_E_SECPKG_NOT_FOUND",
	StatusInvalidToken:        "SEC_E_INVALID_TOKEN",
	StatusLogonDenied:         "SEC_E_LOGON_DENIED",
	StatusUnknownCredentials:  "SEC_E_UNKNOWN_CREDENTIALS",
	StatusNoCredentials:       "SEC_E_NO_CREDENTIALS",
	StatusMessageAltered:      "SEC_E_MESSAGE_ALTERED",
	StatusOutOfSequence:       "SEC_E_OUT_OF_SEQUENCE",
	StatusContextExpired:      "SEC_E_CONTEXT_EXPIRED",
	StatusIncompleteMessage:   "SEC_E_INCOMPLETE_MESSAGE",
	StatusBufferTooSmall:      "SEC_E_BUFFER_TOO_SMALL",
	StatusWrongPrincipal:      "SEC_E_WRONG_PRINCIPAL",
	StatusInvalidParameter:    "SEC_E_INVALID_PARAMETER",
	StatusConversionFailed:    "SSPI_E_CONVERSION_FAILED",
}

// String returns the symbolic name, or the hex value for unknown codes.
func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("0x%08X", uint32(s))
}

// Failed reports whether s is a failure code.
func (s Status) Failed() bool {
	return s&0x80000000 != 0
}

// Continues reports whether the handshake needs another round.
func (s Status) Continues() bool {
	return s == StatusContinueNeeded || s == StatusCompleteAndContinue
}

// NeedsCompletion reports whether CompleteAuthToken must run before the
// next round.
func (s Status) NeedsCompletion() bool {
	return s == StatusCompleteNeeded || s == StatusCompleteAndContinue
}
