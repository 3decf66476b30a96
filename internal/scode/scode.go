// Package scode defines the stable, comparable error taxonomy shared by
// every operation exposed by the sound-core and host-controller layers.
package scode

// Code is a stable, caller-facing error identifier. It is a string newtype,
// comparable, allocation-free, and implements error.
type Code string

func (c Code) Error() string { return string(c) }

// Canonical codes. Names mirror the taxonomy operations actually return;
// never named after any host language's own exception/type names.
const (
	InvalidParameter       Code = "invalid_parameter"
	InvalidConfiguration   Code = "invalid_configuration"
	InsufficientResources  Code = "insufficient_resources"
	ResourceInUse          Code = "resource_in_use"
	AccessDenied           Code = "access_denied"
	NotSupported           Code = "not_supported"
	DataLengthMismatch     Code = "data_length_mismatch"
	DeviceIoError          Code = "device_io_error"
	Timeout                Code = "timeout"
	EndOfFile              Code = "end_of_file"
	NotFound               Code = "not_found"
	Cancelled              Code = "cancelled"
)

// Err wraps a Code with operation context and an optional underlying cause.
type Err struct {
	C   Code
	Op  string
	Msg string
	Err error
}

func (e *Err) Error() string {
	s := string(e.C)
	if e.Op != "" {
		s = e.Op + ": " + s
	}
	if e.Msg != "" {
		s += ": " + e.Msg
	}
	return s
}

func (e *Err) Unwrap() error { return e.Err }
func (e *Err) Code() Code    { return e.C }

// New builds an *Err with the given op and message.
func New(c Code, op, msg string) *Err {
	return &Err{C: c, Op: op, Msg: msg}
}

// Wrap builds an *Err carrying cause as Unwrap target.
func Wrap(c Code, op string, cause error) *Err {
	return &Err{C: c, Op: op, Err: cause}
}

// Of extracts a Code from an error, defaulting to DeviceIoError for unknown
// errors (the taxonomy has no bare "error" fallback; callers that reach an
// unclassified error are almost always surfacing a hardware condition).
func Of(err error) Code {
	if err == nil {
		return ""
	}
	if c, ok := err.(Code); ok {
		return c
	}
	type coder interface{ Code() Code }
	if x, ok := err.(coder); ok {
		return x.Code()
	}
	return DeviceIoError
}
