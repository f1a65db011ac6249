package adapter

import "fmt"

// Kind classifies a transport failure for retry policy purposes.
type Kind int

const (
	// KindTransient: timeout, connection reset, 5xx — retried with backoff
	// up to the attempt ceiling.
	KindTransient Kind = iota
	// KindValidation: the authority rejected the payload — never retried.
	KindValidation
	// KindNotFound: the mutation targets an entity the authority no longer
	// has — never retried, retrying cannot succeed.
	KindNotFound
	// KindProtocol: malformed or unparseable response — retried like a
	// transient failure but logged distinctly.
	KindProtocol
)

func (k Kind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	case KindProtocol:
		return "protocol"
	default:
		return "unknown"
	}
}

// Failure is the only error type the transport boundary produces.
type Failure struct {
	Kind    Kind
	Code    string
	Message string
	cause   error
}

func (f *Failure) Error() string {
	if f.Code != "" {
		return fmt.Sprintf("%s failure (%s): %s", f.Kind, f.Code, f.Message)
	}
	return fmt.Sprintf("%s failure: %s", f.Kind, f.Message)
}

func (f *Failure) Unwrap() error {
	return f.cause
}

// Retryable reports whether the failure kind permits another attempt.
func (f *Failure) Retryable() bool {
	return f.Kind == KindTransient || f.Kind == KindProtocol
}
