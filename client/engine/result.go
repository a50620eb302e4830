package engine

// Result is the judged outcome of one submission attempt.
type Result int

const (
	// Confirmed means the remote service accepted the record.
	Confirmed Result = iota

	// Expired means the session was gone; the record was not taken.
	Expired

	// Rejected means the remote service declined this record.
	Rejected

	// NetworkError is a transient transport or gateway failure.
	NetworkError

	// Fatal is an unrecoverable local or protocol error.
	Fatal
)

func (r Result) String() string {
	switch r {
	case Confirmed:
		return "confirmed"
	case Expired:
		return "expired"
	case Rejected:
		return "rejected"
	case NetworkError:
		return "network_error"
	case Fatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Reason tells why a batch stopped.
type Reason string

const (
	ReasonCompleted        Reason = "completed"
	ReasonExpired          Reason = "expired"
	ReasonRejected         Reason = "rejected"
	ReasonFatal            Reason = "fatal"
	ReasonNetworkExhausted Reason = "network_exhausted"
	ReasonAuthFailed       Reason = "auth_failed"
	ReasonStopped          Reason = "stopped"
)

// Driver states, logged with every transition.
const (
	stateIdle           = "idle"
	stateAuthenticating = "authenticating"
	stateSubmitting     = "submitting"
	stateRetrying       = "retrying"
	stateHalted         = "halted"
)

// haltFor maps the result that ended a record to the batch reason.
func haltFor(result Result) Reason {
	switch result {
	case Expired:
		return ReasonExpired
	case Rejected:
		return ReasonRejected
	case NetworkError:
		return ReasonNetworkExhausted
	default:
		return ReasonFatal
	}
}
