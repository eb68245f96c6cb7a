package agent

// ExitCode is the numeric result of a whole agent run.
type ExitCode int

const (
	ExitSuccess         ExitCode = 0
	ExitBadArguments    ExitCode = 2
	ExitNotEnoughMemory ExitCode = 3
	ExitBadEnvironment  ExitCode = 4
	ExitNoTransports    ExitCode = 5
	ExitFault           ExitCode = 6
)

func (c ExitCode) String() string {
	switch c {
	case ExitSuccess:
		return "success"
	case ExitBadArguments:
		return "bad_arguments"
	case ExitNotEnoughMemory:
		return "not_enough_memory"
	case ExitBadEnvironment:
		return "bad_environment"
	case ExitNoTransports:
		return "no_transports"
	case ExitFault:
		return "fault"
	default:
		return "unknown"
	}
}
