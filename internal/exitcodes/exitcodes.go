package exitcodes

// Exit codes for the sd-launcher binaries.
// Front-end wrappers and scripts branch on these values.
const (
	Success         = 0 // Successful execution
	InvalidConfig   = 2 // Configuration file invalid or missing
	SafetyViolation = 3 // A directory argument was rejected by the path validator
	RuntimeError    = 4 // Runtime error during execution
	CommandFailed   = 5 // One-shot command exited non-zero
)
