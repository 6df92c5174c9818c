package cli

import "fmt"

// ExitError carries a specific process exit code out of a command's
// RunE, distinguishing deliberate non-zero exits from ordinary errors.
type ExitError struct {
	Code int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("exit status %d", e.Code)
}
