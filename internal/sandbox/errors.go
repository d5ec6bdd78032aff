package sandbox

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrDisallowedProgram = errors.New("program not in allow-list")
	ErrTimeout           = errors.New("command timed out")
	ErrNonZeroExit       = errors.New("command exited non-zero")
	ErrInvalidArgument   = errors.New("invalid argument")
)

// DisallowedProgramError is returned before any process is spawned.
type DisallowedProgramError struct {
	Program string
}

func (e *DisallowedProgramError) Error() string {
	return fmt.Sprintf("%s: %q", ErrDisallowedProgram, e.Program)
}

func (e *DisallowedProgramError) Is(target error) bool {
	return target == ErrDisallowedProgram
}

type TimeoutError struct {
	Program string
	Timeout time.Duration
	Stderr  string
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s timed out after %s", e.Program, e.Timeout)
}

func (e *TimeoutError) Is(target error) bool {
	return target == ErrTimeout
}

type ExitError struct {
	Program string
	Code    int
	Stderr  string
}

func (e *ExitError) Error() string {
	msg := fmt.Sprintf("%s failed: exit status %d", e.Program, e.Code)
	if stderr := strings.TrimSpace(e.Stderr); stderr != "" {
		msg += ": " + stderr
	}
	return msg
}

func (e *ExitError) Is(target error) bool {
	return target == ErrNonZeroExit
}
