package region

import (
	"errors"

	"github.com/srediag/sealmem/pkg/shm"
)

var (
	// ErrAllocationFailed wraps every failure of Allocate that comes from the
	// backing section (create or writable map).
	ErrAllocationFailed = errors.New("region allocation failed")
	// ErrMapFailed is the section's writable-map failure.
	ErrMapFailed = shm.ErrMapFailed
	// ErrSealFailed is the section's seal failure. The region is retired
	// when no view survived it.
	ErrSealFailed = shm.ErrSealFailed
	// ErrContractViolation matches every misuse of the lifecycle.
	ErrContractViolation = shm.ErrContractViolation

	ErrAlreadyInitialized = contract("already initialized")
	ErrNotYetInitialized  = contract("not yet initialized")
	ErrNotSealed          = contract("not sealed")
	ErrUseAfterRetire     = contract("use after retire")
	ErrUnsupportedType    = contract("type cannot be placed in a sealed region")

	// ErrIntegrity is returned by Verify when sealed bytes no longer match
	// the digest taken at seal time.
	ErrIntegrity = errors.New("sealed region integrity check failed")
	// ErrReadersActive is returned when a superseded region still had
	// readers when the retire wait ended. The region stays mapped.
	ErrReadersActive = errors.New("readers still active")
	// ErrDuplicateName is returned by Vault.Register.
	ErrDuplicateName = errors.New("duplicate cell name")
	// ErrReclaimerClosed is returned when scheduling on a closed Reclaimer.
	ErrReclaimerClosed = errors.New("reclaimer closed")
	// ErrInvalidConfig is returned by VerifyConfig.
	ErrInvalidConfig = errors.New("invalid config")
)

type contractError struct {
	msg string
}

func contract(msg string) error {
	return &contractError{msg: msg}
}

func (e *contractError) Error() string {
	return "region: " + e.msg
}

func (e *contractError) Is(target error) bool {
	return target == ErrContractViolation
}
