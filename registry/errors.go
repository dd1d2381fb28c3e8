package registry

import "errors"

// Errors returned by registry operations. They correspond to the reverts of
// the on-chain registry.
var (
	ErrInsufficientStake          = errors.New("insufficient stake")
	ErrAlreadyRegistered          = errors.New("provider already registered")
	ErrProviderNotActive          = errors.New("provider not active")
	ErrNotLeaving                 = errors.New("provider has not requested withdrawal")
	ErrCooldownNotElapsed         = errors.New("withdrawal cooldown not elapsed")
	ErrStakeLocked                = errors.New("stake is locked by insurance")
	ErrInsufficientAvailableStake = errors.New("insufficient available stake")
	ErrLowFeePayment              = errors.New("low fee payment")
	ErrInsuranceNotExpired        = errors.New("insurance not expired yet")
	ErrUnknownProvider            = errors.New("unknown provider")
	ErrUnknownInsurance           = errors.New("unknown insurance")
	ErrLengthMismatch             = errors.New("providers and amounts length mismatch")
	ErrNothingToSlash             = errors.New("provider has no slashable stake")
)
