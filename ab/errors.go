package ab

import "errors"

var (
	// ErrArmNotFound is returned when an operation references an unregistered arm.
	ErrArmNotFound = errors.New("ab: arm not found")

	// ErrDuplicateArm is returned when adding an arm id that is already present.
	ErrDuplicateArm = errors.New("ab: duplicate arm")

	// ErrNoArmsRegistered is returned when suggesting on a bandit without arms.
	ErrNoArmsRegistered = errors.New("ab: no arms registered")

	// ErrInvalidDistributionParameters is returned when Thompson sampling
	// derives a non-positive Beta parameter for an arm.
	ErrInvalidDistributionParameters = errors.New("ab: invalid distribution parameters")

	// ErrUnknownBanditType is returned when decoding a record with an
	// unregistered bandit_type.
	ErrUnknownBanditType = errors.New("ab: unknown bandit type")

	// ErrMalformedRecord is returned when a record is missing required fields
	// or its arrays are not aligned.
	ErrMalformedRecord = errors.New("ab: malformed record")

	ErrInvalidReward    = errors.New("ab: invalid reward")
	ErrInvalidParameter = errors.New("ab: invalid parameter")
)
