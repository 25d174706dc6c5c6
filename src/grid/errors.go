package grid

import "errors"

var (
	ErrInvalidConfig   = errors.New("invalid grid configuration")
	ErrStaleGeneration = errors.New("grid was rebuilt since the order was armed")
	ErrNoOrder         = errors.New("slot holds no order")
	ErrSlotRange       = errors.New("slot index out of range")
	ErrDead            = errors.New("grid instance is dead")
)
