package store

import "errors"

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrPressNotFound   = errors.New("press not found")
	ErrPriceNotFound   = errors.New("paper price not found")
)

// dimensionTolerance is how far (cm) a stored paper size may be from the
// requested one and still match.
const dimensionTolerance = 0.05
