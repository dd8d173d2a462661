package driver

import "errors"

var (
	errNegativeSeconds     = errors.New("driver: negative sleep duration")
	errZappedWhileSleeping = errors.New("driver: zapped while sleeping")

	ErrBadTrack  = errors.New("driver: track out of range for unit geometry")
	ErrBadSector = errors.New("driver: sector out of range for unit geometry")
	ErrZappedIO  = errors.New("driver: zapped while waiting on disk i/o")
)
