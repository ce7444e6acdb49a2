package domain

import "errors"

var (
	ErrNotFound         = errors.New("record not found")
	ErrMissingFaceImage = errors.New("missing face image")
	ErrInvalidQR        = errors.New("invalid qr payload")
	ErrInvalidInput     = errors.New("invalid input")
	ErrDuplicate        = errors.New("record already exists")
)
