package repository

import "errors"

var (
	ErrNotFound        = errors.New("record not found")
	ErrDuplicate       = errors.New("record already exists")
	ErrDuplicateKey    = errors.New("record primary key already exists")
	ErrInUse           = errors.New("record is still referenced")
	ErrVersionConflict = errors.New("record was modified concurrently")
)
