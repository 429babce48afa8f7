package services

import "errors"

var (
	// ErrNotFound is returned when no restaurant has the requested id
	ErrNotFound = errors.New("restaurant not found")
	// ErrRefreshInProgress is returned when a refresh is requested while one is running
	ErrRefreshInProgress = errors.New("refresh already in progress")
)
