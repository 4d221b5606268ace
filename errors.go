package lobby

import "lobby/common"

// ErrNotFound is returned when a requested bucket is not present in a store.
var ErrNotFound = common.ErrNotFound

// Package-level errors, shared with the store drivers through package common.
var (
	ErrInvalidRequest = common.ErrInvalidRequest
	ErrUnknownField   = common.ErrUnknownField
	ErrStoreNotSet    = common.ErrStoreNotSet
	ErrFetcherNotSet  = common.ErrFetcherNotSet
	ErrStoreClosed    = common.ErrStoreClosed
	ErrUpstreamStatus = common.ErrUpstreamStatus
)
