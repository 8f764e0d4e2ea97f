package domain

import "errors"

var (
	ErrNotFound                 = errors.New("not found")
	ErrRateLimited              = errors.New("rate limited")
	ErrInvalidAmount            = errors.New("invalid amount")
	ErrInvalidOrder             = errors.New("invalid order parameters")
	ErrInvalidContract          = errors.New("invalid contract")
	ErrInsufficientLiquidity    = errors.New("insufficient liquidity")
	ErrUnauthorized             = errors.New("unauthorized")
	ErrInvalidState             = errors.New("invalid order state")
	ErrStaleOrMissingMarketData = errors.New("stale or missing market data")
	ErrLockHeld                 = errors.New("lock held by another process")
)
