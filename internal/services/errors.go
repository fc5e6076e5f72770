package services

import "errors"

var (
	ErrMalformedPayload        = errors.New("malformed payment payload")
	ErrInconsistentTransaction = errors.New("transaction does not match order")
	ErrProviderFetchFailed     = errors.New("payment provider fetch failed")
)
