package domain

import "errors"

var (
	// ErrNotFound is returned when a message, entry or rule does not exist.
	ErrNotFound = errors.New("not found")

	// ErrNoEligibleMessages is returned by a claim that won zero rows.
	ErrNoEligibleMessages = errors.New("no eligible messages")

	// ErrUnknownChannel is returned for a channel outside email/sms/push.
	ErrUnknownChannel = errors.New("unknown channel")

	// ErrUnknownGateway is returned when no adapter exists for a
	// (channel, gateway) pair.
	ErrUnknownGateway = errors.New("unknown gateway")
)
