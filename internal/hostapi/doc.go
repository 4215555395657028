// Package hostapi provides the host side of the capability contract.
//
// A Host maps each capability to a Provider. Providers perform the work and
// trust that the capability gate has already granted the call; they never
// consult manifests or enablement.
//
// Payloads share a small JSON envelope (Request) with an "op" field:
//
//	storage        get, set, delete, keys
//	clipboard      read, write
//	notifications  notify
//	internet       fetch
//	filesystem     read, write, list, delete
//
// Capabilities without a backing implementation return ErrUnavailable. That is a
// host failure, not a policy denial.
package hostapi
