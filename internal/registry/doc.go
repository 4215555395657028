// Package registry maps module identifiers to their manifest and factory.
//
// Registration is static at startup: each module is registered once with its
// validated manifest and a zero-argument factory. Registering an identifier twice
// fails with ErrDuplicateModule and leaves the first entry in place.
//
// The registry never touches enablement state. Joining registered modules against
// the enabled set is the shell's job.
//
// # Module contract
//
// A Module receives a Host when it runs. Every sensitive operation goes through
// Host.Use, which the capability gate implements; modules have no other route to
// host features.
package registry
