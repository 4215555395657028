// Package catalog defines the closed set of host capabilities a module may declare.
//
// # Capabilities
//
// Every sensitive host feature is named by exactly one Capability:
//
//	camera, microphone, geolocation   - high risk
//	bluetooth, usb, filesystem, internet - medium risk
//	clipboard, notifications, storage, fullscreen, print - low risk
//
// The set is closed. Parse rejects anything outside it with ErrUnknownCapability,
// which is what lets the manifest validator and the capability gate treat an
// unrecognized capability as a hard failure.
//
// # Risk
//
// Risk tiers exist for display and audit only. Nothing in the allow/deny path
// reads them.
//
// # Usage
//
//	c, err := catalog.Parse("camera")
//	info, err := catalog.Describe(c)
//	summary := catalog.Summarize(m.Permissions())
package catalog
