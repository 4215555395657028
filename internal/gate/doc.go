// Package gate decides whether a module may use a host capability.
//
// A request is granted only when the module is registered, the capability is one
// of the known twelve, the module is currently enabled and its manifest declares
// the capability. Every other combination is denied with a *CapabilityDenied
// naming the reason. Risk tier never influences a decision.
//
// Each decision, granted or denied, is sent to an AuditSink. A failing sink is
// logged and does not change the outcome.
//
// Granted requests are forwarded to a Host. Errors produced by the host are
// returned wrapped and are never reported as denials.
package gate
