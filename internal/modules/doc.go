// Package modules contains the built-in tools shipped with the shell.
//
// Each module is a manifest under manifests/ plus a registry.Module
// implementation. Modules only reach the host through the registry.Host they
// are handed at run time, so a module that has not declared a capability has
// no way to use it.
package modules
