// Package shell is the controller between the view layer and the module system.
//
// It owns no state of its own: module metadata comes from the registry, the
// enabled set from the enablement store and every capability decision from the
// gate. Views are rebuilt on each call so they always reflect the current
// enabled set.
package shell
