// Package dedupe suppresses repeats of the same key within a time window.
//
// The notifications provider uses it so a module firing the same notification
// in a loop produces one entry in the feed rather than a flood.
package dedupe
