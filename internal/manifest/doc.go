// Package manifest validates module manifests.
//
// A manifest is one JSON document per module:
//
//	{
//	  "name": "camera-tool",
//	  "displayName": "Camera Tool",
//	  "version": "1.0.0",
//	  "description": "Take a snapshot",
//	  "permissions": ["camera"],
//	  "category": "media"
//	}
//
// Validate checks the document against an embedded JSON Schema, then applies the
// semantic rules: the name must be lowercase hyphen-separated tokens, the version must
// be a strict semantic version, and every permission must be a capability known to
// the catalog. An unknown permission fails validation outright.
//
// A *Manifest returned by Validate is immutable. Accessors hand out copies.
package manifest
