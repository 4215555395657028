// Package api serves the shell over a local JSON HTTP API.
//
// The desktop view layer is the main client. Routes:
//
//	GET  /health
//	GET  /api/modules                  ?q= ?category= ?active=true
//	GET  /api/modules/{id}
//	POST /api/modules/{id}/enable
//	POST /api/modules/{id}/disable
//	POST /api/modules/{id}/toggle
//	POST /api/modules/enable-all
//	POST /api/modules/disable-all
//	POST /api/modules/{id}/run         body is the module input
//	GET  /api/modules/{id}/probe
//	GET  /api/permissions
//	GET  /api/audit                    ?module= ?outcome= ?since= ?limit=
//	GET  /api/notifications
//	GET  /api/stats
//
// Errors are JSON objects with an "error" field. A capability denial during a
// run is 403 with the module, capability and reason. Unknown modules are 404,
// disabled modules 409, and invalid input 400. A capability that was granted
// but has no provider on this host is 503.
//
// When a token verifier is configured every /api route requires a bearer JWT;
// GET routes need the read scope and POST routes the write scope.
package api
