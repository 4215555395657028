// Package auth authenticates clients of the local HTTP API.
//
// Authentication is off unless auth.jwt_secret is configured. When it is on,
// every API request carries an HS256 JWT whose "sub" claim names the client:
//
//	verifier, err := NewJWTVerifier(secret)
//	token, err := verifier.Generate("desktop-view", 24*time.Hour)
//
// An optional space-separated "scope" claim limits the token to read or write
// operations. Tokens without it may do both.
//
// HTTPAuthMiddleware verifies the token and stores the Claims in the request
// context; RequireScope then gates individual routes.
package auth
