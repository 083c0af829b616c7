// Package auth provides bearer token authentication for shuna-gateway.
//
// Operator-facing API endpoints are protected with JWT tokens signed HS256
// using the configured jwt_secret. The HTTP middleware extracts the token
// from the Authorization header, verifies it, and attaches the subject to
// the request context.
//
// When no jwt_secret is configured the gateway runs the API open; the
// middleware is simply not installed. Browser-facing surfaces (the shell
// itself, the event stream, the message endpoint) are always public.
//
// Token management:
//
//	verifier := auth.NewJWTVerifier(secret)
//	token, err := verifier.Generate("ops", 30*24*time.Hour)
//	subject, err := verifier.Verify(token)
package auth
