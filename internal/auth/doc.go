// Package auth provides JWT token handling for the WSM Core API.
//
// Tokens are issued by external operator tooling and validated here by
// signature only (HS256, shared secret, no database lookup). Claims
// carry a role (operator or admin) the API middleware can gate on.
//
// Vending devices move real money, so the token secret is mandatory:
// configuration validation refuses to start without one.
package auth
