// Package server exposes the video API over a single HTTP listener.
//
// Every route shares one middleware chain: request ids, request logging,
// audit, metrics, CORS, security headers, rate limiting and bearer
// authentication. The webhook and the public catalog skip authentication.
package server
