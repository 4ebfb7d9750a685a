// Package provider wraps the third-party streaming provider (Cloudflare
// Stream) that receives uploads directly from browsers and transcodes them.
//
// The service never proxies video bytes. Instead it:
//
//  1. Mints a one-time direct upload URL (MintUploadTarget). The provider
//     returns an asset uid that becomes the record's correlation id.
//  2. Queries the asset's processing state on demand (QueryJobState) when a
//     client polls for status or the sweeper revisits a stale record.
//  3. Verifies the configured API token for health reporting (HealthCheck).
//
// All calls use a bearer token and the provider's JSON envelope
// {success, errors, result}. Reads are retried a bounded number of times on
// transport errors, 5xx and 429 responses. Minting is attempted once.
//
// When no account id or token is configured New returns Disabled, whose calls
// fail with ErrDisabled. A partial configuration is a validation error.
package provider
