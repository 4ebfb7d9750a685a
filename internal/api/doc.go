// Package api hosts the HTTP handlers of the Bagurumba video API.
//
// Handlers translate requests into calls on the upload issuer, the status
// reconciler and the catalog service, all injected through Handler. Error
// responses carry a fixed public message per failure class; causes are
// logged with the request id and never echoed to clients.
//
// Handlers assume upstream middleware from internal/server has already
// resolved the caller (see AuthenticateRequest) and applied rate limiting,
// metrics and logging.
package api
