// Package httpmw provides HTTP middleware for the public login server.
//
// httpserver.NewHandler composes them outermost first: security headers,
// panic recovery, request ID, client IP, OTel tracing,
// trace response headers, metrics, request logger, then the chi router with
// route annotation, access log and body limit. Rate limits are mounted on
// routes by sitehttp so they key on the matched pattern.
//
// Form values and credentials never reach the logs. Only the username is
// logged, and only by the login handler itself.
package httpmw
