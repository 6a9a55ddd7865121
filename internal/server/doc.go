// Package server hosts the Fiber HTTP application: the middleware chain
// (panic recovery, request IDs, access logging, CORS), the error renderer that
// maps repository error kinds onto HTTP statuses, and the shared outbound HTTP
// client used by the retrieval backends. Route handlers live in the routes
// sub-package and receive their dependencies explicitly.
package server
