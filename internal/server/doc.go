// Package server hosts the Fiber HTTP service in front of the start-page
// origin. It owns the middleware chain (panic recovery, request IDs), the
// shared upstream http.Client, and the split between the reserved /-/
// diagnostics namespace and the catch-all route handed to the caching proxy.
// Keep exports narrow and accept explicit dependencies.
package server
