// Package interceptor implements the offline caching layer that sits between
// the start page and its origin.
//
// An Interceptor owns exactly one cache generation, named after the build
// manifest version. Its lifecycle is an explicit state machine:
//
//	parsed → installing → installed → activating → active → superseded
//	                ↘ redundant (install failed)
//
// Install bulk-populates the generation with every manifest asset and fails
// as a whole if any asset cannot be fetched. Activate garbage-collects every
// other generation and then claims all connected clients. Serve routes each
// GET request by classification: assets are cache-first, navigations and
// everything else are network-first with a cache fallback. Non-GET requests
// pass straight to the network and are never cached.
//
// Registration holds the active Interceptor and replaces it when a new
// manifest is installed, draining the predecessor's in-flight requests.
package interceptor
