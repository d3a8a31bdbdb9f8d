// Package server hosts the Fiber HTTP service, the request-id and Host lookup
// middleware, and the site registry that maps each configured domain to its
// origin, share-target classifier and shell key. The proxy package plugs into
// it through ProxyHandler; diagnostics under /-/ bypass Host routing.
package server
