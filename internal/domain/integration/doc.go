// Package integration defines the domain types and error taxonomy for
// third-party commerce provider integration: outbound request descriptors,
// verified webhook events, and the provider identifiers shared by the
// resilient outbound client and the inbound ingestion path.
package integration
