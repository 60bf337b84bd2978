// Package shipper holds the shipment domain: the data model, the internal
// status vocabulary and its translation from provider statuses, and the
// error taxonomy shared by the provider client, orchestrator and webhook
// reconciler.
package shipper
