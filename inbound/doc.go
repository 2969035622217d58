// Package inbound receives webhooks from upstream automation.
//
// Requests are verified before anything else happens; a rejected request
// never reaches the delivery ledger or a handler. Deliveries carrying an
// X-Delivery-Id are reserved in the ledger so replays are acknowledged
// without running handlers twice.
package inbound
