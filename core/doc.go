// Package core contains the outbound webhook domain: the signer, the
// dispatch record lifecycle, the dispatcher write path and the retry worker.
// Storage, HTTP transport and inbound adapters depend on this package; core
// must not depend on them.
package core
