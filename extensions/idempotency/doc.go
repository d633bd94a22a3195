// Package idempotency deduplicates settlement calls made against an
// x402.FacilitatorClient.
//
// A settlement submits an on-chain transfer, so two concurrent Settle calls
// for the same signed authorization must not both reach the chain. Wrap
// puts a SettlementStore in front of the client:
//
//	facilitator := idempotency.Wrap(client, idempotency.WithTTL(10*time.Minute))
//	service := x402.NewX402ResourceService(x402.WithFacilitatorClient(facilitator))
//
// For each Settle call a key is derived from the payment payload (SHA-256
// of its JSON by default). The first caller owns the key and settles;
// callers arriving while it is in flight wait for its result; callers
// arriving later receive the cached response until the TTL expires.
//
// Failed or unsuccessful settlements are never cached, so a caller may
// retry them.
package idempotency
