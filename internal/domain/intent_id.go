package domain

import "github.com/google/uuid"

// intentNamespace is a fixed, arbitrary namespace UUID used to derive
// deterministic intent ids. It must never change: doing so would make
// a freshly computed intent_id differ from the one computed earlier for
// the same (leader_trade_id, follow_id) pair, so the store's unique
// constraint would no longer catch the duplicate, defeating idempotency.
var intentNamespace = uuid.MustParse("8f14e45f-ceea-467e-a9af-9d0f7e4b7c0c")

// IntentID deterministically derives the idempotency key for a
// (LeaderTrade, Follow) pair as hash(leader_trade_id, follow_id). Using
// UUIDv5 means replaying the same LeaderTrade through the dispatcher any
// number of times, or re-running the dispatcher after a crash, always
// recomputes the same id, which is exactly what lets the store's unique
// constraint on intent_id absorb duplicate dispatch as a no-op.
func IntentID(leaderTradeID, followID string) string {
	return uuid.NewSHA1(intentNamespace, []byte(leaderTradeID+"|"+followID)).String()
}
