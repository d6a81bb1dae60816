// Package presence tracks agent online/offline state.
//
// The Tracker layers a live in-memory overlay over the durable
// agent_status records. Writes go to both; reads merge them with live
// state winning, which masks a stale durable "online" left behind by a
// previous process lifetime. Both layers preserve connected_at when an
// already-online identity reconnects.
package presence
