package models

// Delivery outcomes recorded per event and recipient.
const (
	// OutcomeDeliveredLive indicates the event reached at least one live session.
	OutcomeDeliveredLive = "delivered_live"
	// OutcomeQueuedOffline indicates the event was written to the offline queue.
	OutcomeQueuedOffline = "queued_offline"
	// OutcomeDrained indicates a queued event was replayed on reconnect.
	OutcomeDrained = "drained"
	// OutcomeDroppedExpired indicates the event expired before it could be shown.
	OutcomeDroppedExpired = "dropped_expired"
)
