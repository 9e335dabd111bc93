package domain

// PositionSideUpdate is one side of a hedge-mode position as reported by the
// exchange. Side is "Buy", "Sell", or "None"/"" for a flat account.
type PositionSideUpdate struct {
	Symbol     string
	Side       string
	Size       float64
	EntryPrice float64
}

// StreamEvents is everything decoded from one drain of a topic queue.
type StreamEvents struct {
	Topic         string
	Orders        []*Order
	Executions    []Execution
	Positions     []PositionSideUpdate
	WalletBalance *float64
	Bars          []Bar // newest first
	LastPrice     *float64
}

// FromAccount reports whether the events came from a private account topic.
func (e StreamEvents) FromAccount() bool {
	switch e.Topic {
	case "order", "stopOrder", "execution", "position", "wallet":
		return true
	}
	return false
}

// EventSource delivers decoded stream events.
type EventSource interface {
	// Notifications yields a topic name whenever new frames are queued for it.
	Notifications() <-chan string
	// Collect drains and decodes everything queued for topic.
	Collect(topic string) StreamEvents
}
