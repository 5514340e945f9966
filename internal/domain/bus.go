package domain

// MessageBus carries inbound messages from the session connector to the bot loop.
type MessageBus interface {
	Publish(msg InboundMessage)
	Subscribe() <-chan InboundMessage
	Close()
}

// Alerter notifies the account owner out-of-band (session logged out, reconnect storms).
type Alerter interface {
	Alert(text string) error
}
