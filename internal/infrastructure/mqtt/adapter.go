package mqtt

// BridgeClient adapts Client to handlers that do not return errors, the
// shape the stack bridge and state publisher consume.
type BridgeClient struct {
	*Client
}

// Subscribe registers handler for topic.
func (b BridgeClient) Subscribe(topic string, qos byte, handler func(topic string, payload []byte)) error {
	if handler == nil {
		return b.Client.Subscribe(topic, qos, nil)
	}
	return b.Client.Subscribe(topic, qos, func(topic string, payload []byte) error {
		handler(topic, payload)
		return nil
	})
}
