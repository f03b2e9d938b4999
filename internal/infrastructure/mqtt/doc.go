// Package mqtt connects vcpd to the Gray Logic MQTT bus.
//
// vcpd never talks to the Bluetooth stack directly. Native commands are
// published to the stack process and native events are received from it
// over this client; group volume and device state are published as
// retained messages for UIs.
//
//	vcpd <-> Mosquitto <-> Bluetooth stack process
//
// The client wraps paho.mqtt.golang with auto-reconnect, subscription
// restoration, panic-safe handlers, and a retained status on
// graylogic/system/status (online, graceful offline, or the broker-sent
// will on a crash).
//
// Usage:
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	bridge, err := stack.NewBridge(stack.BridgeOptions{MQTTClient: mqtt.BridgeClient{Client: client}})
//
// Production brokers should use TLS (mqtt.broker.tls) and ACLs.
package mqtt
