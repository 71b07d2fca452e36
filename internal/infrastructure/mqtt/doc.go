// Package mqtt provides MQTT client connectivity for the PowerLogic controller.
//
// The broker is optional. When enabled it carries two kinds of traffic:
//
//   - commands, published to powerlogic/command/{device} for an agent running
//     on or next to the device to execute
//   - presence heartbeats, published by those agents to
//     powerlogic/presence/{device} and consumed by the liveness monitor
//
// The client publishes a retained online status to powerlogic/system/status
// and registers a Last Will so subscribers see an unexpected disconnect.
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	err = client.SubscribePresence(func(device string, payload []byte) error {
//	    log.Printf("heartbeat from %s", device)
//	    return nil
//	})
//
//	err = client.PublishDeviceState("Lab PC", mqtt.DeviceState{Online: true, Source: "liveness"})
package mqtt
