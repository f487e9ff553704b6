// Package mqtt publishes bridge state to an MQTT broker.
//
// The bridge never takes commands over MQTT; the broker is an outbound fan-out
// for dashboards and other consumers. This package manages:
//   - Connection with auto-reconnect and exponential backoff
//   - Publishing with QoS and retained flags
//   - Last Will and Testament on the status topic for crash detection
//
// Topic layout under the configured prefix (default "meshbridge"):
//
//	meshbridge/status                    online/offline (LWT, retained)
//	meshbridge/health                    periodic health report (retained)
//	meshbridge/state/connection          connected target or disconnected (retained)
//	meshbridge/state/self                node self-identity (retained)
//	meshbridge/state/contacts            last contact table (retained)
//	meshbridge/event/status/<key prefix> remote node status responses
//
// Usage:
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	err = client.PublishJSON(client.Topics().StateSelf(), self, true)
package mqtt
