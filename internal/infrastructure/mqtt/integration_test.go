//go:build integration

package mqtt

import (
	"context"
	"testing"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
)

// Integration tests need a broker at 127.0.0.1:1883.
//
//	go test -tags=integration ./internal/infrastructure/mqtt/...

func TestIntegration_PublishRetained(t *testing.T) {
	cfg := testConfig()
	cfg.Broker.ClientID = "meshbridge-int-pub"

	client, err := Connect(cfg)
	if err != nil {
		t.Skipf("no broker available: %v", err)
	}
	defer client.Close()

	if err := client.HealthCheck(context.Background()); err != nil {
		t.Fatalf("HealthCheck() error = %v", err)
	}

	topic := client.Topics().StateSelf()
	if err := client.PublishJSON(topic, map[string]string{"name": "int-test"}, true); err != nil {
		t.Fatalf("PublishJSON() error = %v", err)
	}

	// A fresh subscriber sees the retained value.
	got := make(chan []byte, 1)
	opts := pahomqtt.NewClientOptions().AddBroker("tcp://127.0.0.1:1883").SetClientID("meshbridge-int-sub")
	sub := pahomqtt.NewClient(opts)
	if tok := sub.Connect(); !tok.WaitTimeout(5*time.Second) || tok.Error() != nil {
		t.Fatalf("subscriber connect failed: %v", tok.Error())
	}
	defer sub.Disconnect(100)

	sub.Subscribe(topic, 1, func(_ pahomqtt.Client, m pahomqtt.Message) {
		select {
		case got <- m.Payload():
		default:
		}
	})

	select {
	case payload := <-got:
		if string(payload) != `{"name":"int-test"}` {
			t.Errorf("payload = %s", payload)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("retained message not received")
	}
}
