package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/kwv/anchormesh/registry"
)

// integrationBroker returns the broker for integration tests, skipping the
// test unless RUN_INTEGRATION_TESTS=1.
func integrationBroker(t *testing.T) string {
	t.Helper()
	if os.Getenv("RUN_INTEGRATION_TESTS") != "1" {
		t.Skip("Skipping integration test (set RUN_INTEGRATION_TESTS=1 to run)")
	}
	if broker := os.Getenv("MQTT_BROKER"); broker != "" {
		return broker
	}
	return "tcp://localhost:1883"
}

// fakeAnchorService answers add commands with added events and remove
// commands with removed events, like the platform bridge does.
func fakeAnchorService(t *testing.T, broker, prefix string) mqtt.Client {
	t.Helper()
	opts := mqtt.NewClientOptions().AddBroker(broker).SetClientID(prefix + "-bridge")
	client := mqtt.NewClient(opts)
	token := client.Connect()
	require.True(t, token.WaitTimeout(5*time.Second))
	require.NoError(t, token.Error())
	t.Cleanup(func() { client.Disconnect(100) })

	reply := func(kind string) mqtt.MessageHandler {
		return func(c mqtt.Client, msg mqtt.Message) {
			parts := strings.Split(msg.Topic(), "/")
			id := parts[len(parts)-2]
			ev := map[string]any{"event": kind, "id": id}
			if kind == "added" {
				var cmd struct {
					Pose json.RawMessage `json:"pose"`
				}
				if err := json.Unmarshal(msg.Payload(), &cmd); err == nil {
					ev["pose"] = cmd.Pose
				}
			}
			payload, _ := json.Marshal(ev)
			c.Publish(prefix+"/events", 1, false, payload)
		}
	}
	token = client.Subscribe(prefix+"/anchors/+/add", 1, reply("added"))
	require.True(t, token.WaitTimeout(5*time.Second))
	token = client.Subscribe(prefix+"/anchors/+/remove", 1, reply("removed"))
	require.True(t, token.WaitTimeout(5*time.Second))
	return client
}

// TestMQTTServiceRoundTrip runs the service against a real broker: a
// detection published on MQTT becomes a retained record once the anchor
// service confirms it.
func TestMQTTServiceRoundTrip(t *testing.T) {
	broker := integrationBroker(t)
	prefix := fmt.Sprintf("anchormesh-test-%d", time.Now().UnixNano())
	bridge := fakeAnchorService(t, broker, prefix)

	config := registry.DefaultConfig()
	config.MQTT.Broker = broker
	config.MQTT.ClientID = prefix
	config.MQTT.TopicPrefix = prefix
	config.Storage.Path = t.TempDir()
	config.HTTP.Port = 0

	app, err := NewApp(config, zaptest.NewLogger(t))
	require.NoError(t, err)
	defer app.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- app.RunService(ctx) }()
	require.Eventually(t, app.MQTT.IsConnected, 10*time.Second, 50*time.Millisecond)

	records := make(chan []byte, 4)
	token := bridge.Subscribe(prefix+"/records/+", 1, func(_ mqtt.Client, msg mqtt.Message) {
		records <- msg.Payload()
	})
	require.True(t, token.WaitTimeout(5*time.Second))

	payload, err := json.Marshal(planeDetection(0))
	require.NoError(t, err)
	token = bridge.Publish(prefix+"/detections", 1, false, payload)
	require.True(t, token.WaitTimeout(5*time.Second))

	select {
	case data := <-records:
		assert.Contains(t, string(data), `"event":"captured"`)
		assert.Contains(t, string(data), `"displayName":"Plane0"`)
	case <-time.After(10 * time.Second):
		t.Fatal("no record published")
	}

	cancel()
	require.NoError(t, <-done)
}
