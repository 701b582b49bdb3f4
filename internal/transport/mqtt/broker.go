package mqtt

import (
	"fmt"

	mochi "github.com/mochi-mqtt/server/v2"
	"github.com/mochi-mqtt/server/v2/hooks/auth"
	"github.com/mochi-mqtt/server/v2/listeners"
	"github.com/xtxerr/axislog/internal/logging"
)

// Broker is an in-process MQTT broker accepting every client. It serves
// single-host deployments where the sensors publish directly to axislogd.
type Broker struct {
	server *mochi.Server
	addr   string
}

// NewBroker creates a broker listening on addr once started.
func NewBroker(addr string) (*Broker, error) {
	server := mochi.New(&mochi.Options{
		InlineClient: true,
		Logger:       logging.Component("broker"),
	})
	if err := server.AddHook(new(auth.AllowHook), nil); err != nil {
		return nil, fmt.Errorf("add auth hook: %w", err)
	}

	tcp := listeners.NewTCP(listeners.Config{
		Type:    "tcp",
		ID:      "axislog",
		Address: addr,
	})
	if err := server.AddListener(tcp); err != nil {
		return nil, fmt.Errorf("listen %s: %w", addr, err)
	}

	return &Broker{server: server, addr: addr}, nil
}

// Start serves clients in the background.
func (b *Broker) Start() error {
	if err := b.server.Serve(); err != nil {
		return fmt.Errorf("serve: %w", err)
	}
	logging.Component("broker").Info("broker listening", "address", b.addr)
	return nil
}

// Publish injects a message as if a client had sent it.
func (b *Broker) Publish(topic string, payload []byte) error {
	return b.server.Publish(topic, payload, false, 0)
}

// Close disconnects all clients and stops listening.
func (b *Broker) Close() error {
	return b.server.Close()
}
