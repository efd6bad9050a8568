package bus

import (
	"bytes"

	mochi "github.com/mochi-mqtt/server/v2"
	"github.com/mochi-mqtt/server/v2/packets"

	"github.com/autopeer-io/velopark/internal/pkg/metrics"
	"github.com/autopeer-io/velopark/internal/protocol"
	"github.com/autopeer-io/velopark/pkg/log"
)

// ConnectionState is the lifecycle of one client session on the bus.
type ConnectionState string

const (
	StateConnecting   ConnectionState = "Connecting"
	StateConnected    ConnectionState = "Connected"
	StateDisconnected ConnectionState = "Disconnected"
)

// lifecycleHook tracks client sessions and drops malformed device payloads.
// The bus never retries a connection; reconnecting is the device's job.
type lifecycleHook struct {
	mochi.HookBase
	broker *Broker
}

func (h *lifecycleHook) ID() string {
	return "velopark-lifecycle"
}

func (h *lifecycleHook) Provides(b byte) bool {
	return bytes.Contains([]byte{
		mochi.OnConnect,
		mochi.OnSessionEstablished,
		mochi.OnDisconnect,
		mochi.OnPublish,
	}, []byte{b})
}

func (h *lifecycleHook) OnConnect(cl *mochi.Client, pk packets.Packet) error {
	h.broker.setState(cl.ID, StateConnecting)
	log.Debug("Client connecting", "client", cl.ID, "remote", cl.Net.Remote)
	return nil
}

func (h *lifecycleHook) OnSessionEstablished(cl *mochi.Client, pk packets.Packet) {
	h.broker.setState(cl.ID, StateConnected)
	metrics.BusClients.Inc()
	log.Info("Client connected", "client", cl.ID)
}

func (h *lifecycleHook) OnDisconnect(cl *mochi.Client, err error, expire bool) {
	if h.broker.setState(cl.ID, StateDisconnected) == StateConnected {
		metrics.BusClients.Dec()
	}
	if err != nil {
		log.Info("Client disconnected", "client", cl.ID, "reason", err.Error(), "expire", expire)
		return
	}
	log.Info("Client disconnected", "client", cl.ID, "expire", expire)
}

// OnPublish validates device publications. Server publications carry domain
// events as well as protocol messages and are passed through.
func (h *lifecycleHook) OnPublish(cl *mochi.Client, pk packets.Packet) (packets.Packet, error) {
	if cl.Net.Inline {
		metrics.BusMessagesTotal.WithLabelValues("server").Inc()
		return pk, nil
	}

	if _, err := protocol.Decode(pk.Payload); err != nil {
		metrics.BusDroppedTotal.WithLabelValues("malformed").Inc()
		log.Warn("Dropping malformed message", "client", cl.ID, "topic", pk.TopicName, "error", err)
		return pk, packets.ErrRejectPacket
	}

	metrics.BusMessagesTotal.WithLabelValues("device").Inc()
	return pk, nil
}
