// Package watering serializes watering attempts per plant and turns approved
// decisions into device commands.
package watering

import (
	"encoding/json"
	"fmt"
	"sync"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"github.com/PhilKsr/planetplant-sub001/internal/model/messages"
	"github.com/PhilKsr/planetplant-sub001/pkg/mqttbus"
)

// Dispatcher performs exactly one send attempt per watering request. Retries
// are deliberately absent: a retried command that was actually delivered
// would double-water the plant.
type Dispatcher interface {
	// Dispatch publishes the command and returns a channel that yields the
	// device acknowledgement. A send error means nothing was published.
	Dispatch(deviceID string, cmd messages.WaterCommand) (<-chan messages.CommandAck, error)
	// Release drops the pending ack registration for a ticket.
	Release(ticketID string)
}

// MQTTDispatcher publishes commands/{deviceId}/water at QoS1 and routes
// inbound commands/{deviceId}/ack messages to the waiting request.
type MQTTDispatcher struct {
	pub mqttbus.IPublisher
	log *zap.Logger

	mu      sync.Mutex
	pending map[string]chan messages.CommandAck // ticketID -> waiter
}

func NewMQTTDispatcher(pub mqttbus.IPublisher, log *zap.Logger) *MQTTDispatcher {
	return &MQTTDispatcher{pub: pub, log: log, pending: make(map[string]chan messages.CommandAck)}
}

func (d *MQTTDispatcher) Dispatch(deviceID string, cmd messages.WaterCommand) (<-chan messages.CommandAck, error) {
	if cmd.TicketID == "" {
		return nil, fmt.Errorf("command without ticket id")
	}

	ch := make(chan messages.CommandAck, 1)
	d.mu.Lock()
	d.pending[cmd.TicketID] = ch
	d.mu.Unlock()

	payload, err := json.Marshal(cmd)
	if err != nil {
		d.Release(cmd.TicketID)
		return nil, err
	}

	topic := fmt.Sprintf("commands/%s/water", deviceID)
	if err := d.pub.Publish(topic, 1, false, payload); err != nil {
		d.Release(cmd.TicketID)
		return nil, err
	}
	d.log.Debug("water command published",
		zap.String("device_id", deviceID),
		zap.String("ticket_id", cmd.TicketID),
		zap.Int64("duration_ms", cmd.DurationMS))
	return ch, nil
}

func (d *MQTTDispatcher) Release(ticketID string) {
	d.mu.Lock()
	delete(d.pending, ticketID)
	d.mu.Unlock()
}

// HandleAck is the MQTT handler for commands/+/ack. Acks without a waiting
// ticket (late, duplicate, or after timeout) are dropped.
func (d *MQTTDispatcher) HandleAck(_ string, msg mqtt.Message) error {
	var ack messages.CommandAck
	if err := json.Unmarshal(msg.Payload(), &ack); err != nil {
		return fmt.Errorf("bad ack payload on %s: %w", msg.Topic(), err)
	}

	d.mu.Lock()
	ch, ok := d.pending[ack.TicketID]
	if ok {
		delete(d.pending, ack.TicketID)
	}
	d.mu.Unlock()

	if !ok {
		d.log.Debug("ack for unknown ticket", zap.String("ticket_id", ack.TicketID))
		return nil
	}
	ch <- ack
	return nil
}
