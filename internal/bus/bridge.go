package bus

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/patient-flow/pkg/logger"
	"github.com/jwalitptl/patient-flow/pkg/messaging"
	"github.com/jwalitptl/patient-flow/pkg/metrics"
)

// Bridge relays signals between the local bus and other desk processes
// through a message broker. Signals this process published are not
// delivered back to it.
type Bridge struct {
	bus     *Bus
	broker  messaging.Broker
	channel string
	origin  string
	metrics *metrics.Metrics
	logger  *logger.Logger
}

// NewBridge returns a bridge; m may be nil.
func NewBridge(b *Bus, broker messaging.Broker, m *metrics.Metrics, log *logger.Logger) *Bridge {
	if log == nil {
		log = logger.Nop()
	}
	return &Bridge{
		bus:     b,
		broker:  broker,
		channel: PatientsChanged,
		origin:  uuid.NewString(),
		metrics: m,
		logger:  log,
	}
}

// Start subscribes to the broker and begins relaying in both directions
// until ctx is cancelled.
func (br *Bridge) Start(ctx context.Context) error {
	msgs, err := br.broker.Subscribe(ctx, br.channel)
	if err != nil {
		return err
	}

	br.bus.addOutbound(func() {
		if ctx.Err() != nil {
			return
		}
		pubCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		msg := messaging.Message{Type: PatientsChanged, Origin: br.origin, SentAt: time.Now().UnixMilli()}
		if err := br.broker.Publish(pubCtx, br.channel, msg); err != nil {
			br.logger.Error(err, "failed to relay signal", "channel", br.channel)
			return
		}
		br.count("out")
	})

	go func() {
		for raw := range msgs {
			var msg messaging.Message
			if err := json.Unmarshal(raw, &msg); err != nil {
				br.logger.Warn("dropping malformed signal", "channel", br.channel)
				continue
			}
			if msg.Origin == br.origin {
				continue
			}
			br.count("in")
			br.bus.deliver()
		}
	}()

	br.logger.Info("bus bridge started", "channel", br.channel, "origin", br.origin)
	return nil
}

func (br *Bridge) count(direction string) {
	if br.metrics != nil {
		br.metrics.BusRelayed.WithLabelValues(direction).Inc()
	}
}
