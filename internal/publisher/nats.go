package publisher

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
)

// Channels read by the dashboard. Every publish replaces the previous
// value of the channel wholesale.
const (
	ChannelTime   = "current-time"
	ChannelMap    = "map"
	ChannelPanels = "panels"
	ChannelBuses  = "bus-locations"
)

// Sink is a last-value-wins publish channel.
type Sink interface {
	Publish(channel string, v any) error
}

type PublisherMetrics interface {
	NATSPublishedInc()
	NATSPublishErrInc()
	PublishObserve(d time.Duration)
	NATSSetConnected(connected bool)
}

type Options struct {
	// SubjectPrefix is prepended to the channel name: "<prefix>.<channel>".
	SubjectPrefix string
	// KVBucket, when set, also stores the last value of every channel in a
	// JetStream key-value bucket so late subscribers get the current state.
	KVBucket    string
	LogSubjects bool
}

type NATSPublisher struct {
	nc      *nats.Conn
	kv      nats.KeyValue
	opts    Options
	metrics PublisherMetrics
	log     *slog.Logger
}

func NewNATSPublisher(url string, opts Options, m PublisherMetrics) (*NATSPublisher, error) {
	logger := slog.Default().With("component", "publisher")
	nc, err := nats.Connect(url,
		nats.Name("bus-tracker"),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if m != nil {
				m.NATSSetConnected(false)
			}
			logger.Warn("nats disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			if m != nil {
				m.NATSSetConnected(true)
			}
			logger.Info("nats reconnected")
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			if m != nil {
				m.NATSSetConnected(false)
			}
			logger.Info("nats closed")
		}),
	)
	if err != nil {
		return nil, err
	}
	p := &NATSPublisher{nc: nc, opts: opts, metrics: m, log: logger}
	if opts.KVBucket != "" {
		if p.kv, err = bindBucket(nc, opts.KVBucket); err != nil {
			nc.Close()
			return nil, err
		}
	}
	if m != nil {
		m.NATSSetConnected(true)
	}
	return p, nil
}

func bindBucket(nc *nats.Conn, bucket string) (nats.KeyValue, error) {
	js, err := nc.JetStream()
	if err != nil {
		return nil, fmt.Errorf("jetstream: %w", err)
	}
	kv, err := js.KeyValue(bucket)
	if errors.Is(err, nats.ErrBucketNotFound) {
		kv, err = js.CreateKeyValue(&nats.KeyValueConfig{
			Bucket:      bucket,
			Description: "last published value per dashboard channel",
			History:     1,
		})
	}
	if err != nil {
		return nil, fmt.Errorf("kv bucket %s: %w", bucket, err)
	}
	return kv, nil
}

func (p *NATSPublisher) Close() {
	if p.nc != nil {
		p.nc.Drain()
		p.nc.Close()
	}
}

func (p *NATSPublisher) Publish(channel string, v any) error {
	subject := Subject(p.opts.SubjectPrefix, channel)
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", channel, err)
	}
	if p.opts.LogSubjects {
		p.log.Debug("nats publish", "subject", subject, "bytes", len(b))
	}
	start := time.Now()
	err = p.nc.Publish(subject, b)
	if err == nil && p.kv != nil {
		_, err = p.kv.Put(subjectToken(channel), b)
	}
	if p.metrics != nil {
		p.metrics.PublishObserve(time.Since(start))
		if err != nil {
			p.metrics.NATSPublishErrInc()
		} else {
			p.metrics.NATSPublishedInc()
		}
	}
	return err
}

// Subject is the NATS subject a channel is published on.
func Subject(prefix, channel string) string {
	if prefix == "" {
		return subjectToken(channel)
	}
	parts := strings.Split(prefix, ".")
	for i, p := range parts {
		parts[i] = subjectToken(p)
	}
	return strings.Join(parts, ".") + "." + subjectToken(channel)
}

func subjectToken(s string) string {
	s = strings.TrimSpace(s)
	// NATS token cannot contain spaces, '>', '*', or trailing '.'
	repl := strings.NewReplacer(" ", "_", ".", "_", ">", "_", "*", "_", "/", "_", "\t", "_")
	s = repl.Replace(s)
	if s == "" {
		s = "_"
	}
	return s
}
