// Package nats implements the trace sink port using NATS JetStream and
// exposes the JetStream KV bucket backing the shared exact-match cache.
package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/calier/moxie/internal/domain/orchestration"
)

const (
	streamName   = "MOXIE"
	traceSubject = "moxie.traces."
)

// Conn holds the NATS connection and JetStream context.
type Conn struct {
	nc *nats.Conn
	js jetstream.JetStream
}

// Connect establishes a connection to NATS and ensures the trace stream exists.
func Connect(ctx context.Context, url string) (*Conn, error) {
	nc, err := nats.Connect(url)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jetstream init: %w", err)
	}

	_, err = js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:     streamName,
		Subjects: []string{traceSubject + ">"},
	})
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jetstream stream create: %w", err)
	}

	slog.Info("nats connected", "url", url, "stream", streamName)
	return &Conn{nc: nc, js: js}, nil
}

// KeyValue ensures the named KV bucket exists and returns it.
func (c *Conn) KeyValue(ctx context.Context, bucket string, ttl time.Duration) (jetstream.KeyValue, error) {
	kv, err := c.js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket: bucket,
		TTL:    ttl,
	})
	if err != nil {
		return nil, fmt.Errorf("jetstream kv %s: %w", bucket, err)
	}
	return kv, nil
}

// Close shuts down the NATS connection.
func (c *Conn) Close() error {
	c.nc.Close()
	return nil
}

// TraceSink publishes orchestration traces to the trace stream.
type TraceSink struct {
	conn *Conn
}

// NewTraceSink creates a trace sink over an established connection.
func NewTraceSink(conn *Conn) *TraceSink {
	return &TraceSink{conn: conn}
}

// Emit publishes the trace as JSON to moxie.traces.<requestID>.
func (s *TraceSink) Emit(ctx context.Context, trace *orchestration.Trace) error {
	data, err := json.Marshal(trace)
	if err != nil {
		return fmt.Errorf("marshal trace: %w", err)
	}
	if _, err := s.conn.js.Publish(ctx, traceSubject+trace.RequestID, data); err != nil {
		return fmt.Errorf("publish trace: %w", err)
	}
	return nil
}
