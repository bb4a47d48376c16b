// Package natsclient wraps the NATS Go client with connection lifecycle
// management, a circuit breaker and the JetStream operations used by the
// mapper.
//
// The client moves through Disconnected, Connecting, Connected and
// Reconnecting. After a threshold of consecutive failures (default 5) the
// circuit opens and connection and JetStream calls fail fast with
// ErrCircuitOpen; each further round of failures doubles the backoff up to a
// maximum, and a successful operation resets it.
//
//	client, err := natsclient.NewClient("nats://localhost:4222",
//	    natsclient.WithLogger(logger),
//	    natsclient.WithMetrics(registry),
//	)
//	if err != nil {
//	    return err
//	}
//	if err := client.Connect(ctx); err != nil {
//	    return err
//	}
//	defer client.Close(ctx)
//
// # Subjects and topics
//
// DVS devices publish over MQTT and reach NATS through the MQTT bridge, which
// maps the topic "dvs/host1/temperature/living_room" to the subject
// "dvs.host1.temperature.living_room". SubjectToTopic recovers the original
// topic so its grammar can be checked; TopicToSubject goes the other way.
//
//	sub, err := client.Subscribe(ctx, "dvs.>", func(ctx context.Context, msg *natsclient.Msg) {
//	    topic := msg.Topic()
//	    ...
//	})
//
// # JetStream
//
// EnsureStream creates or updates a stream and PublishToStream publishes and
// waits for the acknowledgement. Both pass through the circuit breaker and,
// with WithMetrics, report stream size and operation errors.
//
// # Testing
//
// NewTestClient and NewSharedTestClient start a NATS server with
// testcontainers. Tests using them carry the integration build tag.
package natsclient
