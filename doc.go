// Package tedge converts DVS measurements into Thin Edge JSON documents.
//
// DVS devices publish one measurement per message: the topic names the
// device, the group and the metric, and the payload carries a Unix
// timestamp and a value. The mapper subscribes to those messages on NATS,
// decodes them, and republishes each one as a canonical Thin Edge JSON
// document that downstream cloud mappers can consume unchanged.
//
// # Architecture
//
//	┌─────────────────────────────────────┐
//	│      dvs/<device>/<group>/<metric>  │  MQTT topics bridged
//	│        "<unix-seconds>:<value>"     │  onto NATS subjects
//	└─────────────────────────────────────┘
//	           ↓ subscribed by
//	┌─────────────────────────────────────┐
//	│            mapper                   │  Decode, convert,
//	│   (dvs → measurement → thinedge)    │  publish or reject
//	└─────────────────────────────────────┘
//	           ↓ publishes to
//	┌──────────────────┐  ┌──────────────────┐
//	│ tedge.measurements│  │   tedge.errors   │
//	│ Thin Edge JSON    │  │ JetStream stream │
//	└──────────────────┘  └──────────────────┘
//
// # Packages
//
// Conversion core, free of I/O:
//   - dvs: topic and payload decoding with precise error kinds
//   - measurement: the grouped measurement visitor protocol and its state machine
//   - thinedge: the streaming Thin Edge JSON serializer
//
// Service plumbing:
//   - mapper: the NATS-facing processor with lifecycle, metrics and health
//   - natsclient: NATS connection management, JetStream and test containers
//   - config: layered JSON/YAML configuration with environment overrides
//   - metric: Prometheus registry and the metrics/health HTTP server
//   - health: component health statuses and the monitor behind /health
//   - errors: classified errors (transient, invalid, fatal)
//
// The dvs-mapper binary under cmd/ wires all of the above together.
//
// # Example
//
//	msg, err := dvs.Decode("dvs/pi1/temperature/living_room", []byte("1617877800:32.5"))
//	if err != nil {
//		return err
//	}
//	doc, err := thinedge.FromDVS(msg, time.Now())
//	// {"temperature":{"living_room":32.5},"time":"..."}
package tedge
