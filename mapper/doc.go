// Package mapper runs the DVS to Thin Edge JSON conversion on a message bus.
//
// The mapper subscribes to bridged DVS topics (MQTT "dvs/#" arrives on the
// NATS subject "dvs.>"), decodes each message with package dvs and publishes
// a Thin Edge JSON document built by package thinedge:
//
//	dvs/host1/temperature/living_room  1617877800:32.5
//	  -> {"temperature":{"living_room":32.5},"time":"2021-04-08T10:30:00Z"}
//
// A message that cannot be converted is dropped. The mapper counts it and
// publishes a report to the error subject:
//
//	{"topic":"dvs/host1/temperature","error":"Message received on invalid dvs topic: ..."}
//
// When Config.ErrorStream is set, reports go through JetStream and the stream
// is created on Start if the transport supports it. Failed publishes are not
// retried; they mark the mapper degraded for a short window.
//
// Warnings for rejected input are rate limited. Suppressed warnings are
// counted in Stats.
package mapper
