// Package events records delivery events (sessions connected or replaced,
// messages sent or failed) and forwards them to configurable sinks such as
// the structured log and a Kafka topic.
package events
