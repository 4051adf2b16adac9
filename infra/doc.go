// Package infra contains technical adapters: the Redis state store, the MQTT
// task channels, metrics exporters, logging and error monitoring. These
// packages depend only on the interfaces defined in the core packages.
package infra
