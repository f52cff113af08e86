package domain

import "fmt"

// Subject layout helpers, normative per §4.1 / §6.1. Every subject the SDK
// emits is built through one of these so conformance (testable property 7)
// is structural, not convention.

// RPCSubject returns rpc.{service}.{method}.
func RPCSubject(service ServiceName, method string) string {
	return fmt.Sprintf("rpc.%s.%s", service, method)
}

// EventSubject returns events.{domain}.{event_type}.
func EventSubject(domain, eventType string) string {
	return fmt.Sprintf("events.%s.%s", domain, eventType)
}

// CommandSubject returns commands.{service}.{command}.
func CommandSubject(service ServiceName, command string) string {
	return fmt.Sprintf("commands.%s.%s", service, command)
}

// CommandProgressSubject returns commands.{service}.{command}.progress.{message_id}.
func CommandProgressSubject(service ServiceName, command, messageID string) string {
	return fmt.Sprintf("commands.%s.%s.progress.%s", service, command, messageID)
}

// CommandResultSubject returns commands.{service}.{command}.result.{message_id}.
func CommandResultSubject(service ServiceName, command, messageID string) string {
	return fmt.Sprintf("commands.%s.%s.result.%s", service, command, messageID)
}

// LegacyHeartbeatSubject returns service.{name}.heartbeat.
func LegacyHeartbeatSubject(service ServiceName) string {
	return fmt.Sprintf("service.%s.heartbeat", service)
}

// RegistryKey returns service-instances.{service}.{instance_id}.
func RegistryKey(service ServiceName, instanceID InstanceID) string {
	return fmt.Sprintf("service-instances.%s.%s", service, instanceID)
}

// RegistryPrefix returns the prefix under which all instances of service are keyed.
func RegistryPrefix(service ServiceName) string {
	return fmt.Sprintf("service-instances.%s.", service)
}
