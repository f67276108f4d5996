package traceio

import "go.opentelemetry.io/otel/attribute"

const (
	AppTraceKey  = attribute.Key("lightrpc.app")
	RoleTraceKey = attribute.Key("lightrpc.role")
)

func App(app string) attribute.KeyValue {
	return AppTraceKey.String(app)
}

// Role is "client" or "server".
func Role(role string) attribute.KeyValue {
	return RoleTraceKey.String(role)
}
