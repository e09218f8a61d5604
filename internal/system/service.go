package system

// ServiceKind identifies a long-running service managed by the CLI.
type ServiceKind string

const (
	ServiceBackend   ServiceKind = "backend"
	ServiceDashboard ServiceKind = "dashboard"
	ServiceDatabase  ServiceKind = "database"
)

// ServiceHandle describes an observed service. PID is zero when the service
// is not running; a handle is only considered live once a start operation
// has observed its port bound.
type ServiceHandle struct {
	Kind    ServiceKind
	PID     int
	Port    int
	Running bool
}
