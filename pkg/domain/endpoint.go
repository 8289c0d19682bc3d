package domain

import "time"

// EndpointLifecycle is the status alphabet for a model-serving Endpoint,
// distinct from the Session/Kernel Status alphabet: an endpoint outlives
// any single session backing it.
type EndpointLifecycle string

const (
	EndpointPending     EndpointLifecycle = "PENDING"
	EndpointProvisioning EndpointLifecycle = "PROVISIONING"
	EndpointReady       EndpointLifecycle = "READY"
	EndpointDegraded    EndpointLifecycle = "DEGRADED"
	EndpointDestroying  EndpointLifecycle = "DESTROYING"
	EndpointDestroyed   EndpointLifecycle = "DESTROYED"
)

// Endpoint is a stable routing target backed by a pool of Routes, each
// pointing at an inference Session.
type Endpoint struct {
	ID           string
	Name         string
	AccessKey    string
	Domain       string
	Project      string
	Image          ImageRef
	ModelName      string
	ModelVFolder   string
	RequestedSlots ResourceSlot
	Status         EndpointLifecycle
	DesiredCount   int
	Retries        int
	CreatedAt      time.Time
}

// RouteStatus mirrors the subset of Status relevant to traffic eligibility.
type RouteStatus string

const (
	RouteProvisioning RouteStatus = "PROVISIONING"
	RouteHealthy      RouteStatus = "HEALTHY"
	RouteUnhealthy    RouteStatus = "UNHEALTHY"
	RouteTerminating  RouteStatus = "TERMINATING"
	RouteFailedToStart RouteStatus = "FAILED_TO_START"
)

// Route binds one inference Session to an Endpoint's traffic pool.
type Route struct {
	ID         string
	EndpointID string
	SessionID  string
	Status     RouteStatus
	TrafficPct int
	CreatedAt  time.Time
}

// EligibleForTraffic reports whether the route should receive new requests.
func (r *Route) EligibleForTraffic() bool {
	return r.Status == RouteHealthy && r.TrafficPct > 0
}
