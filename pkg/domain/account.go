package domain

// Domain is the top-level tenancy boundary (not to be confused with the
// image/network sense of "domain" elsewhere in this package).
type Domain struct {
	Name      string
	IsActive  bool
	TotalQuota ResourceSlot
}

// Project groups KeyPairs under a Domain and carries its own resource
// quota, checked in addition to the Domain and KeyPair quotas.
type Project struct {
	ID         string
	Name       string
	DomainName string
	IsActive   bool
	TotalQuota ResourceSlot
}

// KeypairResourcePolicy bounds what sessions a KeyPair may request:
// per-session slot ceiling, concurrent session count, and the scaling
// groups it may use.
type KeypairResourcePolicy struct {
	Name                     string
	MaxConcurrentSessions    int
	MaxContainersPerSession  int
	MaxSessionLifetime       int // seconds, 0 = unlimited
	TotalResourceSlots       ResourceSlot
	AllowedScalingGroups     []string
}

// KeyPair is the authentication and quota-attribution principal behind
// every session-creation request.
type KeyPair struct {
	AccessKey    string
	SecretKey    string
	UserID       string
	UserEmail    string
	UserName     string
	ProjectID    string
	DomainName   string
	ResourcePolicy string
	IsActive     bool
}

// ScalingGroup is a named pool of Agents a session may be scheduled onto.
// Driver selects the network plugin used for MULTI_NODE sessions scheduled
// into this group ("local" or "overlay" — see pkg/network).
type ScalingGroup struct {
	Name                string
	Driver              string
	Scheduler           string
	IsActive            bool
	IsPublic            bool
	AllowedSessionTypes []SessionType
}

// AllowsSessionType reports whether sg accepts the given session type. An
// empty AllowedSessionTypes means no restriction.
func (sg *ScalingGroup) AllowsSessionType(t SessionType) bool {
	if len(sg.AllowedSessionTypes) == 0 {
		return true
	}
	for _, allowed := range sg.AllowedSessionTypes {
		if allowed == t {
			return true
		}
	}
	return false
}

// AllowsScalingGroup reports whether the policy permits scheduling onto sg.
// An empty AllowedScalingGroups list means no restriction.
func (p *KeypairResourcePolicy) AllowsScalingGroup(sg string) bool {
	if len(p.AllowedScalingGroups) == 0 {
		return true
	}
	for _, allowed := range p.AllowedScalingGroups {
		if allowed == sg {
			return true
		}
	}
	return false
}
