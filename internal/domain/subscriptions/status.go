package subscriptions

type Status string

const (
	StatusTrialing  Status = "TRIALING"
	StatusActive    Status = "ACTIVE"
	StatusGrace     Status = "GRACE"
	StatusExpired   Status = "EXPIRED"
	StatusSuspended Status = "SUSPENDED"
	StatusCanceled  Status = "CANCELED"
)

// Behavior describes what a status means for the tenant.
type Behavior struct {
	// Timed statuses carry entitlement until an end timestamp passes.
	Timed bool
	// TrialReachable reports whether a trial may be started from this status.
	TrialReachable bool
	// Cancelable reports whether a cancel-at-period-end request is accepted.
	Cancelable bool
	Description string
}

// behaviors is the closed set of statuses. Every status constant must have an
// entry; the package tests enforce it.
var behaviors = map[Status]Behavior{
	StatusTrialing: {
		Timed:       true,
		Cancelable:  true,
		Description: "Trial running, full PRO features until trial end.",
	},
	StatusActive: {
		Timed:       true,
		Cancelable:  true,
		Description: "Paid period running, full PRO features until period end.",
	},
	StatusGrace: {
		Timed:       true,
		Cancelable:  true,
		Description: "Trial or period lapsed, PRO kept until grace end.",
	},
	StatusExpired: {
		TrialReachable: true,
		Description:    "No entitlement; BASIC features only.",
	},
	StatusSuspended: {
		Description: "Administrative lock; contact support.",
	},
	StatusCanceled: {
		TrialReachable: true,
		Description:    "Subscription canceled; BASIC features only.",
	},
}

// Statuses lists every known status.
func Statuses() []Status {
	return []Status{
		StatusTrialing,
		StatusActive,
		StatusGrace,
		StatusExpired,
		StatusSuspended,
		StatusCanceled,
	}
}

func (s Status) Valid() bool {
	_, ok := behaviors[s]
	return ok
}

// Behavior returns the rules for s. Unknown statuses behave like EXPIRED.
func (s Status) Behavior() Behavior {
	if b, ok := behaviors[s]; ok {
		return b
	}
	return behaviors[StatusExpired]
}
