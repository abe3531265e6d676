// Package policy implements the Policy Registry: a fixed catalog of named
// signing policies loaded at startup, each a pure total function of a
// signing request to a decision.
//
// Grounded on the teacher's internal/anchors/registry.go Anchor/Registry
// pattern (an interface implemented by named entries, held in a map keyed
// by an id type, with a lookup that falls back to a default on miss), but
// simplified to a compile-time registry per the redesign notes: no
// directory-scanning plugin discovery, just a populated map.
package policy

// Decision is the outcome of evaluating a policy against a request.
type Decision int

const (
	// Sign approves the request immediately.
	Sign Decision = iota
	// Refer suspends the request for human approval.
	Refer
	// Reject denies the request immediately.
	Reject
)

func (d Decision) String() string {
	switch d {
	case Sign:
		return "sign"
	case Refer:
		return "refer"
	case Reject:
		return "reject"
	default:
		return "unknown"
	}
}

// SessionSummary is the minimal session context a policy may consult.
type SessionSummary struct {
	ID    string
	Alias string
	Type  string
}

// Context is the input to Evaluate: everything a policy is allowed to see.
type Context struct {
	EventKind int
	Content   string
	Peer      string
	Session   SessionSummary
}

// Nostr Connect / Nostr event kinds referenced by the built-in policies.
const (
	KindLogin         = 24133 // NIP-46 connect/login envelope kind
	KindShortNote     = 1     // kind:1 short text note ("publish")
	KindEncryptedDM   = 4     // legacy encrypted direct message
	KindProfileUpdate = 0     // kind:0 profile metadata replacement
)

// Policy is a named, pure, total evaluator.
type Policy struct {
	ID          string
	Label       string
	Description string
	Evaluate    func(ctx Context) Decision
}

// Registry is the fixed catalog of policies, populated at construction.
type Registry struct {
	policies  map[string]Policy
	defaultID string
}

// NewRegistry builds the registry with the built-in policy catalog.
func NewRegistry() *Registry {
	r := &Registry{policies: map[string]Policy{}, defaultID: "auto_sign"}
	for _, p := range builtins() {
		r.policies[p.ID] = p
	}
	return r
}

// DefaultID returns the id substituted when a session references an
// unknown policy.
func (r *Registry) DefaultID() string {
	return r.defaultID
}

// Lookup resolves id to a Policy. Unknown ids fall back to the default
// policy; ok reports whether id was actually known.
func (r *Registry) Lookup(id string) (Policy, bool) {
	if p, found := r.policies[id]; found {
		return p, true
	}
	return r.policies[r.defaultID], false
}

// Get resolves id strictly: unknown ids return ok=false with a zero Policy,
// for callers (explicit selection) that must reject rather than fall back.
func (r *Registry) Get(id string) (Policy, bool) {
	p, found := r.policies[id]
	return p, found
}

// List returns every registered policy, ordered by id for stable output.
func (r *Registry) List() []Policy {
	out := make([]Policy, 0, len(r.policies))
	for _, id := range r.orderedIDs() {
		out = append(out, r.policies[id])
	}
	return out
}

func (r *Registry) orderedIDs() []string {
	ids := make([]string, 0, len(r.policies))
	for id := range r.policies {
		ids = append(ids, id)
	}
	// Stable, deterministic listing order.
	for i := 1; i < len(ids); i++ {
		for j := i; j > 0 && ids[j-1] > ids[j]; j-- {
			ids[j-1], ids[j] = ids[j], ids[j-1]
		}
	}
	return ids
}

func builtins() []Policy {
	return []Policy{
		{
			ID:          "auto_sign",
			Label:       "Auto-sign",
			Description: "Signs every request without review.",
			Evaluate: func(ctx Context) Decision {
				return Sign
			},
		},
		{
			ID:          "online_login",
			Label:       "Logins only",
			Description: "Signs login requests, rejects everything else.",
			Evaluate: func(ctx Context) Decision {
				if ctx.EventKind == KindLogin {
					return Sign
				}
				return Reject
			},
		},
		{
			ID:          "login_and_publish",
			Label:       "Login + publish",
			Description: "Signs logins and short notes, rejects profile updates, refers the rest.",
			Evaluate: func(ctx Context) Decision {
				switch ctx.EventKind {
				case KindLogin, KindShortNote:
					return Sign
				case KindProfileUpdate:
					return Reject
				default:
					return Refer
				}
			},
		},
		{
			ID:          "login_auto_others_review",
			Label:       "Login auto, others review",
			Description: "Signs logins automatically, refers everything else to a human.",
			Evaluate: func(ctx Context) Decision {
				if ctx.EventKind == KindLogin {
					return Sign
				}
				return Refer
			},
		},
	}
}
