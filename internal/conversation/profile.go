package conversation

// ActionKey names an abstract backend operation, independent of the wire
// method a given backend dialect uses for it.
type ActionKey string

const (
	ActionListThreads       ActionKey = "listThreads"
	ActionListLoadedThreads ActionKey = "listLoadedThreads"
	ActionStartThread       ActionKey = "startThread"
	ActionSubscribeRoom     ActionKey = "subscribeRoom"
	ActionUnsubscribeRoom   ActionKey = "unsubscribeRoom"
	ActionClaimRoom         ActionKey = "claimRoom"
	ActionReleaseRoom       ActionKey = "releaseRoom"
	ActionStartTurn         ActionKey = "startTurn"
	ActionRespondApproval   ActionKey = "respondApproval"
)

// ProfileMode distinguishes dialects with a single known method per action
// from dialects that require runtime probing.
type ProfileMode string

const (
	ModeNative        ProfileMode = "native"
	ModeCompatibility ProfileMode = "compatibility"
)

// Profile maps each action to its candidate wire methods, in probe order.
type Profile struct {
	Mode    ProfileMode
	Methods map[ActionKey][]string
}

// Clone returns a deep copy so callers can tweak method lists without
// mutating a shared registry entry.
func (p Profile) Clone() Profile {
	methods := make(map[ActionKey][]string, len(p.Methods))
	for k, v := range p.Methods {
		methods[k] = append([]string(nil), v...)
	}
	return Profile{Mode: p.Mode, Methods: methods}
}

// NativeProfile is the codex dialect: every action has exactly one method.
func NativeProfile() Profile {
	return Profile{
		Mode: ModeNative,
		Methods: map[ActionKey][]string{
			ActionListThreads:       {"thread/list"},
			ActionListLoadedThreads: {"thread/loaded/list"},
			ActionStartThread:       {"thread/start"},
			ActionSubscribeRoom:     {"room/subscribe"},
			ActionUnsubscribeRoom:   {"room/unsubscribe"},
			ActionClaimRoom:         {"room/claim"},
			ActionReleaseRoom:       {"room/release"},
			ActionStartTurn:         {"turn/start"},
			ActionRespondApproval:   {"codex/request/respond"},
		},
	}
}

// CompatibilityProfile targets adapter backends whose turn entry point
// varies: the legacy sendMessage form is probed before the canonical one.
func CompatibilityProfile() Profile {
	p := NativeProfile()
	p.Mode = ModeCompatibility
	p.Methods[ActionStartTurn] = []string{"conversation/sendMessage", "turn/start"}
	return p
}

// Registry maps conversation types to dialect profiles. Lookups for
// unregistered types fall back to the compatibility profile, so an unknown
// backend degrades to probing rather than failing outright.
type Registry struct {
	profiles map[string]Profile
}

// NewRegistry returns a registry pre-populated with the built-in dialects.
func NewRegistry() *Registry {
	r := &Registry{profiles: map[string]Profile{}}
	r.Register("codex", NativeProfile())
	for _, t := range []string{"acp", "gemini", "openclaw-gateway"} {
		r.Register(t, CompatibilityProfile())
	}
	return r
}

// Register adds or replaces the profile for a conversation type.
func (r *Registry) Register(convType string, p Profile) {
	r.profiles[convType] = p.Clone()
}

// Lookup returns the profile for a conversation type, falling back to the
// compatibility profile when the type is unknown.
func (r *Registry) Lookup(convType string) Profile {
	if p, ok := r.profiles[convType]; ok {
		return p.Clone()
	}
	return CompatibilityProfile()
}
