package encoder

// Scheme identifies one of the supported BPE encoding schemes. The set is
// closed: matching is exact and case-sensitive, with no aliases, fallbacks or
// partial matches.
type Scheme string

const (
	SchemeUnset      Scheme = ""            // Zero value = no scheme selected
	SchemeO200kBase  Scheme = "o200k_base"  // GPT-4o family
	SchemeCl100kBase Scheme = "cl100k_base" // GPT-3.5/GPT-4 family
	SchemeP50kBase   Scheme = "p50k_base"   // Davinci completion models
	SchemeP50kEdit   Scheme = "p50k_edit"   // Davinci edit models
	SchemeR50kBase   Scheme = "r50k_base"   // GPT-2 era models
)

// modelIDs carries the model identifier conventionally associated with each
// scheme. The scheme name itself is the canonical vocabulary identifier; the
// model id is metadata reported on listing surfaces.
var modelIDs = map[Scheme]string{
	SchemeO200kBase:  "gpt-4o",
	SchemeCl100kBase: "gpt-3.5-turbo",
	SchemeP50kBase:   "text-davinci-003",
	SchemeP50kEdit:   "text-davinci-edit-001",
	SchemeR50kBase:   "gpt2",
}

// ParseScheme maps a scheme name to its Scheme. Anything outside the closed
// set, including the empty string, fails with ErrUnknownScheme.
func ParseScheme(name string) (Scheme, error) {
	s := Scheme(name)
	if !s.IsValid() {
		return SchemeUnset, WrapUnknownScheme(name)
	}
	return s, nil
}

// String implements fmt.Stringer for logging
func (s Scheme) String() string {
	if s == "" {
		return "unset"
	}
	return string(s)
}

// IsValid returns true if the scheme is a member of the closed set
func (s Scheme) IsValid() bool {
	switch s {
	case SchemeO200kBase, SchemeCl100kBase, SchemeP50kBase, SchemeP50kEdit, SchemeR50kBase:
		return true
	}
	return false
}

// ModelID returns the model identifier associated with the scheme, or the
// empty string for an unrecognized scheme.
func (s Scheme) ModelID() string {
	return modelIDs[s]
}

// AllSchemes returns the closed scheme set in stable display order.
func AllSchemes() []Scheme {
	return []Scheme{
		SchemeO200kBase,
		SchemeCl100kBase,
		SchemeP50kBase,
		SchemeP50kEdit,
		SchemeR50kBase,
	}
}
