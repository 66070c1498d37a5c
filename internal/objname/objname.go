// Package objname parses and canonicalises structured object names.
//
// A name has the textual form
//
//	domain:key=value[,key=value...][,*]
//
// The domain may contain the wildcards '*' and '?'. A trailing "*" element in
// the property list turns the name into a property pattern that matches any
// name containing at least the listed pairs. "*:*" is the universal pattern.
// The zero Name is the absent name.
package objname

import (
	"fmt"
	"sort"
	"strings"

	"github.com/zjrosen/beanserver/internal/faults"
	"github.com/zjrosen/beanserver/internal/wildcard"
)

const (
	// Wildcard is the property-list element that marks a property pattern.
	Wildcard = "*"

	domainSep   = ':'
	propSep     = ','
	keyValueSep = '='
	quote       = '"'
)

// Property is a single key/value pair of a name.
type Property struct {
	Key   string
	Value string
}

// Name is an immutable structured name. Two names are equal when their
// canonical forms are equal; property order does not matter.
type Name struct {
	domain          string
	props           []Property // as written
	canonicalProps  string
	domainPattern   bool
	propertyPattern bool
}

// Parse parses the textual form of a name. The empty string yields the zero
// Name.
func Parse(s string) (Name, error) {
	if s == "" {
		return Name{}, nil
	}

	idx := strings.IndexByte(s, domainSep)
	if idx < 0 {
		return Name{}, invalid(s, "missing domain separator ':'")
	}
	domain, rest := s[:idx], s[idx+1:]
	if strings.ContainsAny(domain, "\n") {
		return Name{}, invalid(s, "domain contains a newline")
	}
	if rest == "" {
		return Name{}, invalid(s, "empty property list")
	}

	elems, err := splitProperties(rest)
	if err != nil {
		return Name{}, invalid(s, "%s", err.Error())
	}

	var props []Property
	pattern := false
	for _, elem := range elems {
		if elem == Wildcard {
			if pattern {
				return Name{}, invalid(s, "property wildcard given twice")
			}
			pattern = true
			continue
		}
		eq := strings.IndexByte(elem, keyValueSep)
		if eq < 0 {
			return Name{}, invalid(s, "property %q has no '='", elem)
		}
		props = append(props, Property{Key: elem[:eq], Value: elem[eq+1:]})
	}

	return build(s, domain, props, pattern)
}

// MustParse is like Parse but panics on error. Intended for constants and
// tests.
func MustParse(s string) Name {
	n, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return n
}

// New builds a concrete or domain-pattern name from a domain and properties.
func New(domain string, props ...Property) (Name, error) {
	return build(domain, domain, props, false)
}

// NewPattern builds a property pattern matching names that contain at least
// props.
func NewPattern(domain string, props ...Property) (Name, error) {
	return build(domain, domain, props, true)
}

// FromMap builds a concrete name from a property map.
func FromMap(domain string, props map[string]string) (Name, error) {
	list := make([]Property, 0, len(props))
	for k, v := range props {
		list = append(list, Property{Key: k, Value: v})
	}
	sort.Slice(list, func(i, j int) bool { return list[i].Key < list[j].Key })
	return New(domain, list...)
}

func build(raw, domain string, props []Property, pattern bool) (Name, error) {
	if strings.ContainsRune(domain, domainSep) {
		return Name{}, invalid(raw, "domain contains ':'")
	}
	if len(props) == 0 && !pattern {
		return Name{}, invalid(raw, "name has no properties")
	}

	seen := make(map[string]struct{}, len(props))
	for _, p := range props {
		if err := validateKey(p.Key); err != nil {
			return Name{}, invalid(raw, "%s", err.Error())
		}
		if err := validateValue(p.Value); err != nil {
			return Name{}, invalid(raw, "%s", err.Error())
		}
		if _, dup := seen[p.Key]; dup {
			return Name{}, invalid(raw, "duplicate key %q", p.Key)
		}
		seen[p.Key] = struct{}{}
	}

	owned := make([]Property, len(props))
	copy(owned, props)

	return Name{
		domain:          domain,
		props:           owned,
		canonicalProps:  canonicalize(owned),
		domainPattern:   wildcard.HasWildcard(domain),
		propertyPattern: pattern,
	}, nil
}

func canonicalize(props []Property) string {
	sorted := make([]Property, len(props))
	copy(sorted, props)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Key < sorted[j].Key })

	var b strings.Builder
	for i, p := range sorted {
		if i > 0 {
			b.WriteByte(propSep)
		}
		b.WriteString(p.Key)
		b.WriteByte(keyValueSep)
		b.WriteString(p.Value)
	}
	return b.String()
}

// splitProperties splits on ',' outside of quoted values.
func splitProperties(s string) ([]string, error) {
	var elems []string
	var cur strings.Builder
	inQuote := false

	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case inQuote && c == '\\':
			if i+1 >= len(s) {
				return nil, errorf("dangling escape")
			}
			cur.WriteByte(c)
			cur.WriteByte(s[i+1])
			i++
		case c == quote:
			inQuote = !inQuote
			cur.WriteByte(c)
		case c == propSep && !inQuote:
			elems = append(elems, cur.String())
			cur.Reset()
		default:
			cur.WriteByte(c)
		}
	}
	if inQuote {
		return nil, errorf("unterminated quoted value")
	}
	return append(elems, cur.String()), nil
}

func validateKey(k string) error {
	if k == "" {
		return errorf("empty key")
	}
	if strings.ContainsAny(k, ":,=*?\"\n") {
		return errorf("invalid character in key %q", k)
	}
	return nil
}

func validateValue(v string) error {
	if v == "" {
		return errorf("empty value")
	}
	if v[0] == quote {
		if len(v) < 2 || v[len(v)-1] != quote {
			return errorf("malformed quoted value %s", v)
		}
		inner := v[1 : len(v)-1]
		for i := 0; i < len(inner); i++ {
			switch inner[i] {
			case '\\':
				if i+1 >= len(inner) || (inner[i+1] != '"' && inner[i+1] != '\\') {
					return errorf("invalid escape in %s", v)
				}
				i++
			case quote:
				return errorf("unescaped quote in %s", v)
			}
		}
		return nil
	}
	if strings.ContainsAny(v, ":,=*?\"\n") {
		return errorf("invalid character in value %q", v)
	}
	return nil
}

// Quote returns v as a quoted value.
func Quote(v string) string {
	r := strings.NewReplacer(`\`, `\\`, `"`, `\"`)
	return `"` + r.Replace(v) + `"`
}

// Unquote reverses Quote. Unquoted values are returned unchanged.
func Unquote(v string) string {
	if len(v) < 2 || v[0] != quote || v[len(v)-1] != quote {
		return v
	}
	r := strings.NewReplacer(`\\`, `\`, `\"`, `"`)
	return r.Replace(v[1 : len(v)-1])
}

// Domain returns the domain part, possibly empty.
func (n Name) Domain() string { return n.domain }

// Properties returns a copy of the properties in the order they were given.
func (n Name) Properties() []Property {
	out := make([]Property, len(n.props))
	copy(out, n.props)
	return out
}

// PropertyCount returns the number of key/value pairs.
func (n Name) PropertyCount() int { return len(n.props) }

// Property returns the value for key.
func (n Name) Property(key string) (string, bool) {
	for _, p := range n.props {
		if p.Key == key {
			return p.Value, true
		}
	}
	return "", false
}

// CanonicalProperties returns the properties sorted by key as "k=v,k=v".
func (n Name) CanonicalProperties() string { return n.canonicalProps }

// Canonical returns the canonical form, "" for the zero Name.
func (n Name) Canonical() string {
	if n.IsZero() {
		return ""
	}
	s := n.domain + string(domainSep) + n.canonicalProps
	if n.propertyPattern {
		if n.canonicalProps != "" {
			s += string(propSep)
		}
		s += Wildcard
	}
	return s
}

// String returns the name with properties in their given order.
func (n Name) String() string {
	if n.IsZero() {
		return ""
	}
	var b strings.Builder
	b.WriteString(n.domain)
	b.WriteByte(domainSep)
	for i, p := range n.props {
		if i > 0 {
			b.WriteByte(propSep)
		}
		b.WriteString(p.Key)
		b.WriteByte(keyValueSep)
		b.WriteString(p.Value)
	}
	if n.propertyPattern {
		if len(n.props) > 0 {
			b.WriteByte(propSep)
		}
		b.WriteString(Wildcard)
	}
	return b.String()
}

// IsZero reports whether n is the absent name.
func (n Name) IsZero() bool {
	return n.domain == "" && len(n.props) == 0 && !n.propertyPattern && !n.domainPattern
}

// IsPattern reports whether n may only be used in queries.
func (n Name) IsPattern() bool { return n.domainPattern || n.propertyPattern }

// IsDomainPattern reports whether the domain contains wildcards.
func (n Name) IsDomainPattern() bool { return n.domainPattern }

// IsPropertyPattern reports whether the property list ends in a wildcard.
func (n Name) IsPropertyPattern() bool { return n.propertyPattern }

// IsUniversal reports whether n matches every name: the zero Name, or a
// wildcard domain with a bare property wildcard.
func (n Name) IsUniversal() bool {
	if n.IsZero() {
		return true
	}
	return n.domain == Wildcard && len(n.props) == 0 && n.propertyPattern
}

// WithDomain returns a copy of n in another domain.
func (n Name) WithDomain(domain string) Name {
	out := n
	out.domain = domain
	out.domainPattern = wildcard.HasWildcard(domain)
	return out
}

// Equal reports whether two names have the same canonical form.
func (n Name) Equal(other Name) bool {
	return n.Canonical() == other.Canonical()
}

// ContainsAll reports whether every pair of sub is present in n.
func (n Name) ContainsAll(sub Name) bool {
	for _, p := range sub.props {
		v, ok := n.Property(p.Key)
		if !ok || v != p.Value {
			return false
		}
	}
	return true
}

// MarshalText implements encoding.TextMarshaler.
func (n Name) MarshalText() ([]byte, error) {
	return []byte(n.Canonical()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (n *Name) UnmarshalText(b []byte) error {
	parsed, err := Parse(string(b))
	if err != nil {
		return err
	}
	*n = parsed
	return nil
}

func errorf(format string, args ...any) error {
	return fmt.Errorf(format, args...)
}

func invalid(raw, format string, args ...any) error {
	return faults.New(faults.KindInvalidName, "parse", raw, format, args...)
}
