package alias

import (
	"fmt"
	"strconv"
	"strings"
)

// Separator characters of the alias wire format. Names must not
// contain them.
const (
	MountSeparator  = "#"
	suffixSeparator = "@"
)

// TagLatest is the implicit tag of a bare name: the highest version.
// Reserved, never assignable.
const TagLatest = "latest"

// Ref is a parsed alias string. Version and Tag are mutually
// exclusive; both zero-valued means "latest".
type Ref struct {
	Mount   string
	Name    string
	Version int
	Tag     string
}

// String renders the ref back to wire format.
func (r Ref) String() string {
	var b strings.Builder
	if r.Mount != "" {
		b.WriteString(r.Mount)
		b.WriteString(MountSeparator)
	}
	b.WriteString(r.Name)
	switch {
	case r.Version > 0:
		fmt.Fprintf(&b, "%s%d", suffixSeparator, r.Version)
	case r.Tag != "":
		b.WriteString(suffixSeparator)
		b.WriteString(r.Tag)
	}
	return b.String()
}

// Parse splits an alias string into mountpoint, name, and version or
// tag. "data#model@3" names version 3 of "model" in the "data" mount;
// "model@stable" names the tagged version; "model" names the latest.
func Parse(s string) (Ref, error) {
	var r Ref
	rest := s
	if mount, after, ok := strings.Cut(rest, MountSeparator); ok {
		if strings.Contains(after, MountSeparator) {
			return Ref{}, fmt.Errorf("parse alias %q: multiple %q separators", s, MountSeparator)
		}
		if mount == "" {
			return Ref{}, fmt.Errorf("parse alias %q: empty mountpoint", s)
		}
		r.Mount = mount
		rest = after
	}
	if name, suffix, ok := strings.Cut(rest, suffixSeparator); ok {
		if strings.Contains(suffix, suffixSeparator) {
			return Ref{}, fmt.Errorf("parse alias %q: multiple %q separators", s, suffixSeparator)
		}
		r.Name = name
		if n, err := strconv.Atoi(suffix); err == nil {
			if n < 1 {
				return Ref{}, fmt.Errorf("parse alias %q: version must be positive", s)
			}
			r.Version = n
		} else {
			r.Tag = suffix
		}
	} else {
		r.Name = rest
	}
	if err := ValidateName(r.Name); err != nil {
		return Ref{}, fmt.Errorf("parse alias %q: %w", s, err)
	}
	return r, nil
}

// ValidateName rejects empty names, names containing separator
// characters, and reserved words.
func ValidateName(name string) error {
	if name == "" {
		return fmt.Errorf("empty alias name")
	}
	if strings.ContainsAny(name, MountSeparator+suffixSeparator) {
		return fmt.Errorf("alias name %q contains a separator character", name)
	}
	if name == TagLatest {
		return fmt.Errorf("alias name %q is reserved", name)
	}
	return nil
}
