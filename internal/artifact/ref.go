package artifact

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/canectors/basic-cleaning/internal/errhandling"
)

var (
	namePattern    = regexp.MustCompile(`^[A-Za-z0-9_][A-Za-z0-9_.\-]*$`)
	versionPattern = regexp.MustCompile(`^v([0-9]+)$`)
)

// Ref identifies an artifact version: [[entity/]project/]name[:vN|:alias].
// Exactly one of Version and Alias is set after parsing. Versions start at
// v1, so "v0" is rejected.
type Ref struct {
	Entity  string
	Project string
	Name    string
	Version int
	Alias   string
}

// ParseRef parses an artifact reference. A reference without a qualifier
// resolves the "latest" alias.
func ParseRef(s string) (Ref, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Ref{}, fmt.Errorf("%w: empty reference", ErrInvalidRef)
	}

	var ref Ref
	body := s
	parts := strings.Split(s, "/")
	switch len(parts) {
	case 1:
	case 2:
		ref.Project, body = parts[0], parts[1]
		if !namePattern.MatchString(ref.Project) {
			return Ref{}, fmt.Errorf("%w: %q has an invalid project", ErrInvalidRef, s)
		}
	case 3:
		ref.Entity, ref.Project, body = parts[0], parts[1], parts[2]
		if !namePattern.MatchString(ref.Entity) || !namePattern.MatchString(ref.Project) {
			return Ref{}, fmt.Errorf("%w: %q has an invalid entity or project", ErrInvalidRef, s)
		}
	default:
		return Ref{}, fmt.Errorf("%w: %q (expected [[entity/]project/]name[:version])", ErrInvalidRef, s)
	}

	name, qualifier, hasQualifier := strings.Cut(body, ":")
	if err := ValidateName(name); err != nil {
		return Ref{}, err
	}
	ref.Name = name

	switch {
	case !hasQualifier:
		ref.Alias = DefaultAlias
	case qualifier == "":
		return Ref{}, fmt.Errorf("%w: %q has an empty version", ErrInvalidRef, s)
	default:
		if m := versionPattern.FindStringSubmatch(qualifier); m != nil {
			v, err := strconv.Atoi(m[1])
			if err != nil || v < 1 {
				return Ref{}, fmt.Errorf("%w: version %q out of range", ErrInvalidRef, qualifier)
			}
			ref.Version = v
		} else if namePattern.MatchString(qualifier) {
			ref.Alias = qualifier
		} else {
			return Ref{}, fmt.Errorf("%w: %q is not a version or alias", ErrInvalidRef, qualifier)
		}
	}
	return ref, nil
}

// ValidateName reports whether name can be used as an artifact name.
// Names become directory names in the local store, so path separators and
// leading dots are rejected. The error is a validation ClassifiedError
// wrapping ErrInvalidRef.
func ValidateName(name string) error {
	if !namePattern.MatchString(name) {
		msg := fmt.Sprintf("artifact name %q must match %s", name, namePattern.String())
		return errhandling.NewValidationError(0, msg, ErrInvalidRef)
	}
	return nil
}

// Qualifier returns "vN" or the alias.
func (r Ref) Qualifier() string {
	if r.Version > 0 {
		return fmt.Sprintf("v%d", r.Version)
	}
	if r.Alias == "" {
		return DefaultAlias
	}
	return r.Alias
}

// String formats the reference in its canonical form.
func (r Ref) String() string {
	var sb strings.Builder
	for _, prefix := range []string{r.Entity, r.Project} {
		if prefix != "" {
			sb.WriteString(prefix)
			sb.WriteByte('/')
		}
	}
	sb.WriteString(r.Name)
	sb.WriteByte(':')
	sb.WriteString(r.Qualifier())
	return sb.String()
}
