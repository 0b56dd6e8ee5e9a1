package daemon

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

// Descriptor maps one logical daemon operation to its verb and URL template.
// Templates may contain ":name" placeholders bound from Params at call time.
type Descriptor struct {
	Method string
	Path   string
}

// String returns "METHOD /path".
func (d Descriptor) String() string {
	return d.Method + " " + d.Path
}

// Params binds template placeholders by name.
type Params map[string]string

// ID is shorthand for the only placeholder the daemon uses.
func ID(id string) Params {
	return Params{"id": id}
}

// Family is the endpoint table for one session resource type.
type Family struct {
	Prefix string

	Create Descriptor
	Get    Descriptor
	Update Descriptor
	Delete Descriptor
	Start  Descriptor
	Stop   Descriptor

	// ConfirmMFAToken is the zero Descriptor for families without MFA.
	ConfirmMFAToken Descriptor
}

// SupportsMFA reports whether the family defines a confirm-mfa-token endpoint.
func (f Family) SupportsMFA() bool {
	return f.ConfirmMFAToken.Path != ""
}

func newFamily(prefix string, mfa bool) Family {
	item := prefix + "/:id"
	f := Family{
		Prefix: prefix,
		Create: Descriptor{http.MethodPost, prefix},
		Get:    Descriptor{http.MethodGet, item},
		Update: Descriptor{http.MethodPut, item},
		Delete: Descriptor{http.MethodDelete, item},
		Start:  Descriptor{http.MethodPost, item + "/start"},
		Stop:   Descriptor{http.MethodPost, item + "/stop"},
	}
	if mfa {
		f.ConfirmMFAToken = Descriptor{http.MethodPost, item + "/confirm-mfa-token"}
	}
	return f
}

var (
	// IAMUserSessions serves plain sessions backed by IAM user access keys.
	IAMUserSessions = newFamily("/aws/iam-user-sessions", true)

	// IAMRoleChainedSessions serves sessions that assume a role from a parent session.
	IAMRoleChainedSessions = newFamily("/aws/iam-role-chained-sessions", false)
)

// Expand substitutes every ":name" segment of template with params[name].
// Values are path-escaped so they always stay within their segment.
// An unbound placeholder is a programming error and panics.
func Expand(template string, params Params) string {
	segments := strings.Split(template, "/")
	for i, seg := range segments {
		name, ok := strings.CutPrefix(seg, ":")
		if !ok {
			continue
		}
		value, bound := params[name]
		if !bound || value == "" {
			panic(fmt.Sprintf("daemon: placeholder %q in %q is not bound", seg, template))
		}
		segments[i] = url.PathEscape(value)
	}
	return strings.Join(segments, "/")
}
