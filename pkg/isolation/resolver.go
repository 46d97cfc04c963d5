// Package isolation maps a tenant (user, notebook) onto the group and session
// keys that decide which worker process and which proxy instance it uses.
package isolation

import (
	"strings"

	"github.com/psantana5/interpreter-runtime/pkg/models"
)

// Keys identifies the group (process owner) and the session (proxy set) of a tenant
type Keys struct {
	Group   string `json:"group"`
	Session string `json:"session"`
}

// Resolve computes the group and session keys for a tenant.
//
// Each axis of the option contributes its tenant value (user or notebook) to
// the session key when it is scoped or isolated, and to the group key when it
// is isolated. An empty key falls back to the setting id, so a fully shared
// option puts every tenant on one process and one proxy set.
func Resolve(opt models.Option, user, notebook, settingID string) Keys {
	opt = opt.Normalize()

	var groupParts, sessionParts []string
	add := func(p models.Policy, value string) {
		switch p {
		case models.PolicyIsolated:
			groupParts = append(groupParts, value)
			sessionParts = append(sessionParts, value)
		case models.PolicyScoped:
			sessionParts = append(sessionParts, value)
		}
	}
	add(opt.PerUser, user)
	add(opt.PerNote, notebook)

	keys := Keys{Group: settingID, Session: settingID}
	if len(groupParts) > 0 {
		keys.Group = strings.Join(groupParts, ":")
	}
	if len(sessionParts) > 0 {
		keys.Session = strings.Join(sessionParts, ":")
	}
	return keys
}

// SharesProcess reports whether every tenant of the option lands on one process
func SharesProcess(opt models.Option) bool {
	opt = opt.Normalize()
	return opt.PerNote != models.PolicyIsolated && opt.PerUser != models.PolicyIsolated
}
