// Package permission resolves and caches the signed-in user's permission set and
// answers capability checks for UI gates. Checks fail closed: an unknown key or a
// missing set always denies. A failed refetch never locks the user out; the last
// known good set keeps serving until logout.
package permission

import "fmt"

// Key names a capability as "resource.action". The set of keys is closed; the
// mapping in Set.allows is exhaustive so an unknown key can only come from bad
// input, and resolves to false.
type Key string

const (
	KeyLeadsView      Key = "leads.view"
	KeyLeadsEdit      Key = "leads.edit"
	KeyCampaignsView  Key = "campaigns.view"
	KeyCampaignsEdit  Key = "campaigns.edit"
	KeyPaymentsView   Key = "payments.view"
	KeyPaymentsManage Key = "payments.manage"
	KeyUsersView      Key = "users.view"
	KeyUsersManage    Key = "users.manage"
	KeyReportsView    Key = "reports.view"
	KeyBillingManage  Key = "billing.manage"
	KeySettingsManage Key = "settings.manage"
)

// Keys lists every known permission key.
func Keys() []Key {
	return []Key{
		KeyLeadsView, KeyLeadsEdit,
		KeyCampaignsView, KeyCampaignsEdit,
		KeyPaymentsView, KeyPaymentsManage,
		KeyUsersView, KeyUsersManage,
		KeyReportsView, KeyBillingManage, KeySettingsManage,
	}
}

// Set is the backend's permission grant for the current user.
type Set struct {
	ViewLeads      bool `json:"viewLeads"`
	EditLeads      bool `json:"editLeads"`
	ViewCampaigns  bool `json:"viewCampaigns"`
	EditCampaigns  bool `json:"editCampaigns"`
	ViewPayments   bool `json:"viewPayments"`
	ManagePayments bool `json:"managePayments"`
	ViewUsers      bool `json:"viewUsers"`
	ManageUsers    bool `json:"manageUsers"`
	ViewReports    bool `json:"viewReports"`
	ManageBilling  bool `json:"manageBilling"`
	ManageSettings bool `json:"manageSettings"`

	// OrganizationScoped marks grants that apply only within the current
	// organization and must be refetched when the user switches org.
	OrganizationScoped bool `json:"organizationScoped"`
}

// allows maps a key to its grant field. Exhaustive over the Key constants;
// anything else denies.
func (s *Set) allows(k Key) bool {
	if s == nil {
		return false
	}
	switch k {
	case KeyLeadsView:
		return s.ViewLeads
	case KeyLeadsEdit:
		return s.EditLeads
	case KeyCampaignsView:
		return s.ViewCampaigns
	case KeyCampaignsEdit:
		return s.EditCampaigns
	case KeyPaymentsView:
		return s.ViewPayments
	case KeyPaymentsManage:
		return s.ManagePayments
	case KeyUsersView:
		return s.ViewUsers
	case KeyUsersManage:
		return s.ManageUsers
	case KeyReportsView:
		return s.ViewReports
	case KeyBillingManage:
		return s.ManageBilling
	case KeySettingsManage:
		return s.ManageSettings
	default:
		return false
	}
}

// Provenance records where the current set came from.
type Provenance int

const (
	// ProvenanceEmpty: no set has ever been obtained; checks run against an
	// all-false set. Distinguishable from "still loading".
	ProvenanceEmpty Provenance = iota
	// ProvenanceFallback: carried over from the login response or a previous
	// fetch because the latest authoritative fetch failed.
	ProvenanceFallback
	// ProvenanceAuthoritative: freshly confirmed by the backend.
	ProvenanceAuthoritative
)

func (p Provenance) String() string {
	switch p {
	case ProvenanceAuthoritative:
		return "authoritative"
	case ProvenanceFallback:
		return "fallback"
	default:
		return "empty"
	}
}

// ParseKey returns the Key for s, or an error for an unknown key string.
func ParseKey(s string) (Key, error) {
	k := Key(s)
	for _, known := range Keys() {
		if k == known {
			return k, nil
		}
	}
	return "", fmt.Errorf("permission: unknown key %q", s)
}
