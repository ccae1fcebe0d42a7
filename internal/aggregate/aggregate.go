// Package aggregate builds the customer-data aggregate shown to an
// operator while a call rings, one stage at a time.
package aggregate

import (
	"strings"

	"github.com/sweeney/callpop/internal/crm"
)

// Stages of an aggregate, in the order they are emitted.
const (
	StagePhone    = 1
	StageContacts = 2
	StageLeads    = 3
	StageDetail   = 4
)

// Aggregate is the merged view of both providers for one phone number.
// Fields are filled in as stages complete; Service stays nil until the
// parts/service provider answers.
type Aggregate struct {
	Stage       int    `json:"stage"`
	PhoneNumber string `json:"phoneNumber"`

	PrimaryContact      *crm.Contact  `json:"primaryContact,omitempty"`
	Contacts            []crm.Contact `json:"contacts,omitempty"`
	HasMultipleContacts bool          `json:"hasMultipleContacts"`

	Leads       []crm.Lead  `json:"leads,omitempty"`
	LeadSummary []LeadCount `json:"leadSummary,omitempty"`

	LeadDetails        []LeadDetail  `json:"leadDetails,omitempty"`
	SalesTeams         []ContactTeam `json:"salesTeams,omitempty"`
	VehiclesOfInterest []crm.Vehicle `json:"vehiclesOfInterest,omitempty"`
	IncompleteVehicles []crm.Vehicle `json:"incompleteVehicles,omitempty"`
	TradeVehicles      []crm.Vehicle `json:"tradeVehicles,omitempty"`
	Representative     *crm.Rep      `json:"representative,omitempty"`

	Service *crm.ServiceProfile `json:"service"`
}

// LeadCount is the per-contact line of the stage 3 summary.
type LeadCount struct {
	ContactID string `json:"contactId"`
	Name      string `json:"name"`
	LeadCount int    `json:"leadCount"`
}

// LeadDetail is everything fetched for one lead at stage 4.
type LeadDetail struct {
	Lead               crm.Lead        `json:"lead"`
	VehiclesOfInterest []crm.Vehicle   `json:"vehiclesOfInterest"`
	IncompleteVehicles []crm.Vehicle   `json:"incompleteVehicles"`
	TradeVehicles      []crm.Vehicle   `json:"tradeVehicles"`
	Source             *crm.LeadSource `json:"source"`
}

// ContactTeam pairs a contact with its sales team.
type ContactTeam struct {
	ContactID string         `json:"contactId"`
	Team      *crm.SalesTeam `json:"team"`
}

// Merge returns base with the non-zero fields of patch applied. The
// stage never moves backwards and a nil Service in patch keeps base's.
// Neither argument is modified.
func Merge(base, patch Aggregate) Aggregate {
	out := base
	if patch.Stage > out.Stage {
		out.Stage = patch.Stage
	}
	if patch.PhoneNumber != "" {
		out.PhoneNumber = patch.PhoneNumber
	}
	if patch.PrimaryContact != nil {
		out.PrimaryContact = patch.PrimaryContact
	}
	if patch.Contacts != nil {
		out.Contacts = patch.Contacts
		out.HasMultipleContacts = len(patch.Contacts) > 1
	}
	if patch.Leads != nil {
		out.Leads = patch.Leads
	}
	if patch.LeadSummary != nil {
		out.LeadSummary = patch.LeadSummary
	}
	if patch.LeadDetails != nil {
		out.LeadDetails = patch.LeadDetails
	}
	if patch.SalesTeams != nil {
		out.SalesTeams = patch.SalesTeams
	}
	if patch.VehiclesOfInterest != nil {
		out.VehiclesOfInterest = patch.VehiclesOfInterest
	}
	if patch.IncompleteVehicles != nil {
		out.IncompleteVehicles = patch.IncompleteVehicles
	}
	if patch.TradeVehicles != nil {
		out.TradeVehicles = patch.TradeVehicles
	}
	if patch.Representative != nil {
		out.Representative = patch.Representative
	}
	if patch.Service != nil {
		out.Service = patch.Service
	}
	return out
}

// NormalizePhone keeps only digits and drops the country code from an
// 11-digit North American number.
func NormalizePhone(raw string) string {
	var b strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	digits := b.String()
	if len(digits) == 11 && digits[0] == '1' {
		return digits[1:]
	}
	return digits
}

var placeholderValues = map[string]bool{
	"":        true,
	"unknown": true,
	"n/a":     true,
	"na":      true,
	"-":       true,
	"tbd":     true,
}

// Usable reports whether v carries a real make and model rather than a
// placeholder entry.
func Usable(v crm.Vehicle) bool {
	return !placeholderValues[strings.ToLower(strings.TrimSpace(v.Make))] &&
		!placeholderValues[strings.ToLower(strings.TrimSpace(v.Model))]
}

// SplitVehicles partitions vehicles into complete and incomplete sets,
// preserving order. Both results are non-nil.
func SplitVehicles(vehicles []crm.Vehicle) (complete, incomplete []crm.Vehicle) {
	complete = []crm.Vehicle{}
	incomplete = []crm.Vehicle{}
	for _, v := range vehicles {
		if Usable(v) {
			complete = append(complete, v)
		} else {
			incomplete = append(incomplete, v)
		}
	}
	return complete, incomplete
}
