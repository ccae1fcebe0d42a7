package aggregate

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/sweeney/callpop/internal/crm"
)

func TestNormalizePhone(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"+1 (555) 123-4567", "5551234567"},
		{"15551234567", "5551234567"},
		{"5551234567", "5551234567"},
		{"25551234567", "25551234567"},
		{"ext. 101", "101"},
		{"", ""},
		{"anonymous", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, NormalizePhone(tt.in), "NormalizePhone(%q)", tt.in)
	}
}

func TestSplitVehicles(t *testing.T) {
	complete, incomplete := SplitVehicles([]crm.Vehicle{
		{Make: "Honda", Model: "Civic"},
		{Make: "Unknown", Model: "Civic"},
		{Make: "Ford"},
		{Make: " toyota ", Model: "n/a"},
		{Make: "Mazda", Model: "CX-5"},
	})
	assert.Equal(t, []crm.Vehicle{{Make: "Honda", Model: "Civic"}, {Make: "Mazda", Model: "CX-5"}}, complete)
	assert.Len(t, incomplete, 3)

	complete, incomplete = SplitVehicles(nil)
	assert.NotNil(t, complete)
	assert.NotNil(t, incomplete)
	assert.Empty(t, complete)
}

func TestMergeKeepsEarlierFields(t *testing.T) {
	contact := crm.Contact{ID: "c1"}
	base := Aggregate{
		Stage:          StageContacts,
		PhoneNumber:    "5551234567",
		PrimaryContact: &contact,
		Contacts:       []crm.Contact{contact},
	}

	got := Merge(base, Aggregate{Stage: StageLeads, Leads: []crm.Lead{{ID: "l1"}}})
	assert.Equal(t, StageLeads, got.Stage)
	assert.Equal(t, "5551234567", got.PhoneNumber)
	assert.Equal(t, &contact, got.PrimaryContact)
	assert.Len(t, got.Leads, 1)
	assert.False(t, got.HasMultipleContacts)

	assert.Equal(t, StageContacts, base.Stage, "base must not be modified")
	assert.Nil(t, base.Leads)
}

func TestMergeStageNeverDecreases(t *testing.T) {
	got := Merge(Aggregate{Stage: StageDetail}, Aggregate{Stage: StageContacts})
	assert.Equal(t, StageDetail, got.Stage)
}

func TestMergeService(t *testing.T) {
	profile := &crm.ServiceProfile{CustomerNumber: "P-1"}
	withService := Merge(Aggregate{}, Aggregate{Service: profile})
	assert.Same(t, profile, withService.Service)

	kept := Merge(withService, Aggregate{Stage: StageDetail})
	assert.Same(t, profile, kept.Service, "nil service in patch keeps the existing block")
}

func TestMergeMultipleContacts(t *testing.T) {
	got := Merge(Aggregate{}, Aggregate{Contacts: []crm.Contact{{ID: "a"}, {ID: "b"}}})
	assert.True(t, got.HasMultipleContacts)
}
