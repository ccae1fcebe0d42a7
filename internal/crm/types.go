package crm

// Contact is a customer record in the primary CRM/DMS.
type Contact struct {
	ID        string `json:"id"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Email     string `json:"email,omitempty"`
	Phone     string `json:"phone,omitempty"`
	Address   string `json:"address,omitempty"`
}

// FullName joins first and last name.
func (c Contact) FullName() string {
	switch {
	case c.FirstName == "":
		return c.LastName
	case c.LastName == "":
		return c.FirstName
	default:
		return c.FirstName + " " + c.LastName
	}
}

// Lead is a sales opportunity attached to a contact.
type Lead struct {
	ID        string `json:"id"`
	ContactID string `json:"contactId"`
	Status    string `json:"status,omitempty"`
	Type      string `json:"type,omitempty"`
	CreatedAt string `json:"createdAt,omitempty"`
}

// Vehicle is a vehicle of interest or a trade-in on a lead.
type Vehicle struct {
	Year  string `json:"year,omitempty"`
	Make  string `json:"make,omitempty"`
	Model string `json:"model,omitempty"`
	Trim  string `json:"trim,omitempty"`
	VIN   string `json:"vin,omitempty"`
	Stock string `json:"stock,omitempty"`
	IsNew bool   `json:"isNew,omitempty"`
}

// LeadSource describes where a lead came from.
type LeadSource struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Rep is a member of a contact's sales team.
type Rep struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Role    string `json:"role,omitempty"`
	Email   string `json:"email,omitempty"`
	Phone   string `json:"phone,omitempty"`
	Primary bool   `json:"primary,omitempty"`
}

// SalesTeam is the set of representatives assigned to a contact.
type SalesTeam struct {
	ContactID string `json:"contactId"`
	Members   []Rep  `json:"members"`
}

// PrimaryRep returns the member flagged primary, else the first member.
func (t *SalesTeam) PrimaryRep() *Rep {
	if t == nil || len(t.Members) == 0 {
		return nil
	}
	for i := range t.Members {
		if t.Members[i].Primary {
			return &t.Members[i]
		}
	}
	return &t.Members[0]
}

// ServiceProfile is the parts/service system's view of a customer.
type ServiceProfile struct {
	CustomerNumber   string           `json:"customerNumber"`
	Name             string           `json:"name,omitempty"`
	OpenRepairOrders int              `json:"openRepairOrders"`
	LastServiceDate  string           `json:"lastServiceDate,omitempty"`
	Vehicles         []ServiceVehicle `json:"vehicles,omitempty"`
	Advisor          string           `json:"advisor,omitempty"`
}

// ServiceVehicle is a vehicle known to the service department.
type ServiceVehicle struct {
	VIN     string `json:"vin"`
	Year    string `json:"year,omitempty"`
	Make    string `json:"make,omitempty"`
	Model   string `json:"model,omitempty"`
	Mileage int    `json:"mileage,omitempty"`
}
