// Package catalog describes the service kinds patients can book and the
// per-kind rules the generic booking flow is parameterized by.
package catalog

import (
	"fmt"
	"sort"
	"strings"
)

// Kind tags a booking flow. It doubles as the availability category a
// provider publishes windows under.
type Kind string

const (
	HomeService          Kind = "HOME_SERVICE"
	OnlineConsultation   Kind = "ONLINE_CONSULTATION"
	LabTest              Kind = "LAB_TEST"
	SpecializedTreatment Kind = "SPECIALIZED_TREATMENT"
	MedicineOrder        Kind = "MEDICINE_ORDER"
)

// Flow selects which side moves a booking out of PENDING.
type Flow string

const (
	// FlowAcceptance bookings wait for the provider to accept or reject.
	FlowAcceptance Flow = "ACCEPTANCE"
	// FlowPayment bookings are confirmed by payment (or immediately for cash).
	FlowPayment Flow = "PAYMENT"
)

// Profile is the adapter a concrete flow supplies to the generic core.
type Profile struct {
	Kind          Kind     `json:"kind"`
	Flow          Flow     `json:"flow"`
	ServiceCharge int64    `json:"service_charge"`
	ItemTypes     []string `json:"item_types"`
	RequiresSlot  bool     `json:"requires_slot"`
}

// AllowsItem reports whether itemType may appear on a booking of this kind.
func (p Profile) AllowsItem(itemType string) bool {
	for _, t := range p.ItemTypes {
		if t == itemType {
			return true
		}
	}
	return false
}

var defaultProfiles = []Profile{
	{
		Kind:          HomeService,
		Flow:          FlowAcceptance,
		ServiceCharge: 200,
		ItemTypes:     []string{"NURSING_CARE", "INJECTION", "WOUND_DRESSING", "PHYSIOTHERAPY", "ELDERLY_CARE"},
		RequiresSlot:  true,
	},
	{
		Kind:         OnlineConsultation,
		Flow:         FlowPayment,
		ItemTypes:    []string{"CONSULTATION", "FOLLOW_UP"},
		RequiresSlot: true,
	},
	{
		Kind:          LabTest,
		Flow:          FlowPayment,
		ServiceCharge: 100,
		ItemTypes:     []string{"LAB_TEST", "HOME_SAMPLE_COLLECTION"},
		RequiresSlot:  true,
	},
	{
		Kind:         SpecializedTreatment,
		Flow:         FlowAcceptance,
		ItemTypes:    []string{"TREATMENT", "PROCEDURE", "CONSULTATION"},
		RequiresSlot: true,
	},
	{
		Kind:          MedicineOrder,
		Flow:          FlowPayment,
		ServiceCharge: 50,
		ItemTypes:     []string{"MEDICINE", "DELIVERY"},
	},
}

// Catalog holds the profile of every known kind.
type Catalog struct {
	profiles map[Kind]Profile
}

// Default returns the built-in catalog.
func Default() *Catalog {
	c := &Catalog{profiles: make(map[Kind]Profile, len(defaultProfiles))}
	for _, p := range defaultProfiles {
		c.profiles[p.Kind] = p
	}
	return c
}

// WithServiceCharges returns a copy of c with the fixed charge of the named
// kinds replaced. Unknown kind names are an error.
func (c *Catalog) WithServiceCharges(charges map[string]int64) (*Catalog, error) {
	out := &Catalog{profiles: make(map[Kind]Profile, len(c.profiles))}
	for k, p := range c.profiles {
		out.profiles[k] = p
	}
	for name, charge := range charges {
		kind, err := c.ParseKind(name)
		if err != nil {
			return nil, err
		}
		if charge < 0 {
			return nil, fmt.Errorf("service charge for %s must not be negative", kind)
		}
		p := out.profiles[kind]
		p.ServiceCharge = charge
		out.profiles[kind] = p
	}
	return out, nil
}

// Profile returns the profile for kind.
func (c *Catalog) Profile(kind Kind) (Profile, bool) {
	p, ok := c.profiles[kind]
	return p, ok
}

// ParseKind accepts a kind name in any case.
func (c *Catalog) ParseKind(s string) (Kind, error) {
	k := Kind(strings.ToUpper(strings.TrimSpace(s)))
	if _, ok := c.profiles[k]; !ok {
		return "", fmt.Errorf("unknown service kind %q", s)
	}
	return k, nil
}

// Profiles lists every profile ordered by kind.
func (c *Catalog) Profiles() []Profile {
	out := make([]Profile, 0, len(c.profiles))
	for _, p := range c.profiles {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Kind < out[j].Kind })
	return out
}
