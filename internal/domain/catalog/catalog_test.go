package catalog

import "testing"

func TestDefault_EveryKindHasProfile(t *testing.T) {
	c := Default()
	for _, k := range []Kind{HomeService, OnlineConsultation, LabTest, SpecializedTreatment, MedicineOrder} {
		p, ok := c.Profile(k)
		if !ok {
			t.Errorf("missing profile for %s", k)
			continue
		}
		if len(p.ItemTypes) == 0 {
			t.Errorf("%s has no item types", k)
		}
	}
}

func TestDefault_Flows(t *testing.T) {
	c := Default()
	tests := map[Kind]Flow{
		HomeService:          FlowAcceptance,
		SpecializedTreatment: FlowAcceptance,
		OnlineConsultation:   FlowPayment,
		LabTest:              FlowPayment,
		MedicineOrder:        FlowPayment,
	}
	for k, want := range tests {
		p, _ := c.Profile(k)
		if p.Flow != want {
			t.Errorf("%s: expected flow %s, got %s", k, want, p.Flow)
		}
	}
	if p, _ := c.Profile(MedicineOrder); p.RequiresSlot {
		t.Error("medicine orders are not slot-bound")
	}
}

func TestParseKind(t *testing.T) {
	c := Default()
	k, err := c.ParseKind(" lab_test ")
	if err != nil || k != LabTest {
		t.Errorf("expected LAB_TEST, got %q err=%v", k, err)
	}
	if _, err := c.ParseKind("SURGERY"); err == nil {
		t.Error("expected error for unknown kind")
	}
}

func TestWithServiceCharges(t *testing.T) {
	base := Default()
	c, err := base.WithServiceCharges(map[string]int64{"HOME_SERVICE": 350})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p, _ := c.Profile(HomeService); p.ServiceCharge != 350 {
		t.Errorf("expected 350, got %d", p.ServiceCharge)
	}
	if p, _ := base.Profile(HomeService); p.ServiceCharge != 200 {
		t.Errorf("base catalog must be unchanged, got %d", p.ServiceCharge)
	}

	if _, err := base.WithServiceCharges(map[string]int64{"NOPE": 1}); err == nil {
		t.Error("expected error for unknown kind")
	}
	if _, err := base.WithServiceCharges(map[string]int64{"LAB_TEST": -1}); err == nil {
		t.Error("expected error for negative charge")
	}
}

func TestAllowsItem(t *testing.T) {
	p, _ := Default().Profile(LabTest)
	if !p.AllowsItem("LAB_TEST") {
		t.Error("expected LAB_TEST item to be allowed")
	}
	if p.AllowsItem("MEDICINE") {
		t.Error("MEDICINE is not a lab test item")
	}
}
