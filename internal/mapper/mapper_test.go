package mapper

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ehr/pmsync/internal/domain/records"
	"github.com/ehr/pmsync/internal/upstream"
)

func decodeWire[T any](t *testing.T, raw string) T {
	t.Helper()
	v, err := upstream.Decode[T](json.RawMessage(raw))
	require.NoError(t, err)
	return v
}

func TestParseMoney(t *testing.T) {
	tests := []struct {
		in   upstream.Money
		want string
	}{
		{"125.50", "125.5"},
		{"$1,234.50 USD", "1234.5"},
		{"-15", "-15"},
		{"(20.00)", "-20"},
		{"  7 ", "7"},
		{"", "0"},
		{"n/a", "0"},
		{"1.2.3", "0"},
	}
	for _, tt := range tests {
		t.Run(string(tt.in), func(t *testing.T) {
			got := ParseMoney(tt.in)
			assert.True(t, decimal.RequireFromString(tt.want).Equal(got), "ParseMoney(%q) = %s", tt.in, got)
		})
	}
}

func TestAppointmentStatus_Priority(t *testing.T) {
	assert.Equal(t, records.AppointmentCancelled, AppointmentStatus(true, true, true, true, true))
	assert.Equal(t, records.AppointmentMissed, AppointmentStatus(false, true, true, true, true))
	assert.Equal(t, records.AppointmentCheckedOut, AppointmentStatus(false, false, true, true, true))
	assert.Equal(t, records.AppointmentCheckedIn, AppointmentStatus(false, false, false, true, true))
	assert.Equal(t, records.AppointmentConfirmed, AppointmentStatus(false, false, false, false, true))
	assert.Equal(t, records.AppointmentScheduled, AppointmentStatus(false, false, false, false, false))
}

func TestPatient_PrefersNestedBio(t *testing.T) {
	w := decodeWire[upstream.Patient](t, `{
		"id": 42,
		"first_name": "Ann",
		"last_name": "Lee",
		"email_address": "old@example.com",
		"date_of_birth": "1970-01-01",
		"phone_number": "555-0000",
		"address": "1 Old St",
		"postal_code": "00000",
		"provider": {"id": 9},
		"bio": {
			"date_of_birth": "1990-04-12",
			"cell_phone_number": "555-1234",
			"address_line_1": "2 New Ave",
			"zip_code": "94107"
		},
		"updated_at": "2026-03-01T10:00:00Z"
	}`)
	p, err := Patient(w)
	require.NoError(t, err)

	assert.Equal(t, "42", p.ForeignID)
	assert.Equal(t, "old@example.com", p.Email, "legacy email is used when the newer field is absent")
	assert.Equal(t, "555-1234", p.Phone)
	assert.Equal(t, "2 New Ave", p.AddressLine1)
	assert.Equal(t, "94107", p.PostalCode)
	assert.Equal(t, "9", p.ProviderForeignID)
	require.NotNil(t, p.DateOfBirth)
	assert.Equal(t, time.Date(1990, 4, 12, 0, 0, 0, 0, time.UTC), *p.DateOfBirth)
	require.NotNil(t, p.UpdatedAt)
	assert.Equal(t, time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC), *p.UpdatedAt)
}

func TestPatient_FlatLegacyShape(t *testing.T) {
	w := decodeWire[upstream.Patient](t, `{
		"id": "17", "first_name": "Bo", "last_name": "Ng",
		"date_of_birth": "1985-07-04", "phone_number": "555-9999", "gender": "female",
		"new_patient": 1
	}`)
	p, err := Patient(w)
	require.NoError(t, err)
	assert.Equal(t, "555-9999", p.Phone)
	assert.Equal(t, "female", p.Gender)
	assert.True(t, p.NewPatient)
	assert.Empty(t, p.Email)
	assert.Nil(t, p.UpdatedAt)
}

func TestPatient_MissingID(t *testing.T) {
	_, err := Patient(upstream.Patient{FirstName: "x"})
	assert.True(t, errors.Is(err, ErrMissingID))
}

func TestAppointment_DerivesStatus(t *testing.T) {
	w := decodeWire[upstream.Appointment](t, `{
		"id": 1, "patient_id": 42, "start_time": "2026-02-01T10:00:00Z",
		"confirmed": true, "checkin_at": "2026-02-01T09:55:00Z"
	}`)
	a, err := Appointment(w)
	require.NoError(t, err)
	assert.Equal(t, records.AppointmentCheckedIn, a.Status)
	assert.Equal(t, "42", a.PatientForeignID)

	w = decodeWire[upstream.Appointment](t, `{"id": 2, "start": "2026-02-01 10:00:00", "canceled": true, "notes": "called"}`)
	a, err = Appointment(w)
	require.NoError(t, err)
	assert.Equal(t, records.AppointmentCancelled, a.Status)
	assert.True(t, a.Cancelled)
	assert.Equal(t, "called", a.Note)
	assert.Equal(t, time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC), a.StartTime)
}

func TestAppointment_RequiresStart(t *testing.T) {
	_, err := Appointment(decodeWire[upstream.Appointment](t, `{"id": 3}`))
	assert.Error(t, err)
	_, err = Appointment(decodeWire[upstream.Appointment](t, `{"id": 3, "start_time": "tomorrow"}`))
	assert.Error(t, err)
}

func TestProcedure_NestedFeeBeforePrice(t *testing.T) {
	w := decodeWire[upstream.Procedure](t, `{"id": 5, "code": "D1110", "fee": {"amount": "$95.00", "currency": "USD"}, "price": "10"}`)
	p, err := Procedure(w)
	require.NoError(t, err)
	assert.Equal(t, "D1110", p.Code)
	assert.True(t, decimal.NewFromInt(95).Equal(p.Fee))

	w = decodeWire[upstream.Procedure](t, `{"id": 6, "procedure_code": "D0120", "price": 40.5, "service_date": "2026-01-15"}`)
	p, err = Procedure(w)
	require.NoError(t, err)
	assert.Equal(t, "D0120", p.Code)
	assert.True(t, decimal.RequireFromString("40.5").Equal(p.Fee))
	require.NotNil(t, p.ServiceDate)
}

func TestBalance_Kinds(t *testing.T) {
	w := decodeWire[upstream.Balance](t, `{"id": 8, "guarantor_id": 42, "total": "$300.00", "patient_portion": "100"}`)
	g, err := GuarantorBalance(w)
	require.NoError(t, err)
	assert.Equal(t, records.KindGuarantorBalance, g.Kind())
	assert.Equal(t, "42", g.PatientForeignID)
	assert.True(t, decimal.NewFromInt(300).Equal(g.Total))

	i, err := InsuranceBalance(w)
	require.NoError(t, err)
	assert.Equal(t, records.KindInsuranceBalance, i.Kind())
}

func TestInsurancePlan_PayerFallback(t *testing.T) {
	p, err := InsurancePlan(decodeWire[upstream.InsurancePlan](t, `{"id": 1, "name": "PPO", "payer": {"id": "60054", "name": "Aetna"}, "group_number": "G1"}`))
	require.NoError(t, err)
	assert.Equal(t, "Aetna", p.PayerName)
	assert.Equal(t, "60054", p.PayerID)
	assert.Equal(t, "G1", p.GroupNumber)

	p, err = InsurancePlan(decodeWire[upstream.InsurancePlan](t, `{"id": 2, "payer_name": "Delta", "payer_id": "94276"}`))
	require.NoError(t, err)
	assert.Equal(t, "Delta", p.PayerName)
	assert.Equal(t, "94276", p.PayerID)
}

func TestTreatmentPlan_ProcedureRefs(t *testing.T) {
	tp, err := TreatmentPlan(decodeWire[upstream.TreatmentPlan](t, `{"id": 1, "procedures": [{"id": 10}, {"id": 11}], "procedure_ids": [99]}`))
	require.NoError(t, err)
	assert.Equal(t, []string{"10", "11"}, tp.ProcedureForeignIDs)

	tp, err = TreatmentPlan(decodeWire[upstream.TreatmentPlan](t, `{"id": 2, "procedure_ids": [99, "100"]}`))
	require.NoError(t, err)
	assert.Equal(t, []string{"99", "100"}, tp.ProcedureForeignIDs)
}

func TestOptionalFieldsNeverError(t *testing.T) {
	minimal := `{"id": 1}`
	_, err := Provider(decodeWire[upstream.Provider](t, minimal))
	assert.NoError(t, err)
	_, err = Operatory(decodeWire[upstream.Operatory](t, minimal))
	assert.NoError(t, err)
	_, err = AppointmentType(decodeWire[upstream.AppointmentType](t, minimal))
	assert.NoError(t, err)
	_, err = FeeSchedule(decodeWire[upstream.FeeSchedule](t, minimal))
	assert.NoError(t, err)
	_, err = Recall(decodeWire[upstream.Recall](t, minimal))
	assert.NoError(t, err)
	_, err = InsuranceCoverage(decodeWire[upstream.InsuranceCoverage](t, minimal))
	assert.NoError(t, err)
	_, err = Charge(decodeWire[upstream.Charge](t, minimal))
	assert.NoError(t, err)
	_, err = Claim(decodeWire[upstream.Claim](t, minimal))
	assert.NoError(t, err)
	wh, err := WorkingHour(decodeWire[upstream.WorkingHour](t, minimal))
	assert.NoError(t, err)
	assert.True(t, wh.Active, "working hours default to active")
}

func TestDeletedFlagCarriesThrough(t *testing.T) {
	c, err := Charge(decodeWire[upstream.Charge](t, `{"id": 4, "deleted": true, "amount": 12}`))
	require.NoError(t, err)
	assert.True(t, c.IsDeleted())
}
