package upstream

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// ListParams are the cursor and filter parameters shared by every
// collection. Zero values are not sent.
type ListParams struct {
	PerPage      int
	Cursor       string
	UpdatedSince *time.Time
	Start        *time.Time
	End          *time.Time
	PatientID    string
	ProviderID   string
}

func (p ListParams) values() url.Values {
	q := url.Values{}
	if p.PerPage > 0 {
		q.Set("per_page", strconv.Itoa(p.PerPage))
	}
	if p.Cursor != "" {
		q.Set("end_cursor", p.Cursor)
	}
	if p.UpdatedSince != nil {
		q.Set("updated_since", p.UpdatedSince.UTC().Format(time.RFC3339))
	}
	if p.Start != nil {
		q.Set("start", p.Start.UTC().Format(time.RFC3339))
	}
	if p.End != nil {
		q.Set("end", p.End.UTC().Format(time.RFC3339))
	}
	if p.PatientID != "" {
		q.Set("patient_id", p.PatientID)
	}
	if p.ProviderID != "" {
		q.Set("provider_id", p.ProviderID)
	}
	return q
}

func list[T any](ctx context.Context, c *Client, path string, p ListParams) (*Page[T], error) {
	var env envelope
	if err := c.Do(ctx, http.MethodGet, path, p.values(), nil, &env); err != nil {
		return nil, err
	}
	page, err := decodePage[T](&env)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return page, nil
}

func one[T any](ctx context.Context, c *Client, method, path string, body any) (T, error) {
	var env envelope
	if err := c.Do(ctx, method, path, nil, body, &env); err != nil {
		var zero T
		return zero, err
	}
	v, err := decodeOne[T](&env)
	if err != nil {
		return v, fmt.Errorf("%s %s: %w", method, path, err)
	}
	return v, nil
}

// -- Collections --

func (c *Client) ListProviders(ctx context.Context, p ListParams) (*Page[Provider], error) {
	return list[Provider](ctx, c, "/providers", p)
}

func (c *Client) ListOperatories(ctx context.Context, p ListParams) (*Page[Operatory], error) {
	return list[Operatory](ctx, c, "/operatories", p)
}

func (c *Client) ListPatients(ctx context.Context, p ListParams) (*Page[Patient], error) {
	return list[Patient](ctx, c, "/patients", p)
}

// ListAppointments requires Start and End.
func (c *Client) ListAppointments(ctx context.Context, p ListParams) (*Page[Appointment], error) {
	if p.Start == nil || p.End == nil {
		return nil, fmt.Errorf("list appointments: start and end are required")
	}
	return list[Appointment](ctx, c, "/appointments", p)
}

func (c *Client) ListAppointmentTypes(ctx context.Context, p ListParams) (*Page[AppointmentType], error) {
	return list[AppointmentType](ctx, c, "/appointment_types", p)
}

func (c *Client) ListFeeSchedules(ctx context.Context, p ListParams) (*Page[FeeSchedule], error) {
	return list[FeeSchedule](ctx, c, "/fee_schedules", p)
}

func (c *Client) ListRecalls(ctx context.Context, p ListParams) (*Page[Recall], error) {
	return list[Recall](ctx, c, "/recalls", p)
}

func (c *Client) ListInsurancePlans(ctx context.Context, p ListParams) (*Page[InsurancePlan], error) {
	return list[InsurancePlan](ctx, c, "/insurance_plans", p)
}

// ListInsuranceCoverages lists coverages in bulk, or for one patient when
// PatientID is set.
func (c *Client) ListInsuranceCoverages(ctx context.Context, p ListParams) (*Page[InsuranceCoverage], error) {
	return list[InsuranceCoverage](ctx, c, "/insurance_coverages", p)
}

func (c *Client) ListProcedures(ctx context.Context, p ListParams) (*Page[Procedure], error) {
	return list[Procedure](ctx, c, "/procedures", p)
}

func (c *Client) ListCharges(ctx context.Context, p ListParams) (*Page[Charge], error) {
	return list[Charge](ctx, c, "/charges", p)
}

func (c *Client) ListPayments(ctx context.Context, p ListParams) (*Page[Payment], error) {
	return list[Payment](ctx, c, "/payments", p)
}

func (c *Client) ListAdjustments(ctx context.Context, p ListParams) (*Page[Adjustment], error) {
	return list[Adjustment](ctx, c, "/adjustments", p)
}

func (c *Client) ListGuarantorBalances(ctx context.Context, p ListParams) (*Page[Balance], error) {
	return list[Balance](ctx, c, "/guarantor_balances", p)
}

func (c *Client) ListInsuranceBalances(ctx context.Context, p ListParams) (*Page[Balance], error) {
	return list[Balance](ctx, c, "/insurance_balances", p)
}

func (c *Client) ListTreatmentPlans(ctx context.Context, p ListParams) (*Page[TreatmentPlan], error) {
	return list[TreatmentPlan](ctx, c, "/treatment_plans", p)
}

func (c *Client) ListClaims(ctx context.Context, p ListParams) (*Page[Claim], error) {
	return list[Claim](ctx, c, "/claims", p)
}

func (c *Client) ListWorkingHours(ctx context.Context, p ListParams) (*Page[WorkingHour], error) {
	return list[WorkingHour](ctx, c, "/working_hours", p)
}

// -- Mutations --

func (c *Client) CreateAppointment(ctx context.Context, body AppointmentBody) (Appointment, error) {
	return one[Appointment](ctx, c, http.MethodPost, "/appointments", AppointmentRequest{Appt: body})
}

func (c *Client) UpdateAppointment(ctx context.Context, id string, body AppointmentBody) (Appointment, error) {
	return one[Appointment](ctx, c, http.MethodPatch, "/appointments/"+url.PathEscape(id), AppointmentRequest{Appt: body})
}

func (c *Client) CancelAppointment(ctx context.Context, id string) (Appointment, error) {
	cancelled := true
	return one[Appointment](ctx, c, http.MethodPatch, "/appointments/"+url.PathEscape(id),
		AppointmentRequest{Appt: AppointmentBody{Cancelled: &cancelled}})
}

func (c *Client) CreatePatient(ctx context.Context, body PatientBody) (Patient, error) {
	return one[Patient](ctx, c, http.MethodPost, "/patients", PatientRequest{Patient: body})
}

func (c *Client) UpdatePatient(ctx context.Context, id string, body PatientBody) (Patient, error) {
	return one[Patient](ctx, c, http.MethodPatch, "/patients/"+url.PathEscape(id), PatientRequest{Patient: body})
}

func (c *Client) CreatePayment(ctx context.Context, body PaymentBody) (Payment, error) {
	return one[Payment](ctx, c, http.MethodPost, "/payments", PaymentRequest{Payment: body})
}

func (c *Client) CreateAdjustment(ctx context.Context, body AdjustmentBody) (Adjustment, error) {
	return one[Adjustment](ctx, c, http.MethodPost, "/adjustments", AdjustmentRequest{Adjustment: body})
}

func (c *Client) CreateAppointmentType(ctx context.Context, body AppointmentTypeBody) (AppointmentType, error) {
	return one[AppointmentType](ctx, c, http.MethodPost, "/appointment_types", AppointmentTypeRequest{AppointmentType: body})
}

func (c *Client) UpdateAppointmentType(ctx context.Context, id string, body AppointmentTypeBody) (AppointmentType, error) {
	return one[AppointmentType](ctx, c, http.MethodPatch, "/appointment_types/"+url.PathEscape(id),
		AppointmentTypeRequest{AppointmentType: body})
}

func (c *Client) CreateWorkingHour(ctx context.Context, body WorkingHourBody) (WorkingHour, error) {
	return one[WorkingHour](ctx, c, http.MethodPost, "/working_hours", WorkingHourRequest{WorkingHour: body})
}

func (c *Client) UpdateWorkingHour(ctx context.Context, id string, body WorkingHourBody) (WorkingHour, error) {
	return one[WorkingHour](ctx, c, http.MethodPatch, "/working_hours/"+url.PathEscape(id), WorkingHourRequest{WorkingHour: body})
}

func (c *Client) CreatePatientAlert(ctx context.Context, patientID string, body PatientAlertBody) (PatientAlert, error) {
	return one[PatientAlert](ctx, c, http.MethodPost, "/patients/"+url.PathEscape(patientID)+"/alerts",
		PatientAlertRequest{PatientAlert: body})
}

func (c *Client) CreatePatientDocument(ctx context.Context, patientID string, body PatientDocumentBody) (PatientDocument, error) {
	return one[PatientDocument](ctx, c, http.MethodPost, "/patients/"+url.PathEscape(patientID)+"/documents",
		PatientDocumentRequest{Document: body})
}
