package pushback

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/ehr/pmsync/internal/domain/records"
	"github.com/ehr/pmsync/internal/mapper"
	"github.com/ehr/pmsync/internal/upstream"
)

var errNoPatient = errors.New("patient has no foreign identifier")

// Operation names accepted by Run.
const (
	OpCreateAppointment     = "create_appointment"
	OpUpdateAppointment     = "update_appointment"
	OpCancelAppointment     = "cancel_appointment"
	OpCreatePatient         = "create_patient"
	OpUpdatePatient         = "update_patient"
	OpCreatePayment         = "create_payment"
	OpCreateAdjustment      = "create_adjustment"
	OpCreateAppointmentType = "create_appointment_type"
	OpUpdateAppointmentType = "update_appointment_type"
	OpCreateWorkingHour     = "create_working_hour"
	OpUpdateWorkingHour     = "update_working_hour"
	OpCreatePatientAlert    = "create_patient_alert"
	OpCreatePatientDocument = "create_patient_document"
)

// Run dispatches an operation by name.
func (w *Writer) Run(ctx context.Context, op string, practiceID, localID uuid.UUID) Result {
	fn, ok := map[string]func(context.Context, uuid.UUID, uuid.UUID) Result{
		OpCreateAppointment:     w.CreateAppointment,
		OpUpdateAppointment:     w.UpdateAppointment,
		OpCancelAppointment:     w.CancelAppointment,
		OpCreatePatient:         w.CreatePatient,
		OpUpdatePatient:         w.UpdatePatient,
		OpCreatePayment:         w.CreatePayment,
		OpCreateAdjustment:      w.CreateAdjustment,
		OpCreateAppointmentType: w.CreateAppointmentType,
		OpUpdateAppointmentType: w.UpdateAppointmentType,
		OpCreateWorkingHour:     w.CreateWorkingHour,
		OpUpdateWorkingHour:     w.UpdateWorkingHour,
		OpCreatePatientAlert:    w.CreatePatientAlert,
		OpCreatePatientDocument: w.CreatePatientDocument,
	}[op]
	if !ok {
		return failure("unknown push operation %q", op)
	}
	return fn(ctx, practiceID, localID)
}

// ---------------------------------------------------------------------------
// Appointments
// ---------------------------------------------------------------------------

func (w *Writer) CreateAppointment(ctx context.Context, practiceID, localID uuid.UUID) Result {
	return create[records.Appointment](ctx, w, practiceID, localID, records.KindAppointment,
		func(ctx context.Context, c *upstream.Client, a *records.Appointment) (upstream.Appointment, error) {
			return c.CreateAppointment(ctx, mapper.AppointmentToWire(a))
		}, mapper.Appointment)
}

func (w *Writer) UpdateAppointment(ctx context.Context, practiceID, localID uuid.UUID) Result {
	return update[records.Appointment](ctx, w, practiceID, localID, records.KindAppointment,
		func(ctx context.Context, c *upstream.Client, id string, a *records.Appointment) (upstream.Appointment, error) {
			return c.UpdateAppointment(ctx, id, mapper.AppointmentToWire(a))
		}, mapper.Appointment)
}

// CancelAppointment cancels the linked appointment upstream and stores the
// cancelled state locally.
func (w *Writer) CancelAppointment(ctx context.Context, practiceID, localID uuid.UUID) Result {
	return update[records.Appointment](ctx, w, practiceID, localID, records.KindAppointment,
		func(ctx context.Context, c *upstream.Client, id string, _ *records.Appointment) (upstream.Appointment, error) {
			return c.CancelAppointment(ctx, id)
		}, mapper.Appointment)
}

// ---------------------------------------------------------------------------
// Patients
// ---------------------------------------------------------------------------

func (w *Writer) CreatePatient(ctx context.Context, practiceID, localID uuid.UUID) Result {
	return create[records.Patient](ctx, w, practiceID, localID, records.KindPatient,
		func(ctx context.Context, c *upstream.Client, p *records.Patient) (upstream.Patient, error) {
			return c.CreatePatient(ctx, mapper.PatientToWire(p))
		}, mapper.Patient)
}

func (w *Writer) UpdatePatient(ctx context.Context, practiceID, localID uuid.UUID) Result {
	return update[records.Patient](ctx, w, practiceID, localID, records.KindPatient,
		func(ctx context.Context, c *upstream.Client, id string, p *records.Patient) (upstream.Patient, error) {
			return c.UpdatePatient(ctx, id, mapper.PatientToWire(p))
		}, mapper.Patient)
}

// CreatePatientAlert requires the alert's patient to be linked upstream.
func (w *Writer) CreatePatientAlert(ctx context.Context, practiceID, localID uuid.UUID) Result {
	return create[records.PatientAlert](ctx, w, practiceID, localID, records.KindPatientAlert,
		func(ctx context.Context, c *upstream.Client, a *records.PatientAlert) (upstream.PatientAlert, error) {
			if a.PatientForeignID == "" {
				return upstream.PatientAlert{}, errNoPatient
			}
			return c.CreatePatientAlert(ctx, a.PatientForeignID, mapper.PatientAlertToWire(a))
		}, mapper.PatientAlert)
}

func (w *Writer) CreatePatientDocument(ctx context.Context, practiceID, localID uuid.UUID) Result {
	return create[records.PatientDocument](ctx, w, practiceID, localID, records.KindPatientDocument,
		func(ctx context.Context, c *upstream.Client, d *records.PatientDocument) (upstream.PatientDocument, error) {
			if d.PatientForeignID == "" {
				return upstream.PatientDocument{}, errNoPatient
			}
			return c.CreatePatientDocument(ctx, d.PatientForeignID, mapper.PatientDocumentToWire(d))
		}, mapper.PatientDocument)
}

// ---------------------------------------------------------------------------
// Ledger
// ---------------------------------------------------------------------------

func (w *Writer) CreatePayment(ctx context.Context, practiceID, localID uuid.UUID) Result {
	return create[records.Payment](ctx, w, practiceID, localID, records.KindPayment,
		func(ctx context.Context, c *upstream.Client, p *records.Payment) (upstream.Payment, error) {
			return c.CreatePayment(ctx, mapper.PaymentToWire(p))
		}, mapper.Payment)
}

func (w *Writer) CreateAdjustment(ctx context.Context, practiceID, localID uuid.UUID) Result {
	return create[records.Adjustment](ctx, w, practiceID, localID, records.KindAdjustment,
		func(ctx context.Context, c *upstream.Client, a *records.Adjustment) (upstream.Adjustment, error) {
			return c.CreateAdjustment(ctx, mapper.AdjustmentToWire(a))
		}, mapper.Adjustment)
}

// ---------------------------------------------------------------------------
// Scheduling setup
// ---------------------------------------------------------------------------

func (w *Writer) CreateAppointmentType(ctx context.Context, practiceID, localID uuid.UUID) Result {
	return create[records.AppointmentType](ctx, w, practiceID, localID, records.KindAppointmentType,
		func(ctx context.Context, c *upstream.Client, t *records.AppointmentType) (upstream.AppointmentType, error) {
			return c.CreateAppointmentType(ctx, mapper.AppointmentTypeToWire(t))
		}, mapper.AppointmentType)
}

func (w *Writer) UpdateAppointmentType(ctx context.Context, practiceID, localID uuid.UUID) Result {
	return update[records.AppointmentType](ctx, w, practiceID, localID, records.KindAppointmentType,
		func(ctx context.Context, c *upstream.Client, id string, t *records.AppointmentType) (upstream.AppointmentType, error) {
			return c.UpdateAppointmentType(ctx, id, mapper.AppointmentTypeToWire(t))
		}, mapper.AppointmentType)
}

func (w *Writer) CreateWorkingHour(ctx context.Context, practiceID, localID uuid.UUID) Result {
	return create[records.WorkingHour](ctx, w, practiceID, localID, records.KindWorkingHour,
		func(ctx context.Context, c *upstream.Client, h *records.WorkingHour) (upstream.WorkingHour, error) {
			return c.CreateWorkingHour(ctx, mapper.WorkingHourToWire(h))
		}, mapper.WorkingHour)
}

func (w *Writer) UpdateWorkingHour(ctx context.Context, practiceID, localID uuid.UUID) Result {
	return update[records.WorkingHour](ctx, w, practiceID, localID, records.KindWorkingHour,
		func(ctx context.Context, c *upstream.Client, id string, h *records.WorkingHour) (upstream.WorkingHour, error) {
			return c.UpdateWorkingHour(ctx, id, mapper.WorkingHourToWire(h))
		}, mapper.WorkingHour)
}
