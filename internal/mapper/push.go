package mapper

import (
	"github.com/ehr/pmsync/internal/domain/records"
	"github.com/ehr/pmsync/internal/upstream"
)

// Push mappers build request bodies from canonical entities. Fields the
// wire format does not accept are dropped: appointment missed and check-in
// flags, patient guarantor and inactive flags, and document-to-patient
// links, which travel in the request path.

func AppointmentToWire(a *records.Appointment) upstream.AppointmentBody {
	body := upstream.AppointmentBody{
		PatientID:         a.PatientForeignID,
		ProviderID:        a.ProviderForeignID,
		OperatoryID:       a.OperatoryForeignID,
		AppointmentTypeID: a.AppointmentTypeForeignID,
		StartTime:         formatTime(&a.StartTime),
		EndTime:           formatTime(a.EndTime),
		Note:              a.Note,
		Confirmed:         boolPtr(a.Confirmed),
	}
	if a.Cancelled {
		body.Cancelled = boolPtr(true)
	}
	return body
}

func PatientToWire(p *records.Patient) upstream.PatientBody {
	body := upstream.PatientBody{
		FirstName:  p.FirstName,
		LastName:   p.LastName,
		Email:      p.Email,
		ProviderID: p.ProviderForeignID,
	}
	bio := upstream.PatientBio{
		DateOfBirth:  formatDate(p.DateOfBirth),
		Gender:       p.Gender,
		PhoneNumber:  p.Phone,
		AddressLine1: p.AddressLine1,
		City:         p.City,
		State:        p.State,
		ZipCode:      p.PostalCode,
	}
	if p.NewPatient {
		bio.NewPatient = boolPtr(true)
	}
	if bio != (upstream.PatientBio{}) {
		body.Bio = &bio
	}
	return body
}

func PaymentToWire(p *records.Payment) upstream.PaymentBody {
	return upstream.PaymentBody{
		PatientID:       p.PatientForeignID,
		Amount:          moneyToWire(p.Amount),
		PaymentType:     p.PaymentType,
		TransactionDate: formatTime(p.PaidAt),
		Note:            p.Note,
	}
}

func AdjustmentToWire(a *records.Adjustment) upstream.AdjustmentBody {
	return upstream.AdjustmentBody{
		PatientID:       a.PatientForeignID,
		ProviderID:      a.ProviderForeignID,
		Amount:          moneyToWire(a.Amount),
		AdjustmentType:  a.AdjustmentType,
		Description:     a.Description,
		TransactionDate: formatTime(a.AdjustedAt),
	}
}

func AppointmentTypeToWire(t *records.AppointmentType) upstream.AppointmentTypeBody {
	return upstream.AppointmentTypeBody{
		Name:           t.Name,
		Minutes:        t.Minutes,
		BookableOnline: boolPtr(t.BookableOnline),
		ParentType:     t.ParentType,
	}
}

func WorkingHourToWire(w *records.WorkingHour) upstream.WorkingHourBody {
	return upstream.WorkingHourBody{
		ProviderID:  w.ProviderForeignID,
		OperatoryID: w.OperatoryForeignID,
		Days:        w.Days,
		BeginTime:   w.BeginTime,
		EndTime:     w.EndTime,
		Active:      boolPtr(w.Active),
	}
}

func PatientAlertToWire(a *records.PatientAlert) upstream.PatientAlertBody {
	body := upstream.PatientAlertBody{Note: a.Note}
	if a.Disabled {
		body.Disabled = boolPtr(true)
	}
	return body
}

func PatientDocumentToWire(d *records.PatientDocument) upstream.PatientDocumentBody {
	return upstream.PatientDocumentBody{
		Name:        d.Name,
		ContentType: d.ContentType,
		Content:     d.Content,
	}
}
