package mapper

import (
	"fmt"

	"github.com/ehr/pmsync/internal/domain/records"
	"github.com/ehr/pmsync/internal/upstream"
)

func Provider(w upstream.Provider) (*records.Provider, error) {
	b, err := base(records.KindProvider, w.Meta)
	if err != nil {
		return nil, err
	}
	p := &records.Provider{
		Base:        b,
		FirstName:   firstNonEmpty(w.FirstName),
		LastName:    firstNonEmpty(w.LastName),
		DisplayName: firstNonEmpty(w.DisplayName, w.Name),
		Email:       firstNonEmpty(w.Email),
		NPI:         firstNonEmpty(w.NPI),
		Specialty:   firstNonEmpty(w.Specialty),
		Inactive:    bool(w.Inactive),
		LocationIDs: w.LocationIDs,
	}
	if p.DisplayName == "" {
		p.DisplayName = firstNonEmpty(p.FirstName + " " + p.LastName)
	}
	return p, nil
}

func Operatory(w upstream.Operatory) (*records.Operatory, error) {
	b, err := base(records.KindOperatory, w.Meta)
	if err != nil {
		return nil, err
	}
	active := true
	if w.Active != nil {
		active = bool(*w.Active)
	}
	return &records.Operatory{
		Base:        b,
		Name:        firstNonEmpty(w.Name, w.DisplayName),
		DisplayName: firstNonEmpty(w.DisplayName, w.Name),
		LocationID:  firstID(w.LocationID),
		Active:      active,
	}, nil
}

func Patient(w upstream.Patient) (*records.Patient, error) {
	b, err := base(records.KindPatient, w.Meta)
	if err != nil {
		return nil, err
	}
	bio := w.Bio
	if bio == nil {
		bio = &upstream.PatientBio{}
	}
	var providerRef upstream.FlexID
	if w.Provider != nil {
		providerRef = w.Provider.ID
	}
	newPatient := bool(w.NewPatient)
	if bio.NewPatient != nil {
		newPatient = *bio.NewPatient
	}
	return &records.Patient{
		Base:              b,
		FirstName:         firstNonEmpty(w.FirstName),
		LastName:          firstNonEmpty(w.LastName),
		Email:             firstNonEmpty(w.Email, w.PrimaryEmail),
		Phone:             firstNonEmpty(bio.CellPhoneNumber, bio.PhoneNumber, bio.HomePhoneNumber, w.PhoneNumber),
		DateOfBirth:       firstTime(bio.DateOfBirth, w.DateOfBirth),
		Gender:            firstNonEmpty(bio.Gender, w.Gender),
		AddressLine1:      firstNonEmpty(bio.AddressLine1, w.Address),
		City:              firstNonEmpty(bio.City, w.City),
		State:             firstNonEmpty(bio.State, w.State),
		PostalCode:        firstNonEmpty(bio.ZipCode, w.PostalCode),
		ProviderForeignID: firstID(w.ProviderID, providerRef),
		GuarantorID:       firstID(w.GuarantorID),
		Inactive:          bool(w.Inactive),
		NewPatient:        newPatient,
	}, nil
}

// Appointment requires a parseable start time.
func Appointment(w upstream.Appointment) (*records.Appointment, error) {
	b, err := base(records.KindAppointment, w.Meta)
	if err != nil {
		return nil, err
	}
	startRaw := firstNonEmpty(w.StartTime, w.Start)
	if startRaw == "" {
		return nil, fmt.Errorf("appointment %s: missing start time", b.ForeignID)
	}
	start, err := parseTime(startRaw)
	if err != nil {
		return nil, fmt.Errorf("appointment %s: %w", b.ForeignID, err)
	}

	cancelled := bool(w.Cancelled) || bool(w.Canceled)
	missed := bool(w.Missed) || bool(w.PatientMissed)
	checkedInAt := firstTime(w.CheckinAt)
	checkedOutAt := firstTime(w.CheckedOutAt)
	checkedOut := bool(w.CheckedOut) || checkedOutAt != nil

	return &records.Appointment{
		Base:                     b,
		PatientForeignID:         firstID(w.PatientID),
		ProviderForeignID:        firstID(w.ProviderID),
		OperatoryForeignID:       firstID(w.OperatoryID),
		AppointmentTypeForeignID: firstID(w.AppointmentTypeID),
		StartTime:                start,
		EndTime:                  firstTime(w.EndTime, w.End),
		Status:                   AppointmentStatus(cancelled, missed, checkedOut, checkedInAt != nil, bool(w.Confirmed)),
		Confirmed:                bool(w.Confirmed),
		Cancelled:                cancelled,
		Missed:                   missed,
		CheckedInAt:              checkedInAt,
		CheckedOutAt:             checkedOutAt,
		Note:                     firstNonEmpty(w.Note, w.Notes),
	}, nil
}

func AppointmentType(w upstream.AppointmentType) (*records.AppointmentType, error) {
	b, err := base(records.KindAppointmentType, w.Meta)
	if err != nil {
		return nil, err
	}
	minutes := w.Minutes
	if minutes == 0 {
		minutes = w.Duration
	}
	return &records.AppointmentType{
		Base:           b,
		Name:           firstNonEmpty(w.Name),
		Minutes:        minutes,
		BookableOnline: bool(w.BookableOnline),
		ParentType:     firstNonEmpty(w.ParentType),
	}, nil
}

func FeeSchedule(w upstream.FeeSchedule) (*records.FeeSchedule, error) {
	b, err := base(records.KindFeeSchedule, w.Meta)
	if err != nil {
		return nil, err
	}
	fs := &records.FeeSchedule{Base: b, Name: firstNonEmpty(w.Name)}
	for _, f := range w.Fees {
		code := firstNonEmpty(f.ProcedureCode, f.Code)
		if code == "" {
			continue
		}
		fs.Fees = append(fs.Fees, records.Fee{ProcedureCode: code, Amount: ParseMoney(f.Amount)})
	}
	return fs, nil
}

func Recall(w upstream.Recall) (*records.Recall, error) {
	b, err := base(records.KindRecall, w.Meta)
	if err != nil {
		return nil, err
	}
	return &records.Recall{
		Base:             b,
		PatientForeignID: firstID(w.PatientID),
		RecallType:       firstNonEmpty(w.RecallType, w.Type),
		DueDate:          firstTime(w.DateDue, w.DueDate),
		Status:           firstNonEmpty(w.Status),
	}, nil
}

func InsurancePlan(w upstream.InsurancePlan) (*records.InsurancePlan, error) {
	b, err := base(records.KindInsurancePlan, w.Meta)
	if err != nil {
		return nil, err
	}
	payer := w.Payer
	if payer == nil {
		payer = &upstream.Payer{}
	}
	return &records.InsurancePlan{
		Base:        b,
		Name:        firstNonEmpty(w.Name),
		PayerName:   firstNonEmpty(payer.Name, w.PayerName),
		PayerID:     firstNonEmpty(string(payer.ID), w.PayerID),
		GroupNumber: firstNonEmpty(w.GroupNum, w.GroupNumber),
	}, nil
}

func InsuranceCoverage(w upstream.InsuranceCoverage) (*records.InsuranceCoverage, error) {
	b, err := base(records.KindInsuranceCoverage, w.Meta)
	if err != nil {
		return nil, err
	}
	return &records.InsuranceCoverage{
		Base:                   b,
		PatientForeignID:       firstID(w.PatientID),
		InsurancePlanForeignID: firstID(w.InsurancePlanID, w.PlanID),
		SubscriberNumber:       firstNonEmpty(w.SubscriberNum, w.SubscriberNumber),
		SubscriberForeignID:    firstID(w.SubscriberID),
		Priority:               w.Priority,
		EffectiveDate:          firstTime(w.EffectiveDate),
		ExpirationDate:         firstTime(w.ExpirationDate),
	}, nil
}

func Procedure(w upstream.Procedure) (*records.Procedure, error) {
	b, err := base(records.KindProcedure, w.Meta)
	if err != nil {
		return nil, err
	}
	var fee upstream.Money
	if w.Fee != nil {
		fee = w.Fee.Amount
	}
	return &records.Procedure{
		Base:                 b,
		PatientForeignID:     firstID(w.PatientID),
		ProviderForeignID:    firstID(w.ProviderID),
		AppointmentForeignID: firstID(w.AppointmentID),
		Code:                 firstNonEmpty(w.Code, w.ProcedureCode),
		Description:          firstNonEmpty(w.Description),
		Fee:                  firstMoney(fee, w.Price),
		Status:               firstNonEmpty(w.Status),
		ServiceDate:          firstTime(w.StartDate, w.ServiceDate),
		Tooth:                firstNonEmpty(w.Tooth),
		Surface:              firstNonEmpty(w.Surface),
	}, nil
}

func Charge(w upstream.Charge) (*records.Charge, error) {
	b, err := base(records.KindCharge, w.Meta)
	if err != nil {
		return nil, err
	}
	return &records.Charge{
		Base:               b,
		PatientForeignID:   firstID(w.PatientID),
		ProviderForeignID:  firstID(w.ProviderID),
		ProcedureForeignID: firstID(w.ProcedureID),
		Amount:             ParseMoney(w.Amount),
		Description:        firstNonEmpty(w.Description),
		ChargedAt:          firstTime(w.TransactionDate, w.ChargedAt),
	}, nil
}

func Payment(w upstream.Payment) (*records.Payment, error) {
	b, err := base(records.KindPayment, w.Meta)
	if err != nil {
		return nil, err
	}
	return &records.Payment{
		Base:             b,
		PatientForeignID: firstID(w.PatientID),
		Amount:           ParseMoney(w.Amount),
		PaymentType:      firstNonEmpty(w.PaymentType, w.TypeName),
		PaidAt:           firstTime(w.TransactionDate, w.PaymentDate),
		Note:             firstNonEmpty(w.Note, w.Description),
	}, nil
}

func Adjustment(w upstream.Adjustment) (*records.Adjustment, error) {
	b, err := base(records.KindAdjustment, w.Meta)
	if err != nil {
		return nil, err
	}
	return &records.Adjustment{
		Base:              b,
		PatientForeignID:  firstID(w.PatientID),
		ProviderForeignID: firstID(w.ProviderID),
		Amount:            ParseMoney(w.Amount),
		AdjustmentType:    firstNonEmpty(w.AdjustmentType, w.TypeName),
		Description:       firstNonEmpty(w.Description),
		AdjustedAt:        firstTime(w.TransactionDate, w.AdjustmentDate),
	}, nil
}

func balance(kind records.Kind, w upstream.Balance) (*records.Balance, error) {
	b, err := base(kind, w.Meta)
	if err != nil {
		return nil, err
	}
	return &records.Balance{
		Base:              b,
		BalanceKind:       kind,
		PatientForeignID:  firstID(w.PatientID, w.GuarantorID),
		Total:             firstMoney(w.Balance, w.Total),
		InsuranceEstimate: ParseMoney(w.InsuranceEstimate),
		PatientPortion:    ParseMoney(w.PatientPortion),
	}, nil
}

func GuarantorBalance(w upstream.Balance) (*records.Balance, error) {
	return balance(records.KindGuarantorBalance, w)
}

func InsuranceBalance(w upstream.Balance) (*records.Balance, error) {
	return balance(records.KindInsuranceBalance, w)
}

func TreatmentPlan(w upstream.TreatmentPlan) (*records.TreatmentPlan, error) {
	b, err := base(records.KindTreatmentPlan, w.Meta)
	if err != nil {
		return nil, err
	}
	tp := &records.TreatmentPlan{
		Base:             b,
		PatientForeignID: firstID(w.PatientID),
		Name:             firstNonEmpty(w.Name),
		Status:           firstNonEmpty(w.Status),
		TotalFee:         ParseMoney(w.TotalFee),
	}
	for _, ref := range w.Procedures {
		if id := firstID(ref.ID); id != "" {
			tp.ProcedureForeignIDs = append(tp.ProcedureForeignIDs, id)
		}
	}
	if len(tp.ProcedureForeignIDs) == 0 {
		for _, ref := range w.ProcedureIDs {
			if id := firstID(ref); id != "" {
				tp.ProcedureForeignIDs = append(tp.ProcedureForeignIDs, id)
			}
		}
	}
	return tp, nil
}

func Claim(w upstream.Claim) (*records.Claim, error) {
	b, err := base(records.KindClaim, w.Meta)
	if err != nil {
		return nil, err
	}
	return &records.Claim{
		Base:                   b,
		PatientForeignID:       firstID(w.PatientID),
		InsurancePlanForeignID: firstID(w.InsurancePlanID),
		Status:                 firstNonEmpty(w.Status),
		BilledAmount:           firstMoney(w.BilledAmount, w.TotalBilled),
		PaidAmount:             firstMoney(w.PaidAmount, w.TotalPaid),
		ServiceDate:            firstTime(w.ServiceDate),
		SubmittedAt:            firstTime(w.SubmittedAt, w.SentAt),
	}, nil
}

func WorkingHour(w upstream.WorkingHour) (*records.WorkingHour, error) {
	b, err := base(records.KindWorkingHour, w.Meta)
	if err != nil {
		return nil, err
	}
	active := true
	if w.Active != nil {
		active = bool(*w.Active)
	}
	return &records.WorkingHour{
		Base:               b,
		ProviderForeignID:  firstID(w.ProviderID),
		OperatoryForeignID: firstID(w.OperatoryID),
		Days:               w.Days,
		BeginTime:          firstNonEmpty(w.BeginTime),
		EndTime:            firstNonEmpty(w.EndTime),
		Active:             active,
	}, nil
}

func PatientAlert(w upstream.PatientAlert) (*records.PatientAlert, error) {
	b, err := base(records.KindPatientAlert, w.Meta)
	if err != nil {
		return nil, err
	}
	return &records.PatientAlert{
		Base:             b,
		PatientForeignID: firstID(w.PatientID),
		Note:             w.Note,
		Disabled:         bool(w.Disabled),
	}, nil
}

// PatientDocument maps document metadata; the API never returns content.
func PatientDocument(w upstream.PatientDocument) (*records.PatientDocument, error) {
	b, err := base(records.KindPatientDocument, w.Meta)
	if err != nil {
		return nil, err
	}
	return &records.PatientDocument{
		Base:             b,
		PatientForeignID: firstID(w.PatientID),
		Name:             firstNonEmpty(w.Name),
		ContentType:      firstNonEmpty(w.ContentType),
	}, nil
}
