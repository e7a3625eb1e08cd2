package upstream

// Wire shapes of upstream records. Several concepts exist under more than
// one field name because the API renamed or nested them between versions;
// both variants are decoded here and the mapper decides which wins.

// Meta holds the fields every record carries.
type Meta struct {
	ID           FlexID `json:"id" validate:"required"`
	UpdatedAt    string `json:"updated_at,omitempty"`
	LastModified string `json:"last_modified,omitempty"`
	Deleted      bool   `json:"deleted,omitempty"`
}

// Identifier returns the record's upstream id.
func (m Meta) Identifier() string { return m.ID.String() }

// Amount is the nested money object used by newer endpoints.
type Amount struct {
	Amount   Money  `json:"amount,omitempty"`
	Currency string `json:"currency,omitempty"`
}

// Ref is a nested reference to another record.
type Ref struct {
	ID FlexID `json:"id"`
}

type Provider struct {
	Meta
	FirstName   string   `json:"first_name"`
	LastName    string   `json:"last_name"`
	DisplayName string   `json:"display_name"`
	Name        string   `json:"name"`
	Email       string   `json:"email"`
	NPI         string   `json:"npi"`
	Specialty   string   `json:"specialty"`
	Inactive    FlexBool `json:"inactive"`
	LocationIDs []int64  `json:"location_ids"`
}

type Operatory struct {
	Meta
	Name        string    `json:"name"`
	DisplayName string    `json:"display_name"`
	LocationID  FlexID    `json:"location_id"`
	Active      *FlexBool `json:"active"`
}

type PatientBio struct {
	DateOfBirth     string `json:"date_of_birth,omitempty"`
	Gender          string `json:"gender,omitempty"`
	PhoneNumber     string `json:"phone_number,omitempty"`
	CellPhoneNumber string `json:"cell_phone_number,omitempty"`
	HomePhoneNumber string `json:"home_phone_number,omitempty"`
	AddressLine1    string `json:"address_line_1,omitempty"`
	City            string `json:"city,omitempty"`
	State           string `json:"state,omitempty"`
	ZipCode         string `json:"zip_code,omitempty"`
	NewPatient      *bool  `json:"new_patient,omitempty"`
}

type Patient struct {
	Meta
	FirstName   string      `json:"first_name"`
	LastName    string      `json:"last_name"`
	Email       string      `json:"email"`
	Bio         *PatientBio `json:"bio"`
	ProviderID  FlexID      `json:"provider_id"`
	GuarantorID FlexID      `json:"guarantor_id"`
	Inactive    FlexBool    `json:"inactive"`

	// Flat fields from the older schema.
	DateOfBirth  string   `json:"date_of_birth"`
	Gender       string   `json:"gender"`
	PhoneNumber  string   `json:"phone_number"`
	Address      string   `json:"address"`
	City         string   `json:"city"`
	State        string   `json:"state"`
	PostalCode   string   `json:"postal_code"`
	NewPatient   FlexBool `json:"new_patient"`
	Provider     *Ref     `json:"provider"`
	PrimaryEmail string   `json:"email_address"`
}

type Appointment struct {
	Meta
	PatientID         FlexID   `json:"patient_id"`
	ProviderID        FlexID   `json:"provider_id"`
	OperatoryID       FlexID   `json:"operatory_id"`
	AppointmentTypeID FlexID   `json:"appointment_type_id"`
	StartTime         string   `json:"start_time"`
	EndTime           string   `json:"end_time"`
	Confirmed         FlexBool `json:"confirmed"`
	Cancelled         FlexBool `json:"cancelled"`
	Missed            FlexBool `json:"missed"`
	CheckinAt         string   `json:"checkin_at"`
	CheckedOut        FlexBool `json:"checked_out"`
	CheckedOutAt      string   `json:"checked_out_at"`
	Note              string   `json:"note"`

	// Older schema.
	Start         string   `json:"start"`
	End           string   `json:"end"`
	Canceled      FlexBool `json:"canceled"`
	PatientMissed FlexBool `json:"patient_missed"`
	Notes         string   `json:"notes"`
}

type AppointmentType struct {
	Meta
	Name           string   `json:"name"`
	Minutes        int      `json:"minutes"`
	Duration       int      `json:"duration"`
	BookableOnline FlexBool `json:"bookable_online"`
	ParentType     string   `json:"parent_type"`
}

type WireFee struct {
	ProcedureCode string `json:"procedure_code"`
	Code          string `json:"code"`
	Amount        Money  `json:"amount"`
}

type FeeSchedule struct {
	Meta
	Name string    `json:"name"`
	Fees []WireFee `json:"fees"`
}

type Recall struct {
	Meta
	PatientID  FlexID `json:"patient_id"`
	RecallType string `json:"recall_type"`
	Type       string `json:"type"`
	DateDue    string `json:"date_due"`
	DueDate    string `json:"due_date"`
	Status     string `json:"status"`
}

type Payer struct {
	ID   FlexID `json:"id"`
	Name string `json:"name"`
}

type InsurancePlan struct {
	Meta
	Name        string `json:"name"`
	Payer       *Payer `json:"payer"`
	GroupNum    string `json:"group_num"`
	PayerName   string `json:"payer_name"`
	PayerID     string `json:"payer_id"`
	GroupNumber string `json:"group_number"`
}

type InsuranceCoverage struct {
	Meta
	PatientID        FlexID `json:"patient_id"`
	InsurancePlanID  FlexID `json:"insurance_plan_id"`
	PlanID           FlexID `json:"plan_id"`
	SubscriberNum    string `json:"subscriber_num"`
	SubscriberNumber string `json:"subscriber_number"`
	SubscriberID     FlexID `json:"subscriber_id"`
	Priority         int    `json:"priority"`
	EffectiveDate    string `json:"effective_date"`
	ExpirationDate   string `json:"expiration_date"`
}

type Procedure struct {
	Meta
	PatientID     FlexID  `json:"patient_id"`
	ProviderID    FlexID  `json:"provider_id"`
	AppointmentID FlexID  `json:"appointment_id"`
	Code          string  `json:"code"`
	Description   string  `json:"description"`
	Fee           *Amount `json:"fee"`
	Status        string  `json:"status"`
	StartDate     string  `json:"start_date"`
	Tooth         string  `json:"tooth"`
	Surface       string  `json:"surface"`

	ProcedureCode string `json:"procedure_code"`
	Price         Money  `json:"price"`
	ServiceDate   string `json:"service_date"`
}

type Charge struct {
	Meta
	PatientID       FlexID `json:"patient_id"`
	ProviderID      FlexID `json:"provider_id"`
	ProcedureID     FlexID `json:"procedure_id"`
	Amount          Money  `json:"amount"`
	Description     string `json:"description"`
	TransactionDate string `json:"transaction_date"`
	ChargedAt       string `json:"charged_at"`
}

type Payment struct {
	Meta
	PatientID       FlexID `json:"patient_id"`
	Amount          Money  `json:"amount"`
	PaymentType     string `json:"payment_type"`
	TypeName        string `json:"type_name"`
	TransactionDate string `json:"transaction_date"`
	PaymentDate     string `json:"payment_date"`
	Note            string `json:"note"`
	Description     string `json:"description"`
}

type Adjustment struct {
	Meta
	PatientID       FlexID `json:"patient_id"`
	ProviderID      FlexID `json:"provider_id"`
	Amount          Money  `json:"amount"`
	AdjustmentType  string `json:"adjustment_type"`
	TypeName        string `json:"type_name"`
	Description     string `json:"description"`
	TransactionDate string `json:"transaction_date"`
	AdjustmentDate  string `json:"adjustment_date"`
}

// Balance is returned by both the guarantor and insurance balance endpoints.
type Balance struct {
	Meta
	PatientID         FlexID `json:"patient_id"`
	GuarantorID       FlexID `json:"guarantor_id"`
	Balance           Money  `json:"balance"`
	Total             Money  `json:"total"`
	InsuranceEstimate Money  `json:"insurance_estimate"`
	PatientPortion    Money  `json:"patient_portion"`
}

type TreatmentPlan struct {
	Meta
	PatientID    FlexID   `json:"patient_id"`
	Name         string   `json:"name"`
	Status       string   `json:"status"`
	TotalFee     Money    `json:"total_fee"`
	Procedures   []Ref    `json:"procedures"`
	ProcedureIDs []FlexID `json:"procedure_ids"`
}

type Claim struct {
	Meta
	PatientID       FlexID `json:"patient_id"`
	InsurancePlanID FlexID `json:"insurance_plan_id"`
	Status          string `json:"status"`
	BilledAmount    Money  `json:"billed_amount"`
	PaidAmount      Money  `json:"paid_amount"`
	TotalBilled     Money  `json:"total_billed"`
	TotalPaid       Money  `json:"total_paid"`
	ServiceDate     string `json:"service_date"`
	SubmittedAt     string `json:"submitted_at"`
	SentAt          string `json:"sent_at"`
}

type WorkingHour struct {
	Meta
	ProviderID  FlexID    `json:"provider_id"`
	OperatoryID FlexID    `json:"operatory_id"`
	Days        []string  `json:"days"`
	BeginTime   string    `json:"begin_time"`
	EndTime     string    `json:"end_time"`
	Active      *FlexBool `json:"active"`
}

type PatientAlert struct {
	Meta
	PatientID FlexID   `json:"patient_id"`
	Note      string   `json:"note"`
	Disabled  FlexBool `json:"disabled"`
}

type PatientDocument struct {
	Meta
	PatientID   FlexID `json:"patient_id"`
	Name        string `json:"name"`
	ContentType string `json:"content_type"`
	URL         string `json:"url"`
}

// ---------------------------------------------------------------------------
// Request bodies
// ---------------------------------------------------------------------------
//
// Optional fields are omitted, never sent as null.

type AppointmentBody struct {
	PatientID         string `json:"patient_id,omitempty"`
	ProviderID        string `json:"provider_id,omitempty"`
	OperatoryID       string `json:"operatory_id,omitempty"`
	AppointmentTypeID string `json:"appointment_type_id,omitempty"`
	StartTime         string `json:"start_time,omitempty"`
	EndTime           string `json:"end_time,omitempty"`
	Note              string `json:"note,omitempty"`
	Confirmed         *bool  `json:"confirmed,omitempty"`
	Cancelled         *bool  `json:"cancelled,omitempty"`
}

type AppointmentRequest struct {
	Appt AppointmentBody `json:"appt"`
}

type PatientBody struct {
	FirstName  string      `json:"first_name,omitempty"`
	LastName   string      `json:"last_name,omitempty"`
	Email      string      `json:"email,omitempty"`
	ProviderID string      `json:"provider_id,omitempty"`
	Bio        *PatientBio `json:"bio,omitempty"`
}

type PatientRequest struct {
	Patient PatientBody `json:"patient"`
}

type PaymentBody struct {
	PatientID       string `json:"patient_id,omitempty"`
	Amount          Money  `json:"amount,omitempty"`
	PaymentType     string `json:"payment_type,omitempty"`
	TransactionDate string `json:"transaction_date,omitempty"`
	Note            string `json:"note,omitempty"`
}

type PaymentRequest struct {
	Payment PaymentBody `json:"payment"`
}

type AdjustmentBody struct {
	PatientID       string `json:"patient_id,omitempty"`
	ProviderID      string `json:"provider_id,omitempty"`
	Amount          Money  `json:"amount,omitempty"`
	AdjustmentType  string `json:"adjustment_type,omitempty"`
	Description     string `json:"description,omitempty"`
	TransactionDate string `json:"transaction_date,omitempty"`
}

type AdjustmentRequest struct {
	Adjustment AdjustmentBody `json:"adjustment"`
}

type AppointmentTypeBody struct {
	Name           string `json:"name,omitempty"`
	Minutes        int    `json:"minutes,omitempty"`
	BookableOnline *bool  `json:"bookable_online,omitempty"`
	ParentType     string `json:"parent_type,omitempty"`
}

type AppointmentTypeRequest struct {
	AppointmentType AppointmentTypeBody `json:"appointment_type"`
}

type WorkingHourBody struct {
	ProviderID  string   `json:"provider_id,omitempty"`
	OperatoryID string   `json:"operatory_id,omitempty"`
	Days        []string `json:"days,omitempty"`
	BeginTime   string   `json:"begin_time,omitempty"`
	EndTime     string   `json:"end_time,omitempty"`
	Active      *bool    `json:"active,omitempty"`
}

type WorkingHourRequest struct {
	WorkingHour WorkingHourBody `json:"working_hour"`
}

type PatientAlertBody struct {
	Note     string `json:"note"`
	Disabled *bool  `json:"disabled,omitempty"`
}

type PatientAlertRequest struct {
	PatientAlert PatientAlertBody `json:"patient_alert"`
}

type PatientDocumentBody struct {
	Name        string `json:"name"`
	ContentType string `json:"content_type,omitempty"`
	Content     []byte `json:"content,omitempty"`
}

type PatientDocumentRequest struct {
	Document PatientDocumentBody `json:"document"`
}
