// Package records holds the canonical, practice-local copies of upstream
// practice-system records ("synced entities") and the store that upserts them
// by (practice, kind, foreign id).
package records

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Kind identifies a synced resource type. Every kind is persisted in its own
// table (synced_<kind>).
type Kind string

const (
	KindProvider          Kind = "provider"
	KindOperatory         Kind = "operatory"
	KindPatient           Kind = "patient"
	KindAppointment       Kind = "appointment"
	KindAppointmentType   Kind = "appointment_type"
	KindFeeSchedule       Kind = "fee_schedule"
	KindRecall            Kind = "recall"
	KindInsurancePlan     Kind = "insurance_plan"
	KindInsuranceCoverage Kind = "insurance_coverage"
	KindProcedure         Kind = "procedure"
	KindCharge            Kind = "charge"
	KindPayment           Kind = "payment"
	KindAdjustment        Kind = "adjustment"
	KindGuarantorBalance  Kind = "guarantor_balance"
	KindInsuranceBalance  Kind = "insurance_balance"
	KindTreatmentPlan     Kind = "treatment_plan"
	KindClaim             Kind = "claim"
	KindWorkingHour       Kind = "working_hour"
	KindPatientAlert      Kind = "patient_alert"
	KindPatientDocument   Kind = "patient_document"
)

// AllKinds lists every kind in full-sync dependency order, followed by the
// push-only kinds.
var AllKinds = []Kind{
	KindProvider, KindOperatory, KindPatient, KindAppointment, KindAppointmentType,
	KindFeeSchedule, KindRecall, KindInsurancePlan, KindInsuranceCoverage,
	KindProcedure, KindCharge, KindPayment, KindAdjustment,
	KindGuarantorBalance, KindInsuranceBalance, KindTreatmentPlan, KindClaim,
	KindWorkingHour, KindPatientAlert, KindPatientDocument,
}

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	for _, known := range AllKinds {
		if k == known {
			return true
		}
	}
	return false
}

// Table returns the table name backing the kind.
func (k Kind) Table() string { return "synced_" + string(k) }

// Record is implemented by every canonical entity.
type Record interface {
	Kind() Kind
	ForeignKey() string
	SetForeignKey(id string)
	IsDeleted() bool
	MarkDeleted()
	SourceUpdatedAt() *time.Time
}

// Base carries the fields shared by every canonical entity.
type Base struct {
	ForeignID string     `json:"foreign_id,omitempty"`
	Deleted   bool       `json:"deleted,omitempty"`
	UpdatedAt *time.Time `json:"source_updated_at,omitempty"`
}

func (b *Base) ForeignKey() string          { return b.ForeignID }
func (b *Base) SetForeignKey(id string)     { b.ForeignID = id }
func (b *Base) IsDeleted() bool             { return b.Deleted }
func (b *Base) MarkDeleted()                { b.Deleted = true }
func (b *Base) SourceUpdatedAt() *time.Time { return b.UpdatedAt }

// Row is one stored synced entity.
type Row struct {
	ID         uuid.UUID       `json:"id"`
	PracticeID uuid.UUID       `json:"practice_id"`
	Kind       Kind            `json:"kind"`
	ForeignID  *string         `json:"foreign_id,omitempty"`
	Data       json.RawMessage `json:"data"`
	Deleted    bool            `json:"deleted"`
	// MergedInto is the surviving row when this local row was retired by a
	// foreign-id conflict on push.
	MergedInto *uuid.UUID      `json:"merged_into,omitempty"`
	SyncedAt   *time.Time      `json:"synced_at,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

// Decode unmarshals the row payload into rec.
func (r *Row) Decode(rec Record) error {
	if err := json.Unmarshal(r.Data, rec); err != nil {
		return fmt.Errorf("decode %s %s: %w", r.Kind, r.ID, err)
	}
	if r.ForeignID != nil && rec.ForeignKey() == "" {
		rec.SetForeignKey(*r.ForeignID)
	}
	return nil
}

// AwaitingReconciliation reports whether the row was created locally and has
// not yet received a foreign id. Retired rows never await reconciliation.
func (r *Row) AwaitingReconciliation() bool {
	if r.Deleted {
		return false
	}
	return r.ForeignID == nil || *r.ForeignID == ""
}

// -- Canonical entities --

type Provider struct {
	Base
	FirstName   string  `json:"first_name,omitempty"`
	LastName    string  `json:"last_name,omitempty"`
	DisplayName string  `json:"display_name,omitempty"`
	Email       string  `json:"email,omitempty"`
	NPI         string  `json:"npi,omitempty"`
	Specialty   string  `json:"specialty,omitempty"`
	Inactive    bool    `json:"inactive"`
	LocationIDs []int64 `json:"location_ids,omitempty"`
}

func (*Provider) Kind() Kind { return KindProvider }

type Operatory struct {
	Base
	Name        string `json:"name"`
	DisplayName string `json:"display_name,omitempty"`
	LocationID  string `json:"location_id,omitempty"`
	Active      bool   `json:"active"`
}

func (*Operatory) Kind() Kind { return KindOperatory }

type Patient struct {
	Base
	FirstName         string     `json:"first_name"`
	LastName          string     `json:"last_name"`
	Email             string     `json:"email,omitempty"`
	Phone             string     `json:"phone,omitempty"`
	DateOfBirth       *time.Time `json:"date_of_birth,omitempty"`
	Gender            string     `json:"gender,omitempty"`
	AddressLine1      string     `json:"address_line1,omitempty"`
	City              string     `json:"city,omitempty"`
	State             string     `json:"state,omitempty"`
	PostalCode        string     `json:"postal_code,omitempty"`
	ProviderForeignID string     `json:"provider_foreign_id,omitempty"`
	GuarantorID       string     `json:"guarantor_foreign_id,omitempty"`
	Inactive          bool       `json:"inactive"`
	NewPatient        bool       `json:"new_patient"`
}

func (*Patient) Kind() Kind { return KindPatient }

// Appointment statuses, derived from upstream flags.
const (
	AppointmentCancelled  = "cancelled"
	AppointmentMissed     = "missed"
	AppointmentCheckedOut = "checked_out"
	AppointmentCheckedIn  = "checked_in"
	AppointmentConfirmed  = "confirmed"
	AppointmentScheduled  = "scheduled"
)

type Appointment struct {
	Base
	PatientForeignID         string     `json:"patient_foreign_id,omitempty"`
	ProviderForeignID        string     `json:"provider_foreign_id,omitempty"`
	OperatoryForeignID       string     `json:"operatory_foreign_id,omitempty"`
	AppointmentTypeForeignID string     `json:"appointment_type_foreign_id,omitempty"`
	StartTime                time.Time  `json:"start_time"`
	EndTime                  *time.Time `json:"end_time,omitempty"`
	Status                   string     `json:"status"`
	Confirmed                bool       `json:"confirmed"`
	Cancelled                bool       `json:"cancelled"`
	Missed                   bool       `json:"missed"`
	CheckedInAt              *time.Time `json:"checked_in_at,omitempty"`
	CheckedOutAt             *time.Time `json:"checked_out_at,omitempty"`
	Note                     string     `json:"note,omitempty"`
}

func (*Appointment) Kind() Kind { return KindAppointment }

type AppointmentType struct {
	Base
	Name           string `json:"name"`
	Minutes        int    `json:"minutes"`
	BookableOnline bool   `json:"bookable_online"`
	ParentType     string `json:"parent_type,omitempty"`
}

func (*AppointmentType) Kind() Kind { return KindAppointmentType }

type Fee struct {
	ProcedureCode string          `json:"procedure_code"`
	Amount        decimal.Decimal `json:"amount"`
}

type FeeSchedule struct {
	Base
	Name string `json:"name"`
	Fees []Fee  `json:"fees,omitempty"`
}

func (*FeeSchedule) Kind() Kind { return KindFeeSchedule }

type Recall struct {
	Base
	PatientForeignID string     `json:"patient_foreign_id,omitempty"`
	RecallType       string     `json:"recall_type,omitempty"`
	DueDate          *time.Time `json:"due_date,omitempty"`
	Status           string     `json:"status,omitempty"`
}

func (*Recall) Kind() Kind { return KindRecall }

type InsurancePlan struct {
	Base
	Name        string `json:"name"`
	PayerName   string `json:"payer_name,omitempty"`
	PayerID     string `json:"payer_id,omitempty"`
	GroupNumber string `json:"group_number,omitempty"`
}

func (*InsurancePlan) Kind() Kind { return KindInsurancePlan }

type InsuranceCoverage struct {
	Base
	PatientForeignID       string     `json:"patient_foreign_id,omitempty"`
	InsurancePlanForeignID string     `json:"insurance_plan_foreign_id,omitempty"`
	SubscriberNumber       string     `json:"subscriber_number,omitempty"`
	SubscriberForeignID    string     `json:"subscriber_foreign_id,omitempty"`
	Priority               int        `json:"priority"`
	EffectiveDate          *time.Time `json:"effective_date,omitempty"`
	ExpirationDate         *time.Time `json:"expiration_date,omitempty"`
}

func (*InsuranceCoverage) Kind() Kind { return KindInsuranceCoverage }

type Procedure struct {
	Base
	PatientForeignID     string          `json:"patient_foreign_id,omitempty"`
	ProviderForeignID    string          `json:"provider_foreign_id,omitempty"`
	AppointmentForeignID string          `json:"appointment_foreign_id,omitempty"`
	Code                 string          `json:"code"`
	Description          string          `json:"description,omitempty"`
	Fee                  decimal.Decimal `json:"fee"`
	Status               string          `json:"status,omitempty"`
	ServiceDate          *time.Time      `json:"service_date,omitempty"`
	Tooth                string          `json:"tooth,omitempty"`
	Surface              string          `json:"surface,omitempty"`
}

func (*Procedure) Kind() Kind { return KindProcedure }

type Charge struct {
	Base
	PatientForeignID   string          `json:"patient_foreign_id,omitempty"`
	ProviderForeignID  string          `json:"provider_foreign_id,omitempty"`
	ProcedureForeignID string          `json:"procedure_foreign_id,omitempty"`
	Amount             decimal.Decimal `json:"amount"`
	Description        string          `json:"description,omitempty"`
	ChargedAt          *time.Time      `json:"charged_at,omitempty"`
}

func (*Charge) Kind() Kind { return KindCharge }

type Payment struct {
	Base
	PatientForeignID string          `json:"patient_foreign_id,omitempty"`
	Amount           decimal.Decimal `json:"amount"`
	PaymentType      string          `json:"payment_type,omitempty"`
	PaidAt           *time.Time      `json:"paid_at,omitempty"`
	Note             string          `json:"note,omitempty"`
}

func (*Payment) Kind() Kind { return KindPayment }

type Adjustment struct {
	Base
	PatientForeignID  string          `json:"patient_foreign_id,omitempty"`
	ProviderForeignID string          `json:"provider_foreign_id,omitempty"`
	Amount            decimal.Decimal `json:"amount"`
	AdjustmentType    string          `json:"adjustment_type,omitempty"`
	Description       string          `json:"description,omitempty"`
	AdjustedAt        *time.Time      `json:"adjusted_at,omitempty"`
}

func (*Adjustment) Kind() Kind { return KindAdjustment }

// Balance is shared by the guarantor and insurance balance kinds.
type Balance struct {
	Base
	BalanceKind       Kind            `json:"balance_kind"`
	PatientForeignID  string          `json:"patient_foreign_id,omitempty"`
	Total             decimal.Decimal `json:"total"`
	InsuranceEstimate decimal.Decimal `json:"insurance_estimate"`
	PatientPortion    decimal.Decimal `json:"patient_portion"`
}

func (b *Balance) Kind() Kind {
	if b.BalanceKind == KindInsuranceBalance {
		return KindInsuranceBalance
	}
	return KindGuarantorBalance
}

type TreatmentPlan struct {
	Base
	PatientForeignID    string          `json:"patient_foreign_id,omitempty"`
	Name                string          `json:"name,omitempty"`
	Status              string          `json:"status,omitempty"`
	TotalFee            decimal.Decimal `json:"total_fee"`
	ProcedureForeignIDs []string        `json:"procedure_foreign_ids,omitempty"`
}

func (*TreatmentPlan) Kind() Kind { return KindTreatmentPlan }

type Claim struct {
	Base
	PatientForeignID       string          `json:"patient_foreign_id,omitempty"`
	InsurancePlanForeignID string          `json:"insurance_plan_foreign_id,omitempty"`
	Status                 string          `json:"status,omitempty"`
	BilledAmount           decimal.Decimal `json:"billed_amount"`
	PaidAmount             decimal.Decimal `json:"paid_amount"`
	ServiceDate            *time.Time      `json:"service_date,omitempty"`
	SubmittedAt            *time.Time      `json:"submitted_at,omitempty"`
}

func (*Claim) Kind() Kind { return KindClaim }

type WorkingHour struct {
	Base
	ProviderForeignID  string   `json:"provider_foreign_id,omitempty"`
	OperatoryForeignID string   `json:"operatory_foreign_id,omitempty"`
	Days               []string `json:"days,omitempty"`
	BeginTime          string   `json:"begin_time"`
	EndTime            string   `json:"end_time"`
	Active             bool     `json:"active"`
}

func (*WorkingHour) Kind() Kind { return KindWorkingHour }

type PatientAlert struct {
	Base
	PatientForeignID string `json:"patient_foreign_id,omitempty"`
	Note             string `json:"note"`
	Disabled         bool   `json:"disabled"`
}

func (*PatientAlert) Kind() Kind { return KindPatientAlert }

type PatientDocument struct {
	Base
	PatientForeignID string `json:"patient_foreign_id,omitempty"`
	Name             string `json:"name"`
	ContentType      string `json:"content_type,omitempty"`
	Content          []byte `json:"content,omitempty"`
}

func (*PatientDocument) Kind() Kind { return KindPatientDocument }

// New returns an empty record for kind, used when decoding stored rows.
func New(kind Kind) (Record, error) {
	switch kind {
	case KindProvider:
		return &Provider{}, nil
	case KindOperatory:
		return &Operatory{}, nil
	case KindPatient:
		return &Patient{}, nil
	case KindAppointment:
		return &Appointment{}, nil
	case KindAppointmentType:
		return &AppointmentType{}, nil
	case KindFeeSchedule:
		return &FeeSchedule{}, nil
	case KindRecall:
		return &Recall{}, nil
	case KindInsurancePlan:
		return &InsurancePlan{}, nil
	case KindInsuranceCoverage:
		return &InsuranceCoverage{}, nil
	case KindProcedure:
		return &Procedure{}, nil
	case KindCharge:
		return &Charge{}, nil
	case KindPayment:
		return &Payment{}, nil
	case KindAdjustment:
		return &Adjustment{}, nil
	case KindGuarantorBalance, KindInsuranceBalance:
		return &Balance{BalanceKind: kind}, nil
	case KindTreatmentPlan:
		return &TreatmentPlan{}, nil
	case KindClaim:
		return &Claim{}, nil
	case KindWorkingHour:
		return &WorkingHour{}, nil
	case KindPatientAlert:
		return &PatientAlert{}, nil
	case KindPatientDocument:
		return &PatientDocument{}, nil
	}
	return nil, fmt.Errorf("unknown record kind %q", kind)
}
