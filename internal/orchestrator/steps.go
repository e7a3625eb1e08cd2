package orchestrator

import (
	"context"

	"github.com/ehr/pmsync/internal/domain/records"
	"github.com/ehr/pmsync/internal/mapper"
	"github.com/ehr/pmsync/internal/upstream"
)

// simple builds a step that walks one collection without filters.
func simple[T any](kind records.Kind, fetch func(*upstream.Client) fetchFunc[T], mapFn mapFunc[T]) step {
	return step{kind: kind, pull: func(ctx context.Context, r *run) (Tally, error) {
		return paginate(ctx, r, kind, upstream.ListParams{}, fetch(r.client), mapFn, nil)
	}}
}

// changed builds a step that asks for records updated since the run cutoff
// and drops any the upstream returns from before it.
func changed[T any](kind records.Kind, fetch func(*upstream.Client) fetchFunc[T], mapFn mapFunc[T]) step {
	return step{kind: kind, pull: func(ctx context.Context, r *run) (Tally, error) {
		return paginate(ctx, r, kind, upstream.ListParams{UpdatedSince: r.cutoff}, fetch(r.client), mapFn, r.cutoff)
	}}
}

func (o *Orchestrator) fullSteps() []step {
	return []step{
		simple(records.KindProvider, func(c *upstream.Client) fetchFunc[upstream.Provider] { return c.ListProviders }, as(mapper.Provider)),
		simple(records.KindOperatory, func(c *upstream.Client) fetchFunc[upstream.Operatory] { return c.ListOperatories }, as(mapper.Operatory)),
		simple(records.KindPatient, func(c *upstream.Client) fetchFunc[upstream.Patient] { return c.ListPatients }, as(mapper.Patient)),
		{kind: records.KindAppointment, pull: o.pullAppointments},
		simple(records.KindAppointmentType, func(c *upstream.Client) fetchFunc[upstream.AppointmentType] { return c.ListAppointmentTypes }, as(mapper.AppointmentType)),
		simple(records.KindFeeSchedule, func(c *upstream.Client) fetchFunc[upstream.FeeSchedule] { return c.ListFeeSchedules }, as(mapper.FeeSchedule)),
		simple(records.KindRecall, func(c *upstream.Client) fetchFunc[upstream.Recall] { return c.ListRecalls }, as(mapper.Recall)),
		simple(records.KindInsurancePlan, func(c *upstream.Client) fetchFunc[upstream.InsurancePlan] { return c.ListInsurancePlans }, as(mapper.InsurancePlan)),
		{kind: records.KindInsuranceCoverage, pull: o.pullCoverages},
		simple(records.KindProcedure, func(c *upstream.Client) fetchFunc[upstream.Procedure] { return c.ListProcedures }, as(mapper.Procedure)),
		simple(records.KindCharge, func(c *upstream.Client) fetchFunc[upstream.Charge] { return c.ListCharges }, as(mapper.Charge)),
		simple(records.KindPayment, func(c *upstream.Client) fetchFunc[upstream.Payment] { return c.ListPayments }, as(mapper.Payment)),
		simple(records.KindAdjustment, func(c *upstream.Client) fetchFunc[upstream.Adjustment] { return c.ListAdjustments }, as(mapper.Adjustment)),
		simple(records.KindGuarantorBalance, func(c *upstream.Client) fetchFunc[upstream.Balance] { return c.ListGuarantorBalances }, as(mapper.GuarantorBalance)),
		simple(records.KindInsuranceBalance, func(c *upstream.Client) fetchFunc[upstream.Balance] { return c.ListInsuranceBalances }, as(mapper.InsuranceBalance)),
		simple(records.KindTreatmentPlan, func(c *upstream.Client) fetchFunc[upstream.TreatmentPlan] { return c.ListTreatmentPlans }, as(mapper.TreatmentPlan)),
		simple(records.KindClaim, func(c *upstream.Client) fetchFunc[upstream.Claim] { return c.ListClaims }, as(mapper.Claim)),
		simple(records.KindWorkingHour, func(c *upstream.Client) fetchFunc[upstream.WorkingHour] { return c.ListWorkingHours }, as(mapper.WorkingHour)),
	}
}

func (o *Orchestrator) incrementalSteps() []step {
	return []step{
		changed(records.KindPatient, func(c *upstream.Client) fetchFunc[upstream.Patient] { return c.ListPatients }, as(mapper.Patient)),
		{kind: records.KindAppointment, pull: o.pullAppointments},
		changed(records.KindProcedure, func(c *upstream.Client) fetchFunc[upstream.Procedure] { return c.ListProcedures }, as(mapper.Procedure)),
		changed(records.KindCharge, func(c *upstream.Client) fetchFunc[upstream.Charge] { return c.ListCharges }, as(mapper.Charge)),
		{kind: records.KindInsuranceCoverage, pull: o.pullCoverages},
		simple(records.KindRecall, func(c *upstream.Client) fetchFunc[upstream.Recall] { return c.ListRecalls }, as(mapper.Recall)),
		simple(records.KindPayment, func(c *upstream.Client) fetchFunc[upstream.Payment] { return c.ListPayments }, as(mapper.Payment)),
	}
}

// pullAppointments walks the appointment window. A full run covers
// [start, start+window]; an incremental run starts at its cutoff so
// recently changed past visits are included, and filters by update time.
func (o *Orchestrator) pullAppointments(ctx context.Context, r *run) (Tally, error) {
	start := r.started
	end := r.started.Add(o.cfg.AppointmentWindow)
	params := upstream.ListParams{Start: &start, End: &end}
	if r.cutoff != nil {
		from := *r.cutoff
		params.Start = &from
		params.UpdatedSince = r.cutoff
	}
	return paginate(ctx, r, records.KindAppointment, params, r.client.ListAppointments, as(mapper.Appointment), r.cutoff)
}

// pullCoverages tries the bulk endpoint first. Some deployments only
// answer coverage queries per patient, so an empty bulk result falls back
// to one walk per locally known patient.
func (o *Orchestrator) pullCoverages(ctx context.Context, r *run) (Tally, error) {
	mapFn := as(mapper.InsuranceCoverage)
	t, err := paginate(ctx, r, records.KindInsuranceCoverage, upstream.ListParams{}, r.client.ListInsuranceCoverages, mapFn, nil)
	if err != nil || t.seen() > 0 {
		return t, err
	}
	patients, err := r.store.ForeignIDs(ctx, r.practice.ID, records.KindPatient)
	if err != nil {
		return t, err
	}
	for _, id := range patients {
		pt, err := paginate(ctx, r, records.KindInsuranceCoverage, upstream.ListParams{PatientID: id}, r.client.ListInsuranceCoverages, mapFn, nil)
		t.merge(pt)
		if err != nil {
			if ctx.Err() != nil {
				return t, err
			}
			t.note("insurance_coverage for patient %s: %v", id, err)
		}
	}
	return t, nil
}
