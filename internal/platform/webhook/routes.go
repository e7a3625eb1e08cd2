package webhook

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/ehr/pmsync/internal/domain/records"
	"github.com/ehr/pmsync/internal/mapper"
	"github.com/ehr/pmsync/internal/upstream"
)

// ErrNoData is returned for a non-delete event without a record payload.
var ErrNoData = errors.New("event carries no record data")

type handler func(ctx context.Context, store records.Store, practiceID uuid.UUID, ev *inbound) error

// inbound is an event as the handlers see it.
type inbound struct {
	kind       records.Kind
	resourceID string
	payload    []byte
	deleted    bool
}

type route struct {
	prefix string
	kind   records.Kind
	apply  handler
}

// routes are matched by longest event-type prefix.
var routes = []route{
	{"patient.", records.KindPatient, apply(mapper.Patient)},
	{"appointment.", records.KindAppointment, apply(mapper.Appointment)},
	{"appointment_type.", records.KindAppointmentType, apply(mapper.AppointmentType)},
	{"payment.", records.KindPayment, apply(mapper.Payment)},
	{"insurance_plan.", records.KindInsurancePlan, apply(mapper.InsurancePlan)},
	{"insurance.", records.KindInsuranceCoverage, apply(mapper.InsuranceCoverage)},
	{"charge.", records.KindCharge, apply(mapper.Charge)},
	{"provider.", records.KindProvider, apply(mapper.Provider)},
	{"operatory.", records.KindOperatory, apply(mapper.Operatory)},
	{"procedure.", records.KindProcedure, apply(mapper.Procedure)},
	{"adjustment.", records.KindAdjustment, apply(mapper.Adjustment)},
	{"claim.", records.KindClaim, apply(mapper.Claim)},
	{"recall.", records.KindRecall, apply(mapper.Recall)},
	{"treatment_plan.", records.KindTreatmentPlan, apply(mapper.TreatmentPlan)},
	{"working_hour.", records.KindWorkingHour, apply(mapper.WorkingHour)},
}

// lookup returns the route with the longest prefix of eventType.
func lookup(eventType string) (route, bool) {
	var best route
	found := false
	for _, r := range routes {
		if strings.HasPrefix(eventType, r.prefix) && len(r.prefix) > len(best.prefix) {
			best, found = r, true
		}
	}
	return best, found
}

func isDelete(eventType string) bool {
	return strings.HasSuffix(eventType, ".deleted") || strings.HasSuffix(eventType, ".destroyed")
}

// apply decodes and maps the payload, then upserts it. A delete without a
// payload flags the stored row, if any.
func apply[T any, R records.Record](mapFn func(T) (R, error)) handler {
	return func(ctx context.Context, store records.Store, practiceID uuid.UUID, ev *inbound) error {
		if len(ev.payload) == 0 {
			if !ev.deleted {
				return ErrNoData
			}
			return markDeleted(ctx, store, practiceID, ev.kind, ev.resourceID)
		}
		wire, err := upstream.Decode[T](ev.payload)
		if err != nil {
			return err
		}
		rec, err := mapFn(wire)
		if err != nil {
			return err
		}
		if ev.deleted {
			rec.MarkDeleted()
		}
		_, err = store.Upsert(ctx, practiceID, rec)
		return err
	}
}

func markDeleted(ctx context.Context, store records.Store, practiceID uuid.UUID, kind records.Kind, foreignID string) error {
	if foreignID == "" {
		return fmt.Errorf("delete event: %w", ErrNoData)
	}
	row, err := store.GetByForeignID(ctx, practiceID, kind, foreignID)
	if errors.Is(err, records.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	rec, err := records.New(kind)
	if err != nil {
		return err
	}
	if err := row.Decode(rec); err != nil {
		return err
	}
	rec.MarkDeleted()
	_, err = store.Upsert(ctx, practiceID, rec)
	return err
}
