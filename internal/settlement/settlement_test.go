package settlement

import (
	"errors"
	"testing"

	"payrecon/internal/common/events"
)

func TestNext(t *testing.T) {
	all := []Action{ActionApprove, ActionReject, ActionHold, ActionMarkPaid}
	allowed := map[Status]map[Action]Status{
		StatusRequested: {ActionApprove: StatusApproved, ActionReject: StatusRejected, ActionHold: StatusOnHold},
		StatusApproved:  {ActionMarkPaid: StatusPaid, ActionHold: StatusOnHold},
		StatusOnHold:    {ActionApprove: StatusApproved, ActionReject: StatusRejected},
		StatusPaid:      {},
		StatusRejected:  {},
	}

	for from, table := range allowed {
		for _, a := range all {
			t.Run(string(from)+"/"+string(a), func(t *testing.T) {
				to, err := Next(from, a)
				want, ok := table[a]
				if ok {
					if err != nil || to != want {
						t.Errorf("Next = %s, %v; want %s", to, err, want)
					}
					return
				}
				if !errors.Is(err, ErrInvalidTransition) {
					t.Errorf("err = %v, want ErrInvalidTransition", err)
				}
			})
		}
	}
}

func TestTerminalAndBlocking(t *testing.T) {
	for _, s := range []Status{StatusPaid, StatusRejected} {
		if !s.Terminal() {
			t.Errorf("%s not terminal", s)
		}
	}
	for _, s := range []Status{StatusRequested, StatusApproved, StatusOnHold, StatusPaid} {
		if !s.Blocking() {
			t.Errorf("%s not blocking", s)
		}
	}
	if StatusRejected.Blocking() {
		t.Error("rejected settlements must release their bookings")
	}
}

func TestParse(t *testing.T) {
	if s, err := ParseStatus("pending"); err != nil || s != StatusRequested {
		t.Errorf("pending = %s, %v", s, err)
	}
	if _, err := ParseStatus("settled"); err == nil {
		t.Error("unknown status accepted")
	}
	if _, err := ParseAction("markpaid"); !errors.Is(err, ErrUnknownAction) {
		t.Errorf("ParseAction is case sensitive: %v", err)
	}
}

func TestEventFor(t *testing.T) {
	want := map[Status]string{
		StatusRequested: events.EventSettlementRequested,
		StatusApproved:  events.EventSettlementApproved,
		StatusRejected:  events.EventSettlementRejected,
		StatusOnHold:    events.EventSettlementOnHold,
		StatusPaid:      events.EventSettlementPaid,
	}
	for s, typ := range want {
		if got, ok := eventFor(s); !ok || got != typ {
			t.Errorf("eventFor(%s) = %q, %v", s, got, ok)
		}
	}
	if got, ok := eventFor(Status("disputed")); ok {
		t.Errorf("unknown status mapped to %q", got)
	}
}
