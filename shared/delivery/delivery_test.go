package delivery

import (
	"testing"

	"github.com/incyashraj/ParkShare-sub000/shared/model"
)

func TestAdvance(t *testing.T) {
	tests := []struct {
		current model.MessageStatus
		next    model.MessageStatus
		want    model.MessageStatus
		changed bool
	}{
		{model.StatusSending, model.StatusSent, model.StatusSent, true},
		{model.StatusSending, model.StatusFailed, model.StatusFailed, true},
		{model.StatusSending, model.StatusRead, model.StatusRead, true},
		{model.StatusSent, model.StatusDelivered, model.StatusDelivered, true},
		{model.StatusSent, model.StatusRead, model.StatusRead, true},
		{model.StatusDelivered, model.StatusRead, model.StatusRead, true},
		{model.StatusDelivered, model.StatusSent, model.StatusDelivered, false},
		{model.StatusRead, model.StatusDelivered, model.StatusRead, false},
		{model.StatusRead, model.StatusFailed, model.StatusRead, false},
		{model.StatusSent, model.StatusSending, model.StatusSent, false},
		{model.StatusFailed, model.StatusSent, model.StatusFailed, false},
		{model.StatusFailed, model.StatusSending, model.StatusFailed, false},
		{model.StatusSent, model.MessageStatus("bogus"), model.StatusSent, false},
		{model.StatusSent, model.StatusSent, model.StatusSent, false},
	}

	for _, tt := range tests {
		got, changed := Advance(tt.current, tt.next)
		if got != tt.want || changed != tt.changed {
			t.Errorf("Advance(%s, %s) = (%s, %v), want (%s, %v)",
				tt.current, tt.next, got, changed, tt.want, tt.changed)
		}
	}
}

func TestRetry(t *testing.T) {
	if s, ok := Retry(model.StatusFailed); !ok || s != model.StatusSending {
		t.Errorf("Retry(failed) = (%s, %v)", s, ok)
	}
	for _, s := range []model.MessageStatus{model.StatusSending, model.StatusSent, model.StatusRead} {
		if got, ok := Retry(s); ok || got != s {
			t.Errorf("Retry(%s) should be a no-op", s)
		}
	}
}

func TestMonotonicSequence(t *testing.T) {
	s := model.StatusSending
	for _, next := range []model.MessageStatus{
		model.StatusSent, model.StatusRead, model.StatusDelivered, model.StatusSent,
	} {
		s, _ = Advance(s, next)
	}
	if s != model.StatusRead {
		t.Errorf("expected read after out-of-order updates, got %s", s)
	}
	if !Terminal(s) {
		t.Error("read should be terminal")
	}
}

func TestMax(t *testing.T) {
	if Max(model.StatusDelivered, model.StatusSent) != model.StatusDelivered {
		t.Error("Max should keep the later status")
	}
	if Max(model.StatusSent, model.StatusRead) != model.StatusRead {
		t.Error("Max should pick read")
	}
}
