package metrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestGetReturnsSingleton(t *testing.T) {
	a := Get()
	b := Get()
	if a != b {
		t.Fatal("Get() must return the same registry")
	}
}

func TestRecordCommand(t *testing.T) {
	r := Get()

	before := testutil.ToFloat64(r.CommandsTotal.WithLabelValues("iptables", "add", "ok"))
	r.RecordCommand("iptables", "add", nil)
	after := testutil.ToFloat64(r.CommandsTotal.WithLabelValues("iptables", "add", "ok"))
	if after != before+1 {
		t.Errorf("ok counter = %v, want %v", after, before+1)
	}

	beforeErr := testutil.ToFloat64(r.CommandsTotal.WithLabelValues("iptables", "add", "error"))
	r.RecordCommand("iptables", "add", errors.New("exit status 1"))
	afterErr := testutil.ToFloat64(r.CommandsTotal.WithLabelValues("iptables", "add", "error"))
	if afterErr != beforeErr+1 {
		t.Errorf("error counter = %v, want %v", afterErr, beforeErr+1)
	}
}

func TestOpenHolesGauge(t *testing.T) {
	r := Get()
	r.OpenHoles.WithLabelValues("tcp").Set(3)
	if got := testutil.ToFloat64(r.OpenHoles.WithLabelValues("tcp")); got != 3 {
		t.Errorf("open holes gauge = %v, want 3", got)
	}
}
