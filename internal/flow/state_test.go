package flow

import (
	"encoding/json"
	"testing"
	"time"
)

// TestMergeQualification_AppendOnly verifies an earlier stage never overwrites
// a field a later stage has set, while later stages may refine earlier values.
func TestMergeQualification_AppendOnly(t *testing.T) {
	st := NewState("5584996250203")

	st.MergeQualification(PhaseSolutionPresentation, map[string]string{FieldBudget: "R$ 5.000"})
	st.MergeQualification(PhaseIdentification, map[string]string{FieldBudget: "R$ 100"})

	if v, _ := st.Field(FieldBudget); v != "R$ 5.000" {
		t.Fatalf("earlier phase overwrote budget: %q", v)
	}

	st.MergeQualification(PhaseScheduling, map[string]string{FieldBudget: "R$ 7.000"})
	if v, _ := st.Field(FieldBudget); v != "R$ 7.000" {
		t.Fatalf("later phase failed to refine budget: %q", v)
	}
}

// TestMergeQualification_FreeFormFields verifies discovered attributes merge
// alongside the BANT fields.
func TestMergeQualification_FreeFormFields(t *testing.T) {
	st := NewState("5584996250203")

	st.MergeQualification(PhaseBusinessDiscovery, map[string]string{
		FieldNeed:       "vender mais",
		"employee_count": "12",
	})

	if v, ok := st.Field("employee_count"); !ok || v != "12" {
		t.Fatalf("free-form field lost: %q, %v", v, ok)
	}
}

// TestMergeQualification_EmptyValuesIgnored verifies empty strings never
// clobber existing data.
func TestMergeQualification_EmptyValuesIgnored(t *testing.T) {
	st := NewState("5584996250203")
	st.MergeQualification(PhaseIdentification, map[string]string{FieldName: "João"})
	st.MergeQualification(PhaseScheduling, map[string]string{FieldName: ""})

	if v, _ := st.Field(FieldName); v != "João" {
		t.Fatalf("empty value clobbered name: %q", v)
	}
}

// TestState_SignalHistoryBounded verifies the bot-signal window never grows
// past its cap.
func TestState_SignalHistoryBounded(t *testing.T) {
	st := NewState("5584996250203")
	for i := 0; i < signalHistoryMax*3; i++ {
		st.recordBotObservation(time.Now(), 0.3, []string{"numbered_menu"})
	}
	if len(st.BotDetection.SignalHistory) > signalHistoryMax {
		t.Fatalf("signal history length %d exceeds cap %d",
			len(st.BotDetection.SignalHistory), signalHistoryMax)
	}
}

// TestState_JSONRoundTrip verifies the durable representation survives
// marshal/unmarshal with phases and watermark intact.
func TestState_JSONRoundTrip(t *testing.T) {
	st := NewState("5584996250203")
	st.CurrentPhase = PhaseScheduling
	st.PhaseCompletion = []Phase{PhaseIdentification, PhaseBusinessDiscovery}
	st.LastProcessedMessageID = "MSG-42"
	st.MergeQualification(PhaseIdentification, map[string]string{FieldName: "Ana"})

	data, err := json.Marshal(st)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var back State
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if back.CurrentPhase != PhaseScheduling || back.LastProcessedMessageID != "MSG-42" {
		t.Fatalf("round trip lost fields: %+v", back)
	}
	if !back.HasCompleted(PhaseBusinessDiscovery) {
		t.Fatal("round trip lost phase completion")
	}
	if v, _ := back.Field(FieldName); v != "Ana" {
		t.Fatalf("round trip lost qualification: %q", v)
	}
}
