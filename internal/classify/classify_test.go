package classify

import (
	"errors"
	"reflect"
	"testing"
)

func TestInterpretMapsLabelsAndTruncates(t *testing.T) {
	labelMap := map[int]string{0: "background", 1: "squirrel", 2: "jay"}
	raw := []RawClass{
		{ClassID: 1, Score: 0.9},
		{ClassID: 2, Score: 0.05},
		{ClassID: 0, Score: 0.03},
	}

	got, err := Interpret(raw, labelMap, 2)
	if err != nil {
		t.Fatalf("Interpret: %v", err)
	}
	want := []Class{
		{Label: "squirrel", Score: 0.9},
		{Label: "jay", Score: 0.05},
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Interpret = %v, want %v", got, want)
	}
}

func TestInterpretTopKLargerThanResult(t *testing.T) {
	labelMap := map[int]string{1: "squirrel"}
	got, err := Interpret([]RawClass{{ClassID: 1, Score: 0.9}}, labelMap, 3)
	if err != nil {
		t.Fatalf("Interpret: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("len = %d, want 1", len(got))
	}
}

func TestInterpretEmptyResult(t *testing.T) {
	got, err := Interpret(nil, map[int]string{}, 3)
	if err != nil {
		t.Fatalf("Interpret: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("len = %d, want 0", len(got))
	}
}

func TestInterpretUnknownClassID(t *testing.T) {
	labelMap := map[int]string{0: "background"}
	_, err := Interpret([]RawClass{{ClassID: 7, Score: 0.9}}, labelMap, 1)
	if err == nil {
		t.Fatal("expected error for unknown class id")
	}
	var ue *UnknownLabelError
	if !errors.As(err, &ue) {
		t.Fatalf("error type = %T, want *UnknownLabelError", err)
	}
	if ue.ClassID != 7 {
		t.Fatalf("class id = %d, want 7", ue.ClassID)
	}
}

func TestInterpretIsIdempotent(t *testing.T) {
	labelMap := map[int]string{0: "background", 1: "squirrel"}
	raw := []RawClass{
		{ClassID: 1, Score: 0.9},
		{ClassID: 0, Score: 0.1},
	}

	first, err := Interpret(raw, labelMap, 2)
	if err != nil {
		t.Fatalf("first Interpret: %v", err)
	}
	second, err := Interpret(raw, labelMap, 2)
	if err != nil {
		t.Fatalf("second Interpret: %v", err)
	}
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("runs differ: %v vs %v", first, second)
	}
}

func TestFilterScores(t *testing.T) {
	result := []Class{
		{Label: "squirrel", Score: 0.9},
		{Label: "jay", Score: 0.09},
	}
	got := FilterScores(result, 0.1)
	if len(got) != 1 || got[0].Label != "squirrel" {
		t.Fatalf("FilterScores = %v, want only squirrel", got)
	}
}
