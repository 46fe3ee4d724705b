package storage

import (
	"errors"
	"reflect"
	"testing"

	"plumetrack/internal/model"
)

func TestCheckpointCodecRoundTrip(t *testing.T) {
	cp := testCheckpoint("run-a", 25)
	data, err := EncodeCheckpoint(cp)
	if err != nil {
		t.Fatalf("EncodeCheckpoint: %v", err)
	}
	decoded, err := DecodeCheckpoint(data)
	if err != nil {
		t.Fatalf("DecodeCheckpoint: %v", err)
	}
	if !reflect.DeepEqual(decoded, cp) {
		t.Fatalf("round trip mismatch:\n got %+v\nwant %+v", decoded, cp)
	}
}

func TestDecodeCheckpointRejectsVersionMismatch(t *testing.T) {
	cp := testCheckpoint("run-a", 25)
	cp.SchemaVersion = CurrentSchemaVersion + 1
	data, err := EncodeCheckpoint(cp)
	if err != nil {
		t.Fatalf("EncodeCheckpoint: %v", err)
	}
	if _, err := DecodeCheckpoint(data); !errors.Is(err, ErrVersionMismatch) {
		t.Fatalf("err = %v, want ErrVersionMismatch", err)
	}
}

func TestDecodeCheckpointRejectsGarbage(t *testing.T) {
	if _, err := DecodeCheckpoint([]byte("{not json")); err == nil {
		t.Fatal("expected decode error")
	}
}

func TestTrainingHistoryCodecRoundTrip(t *testing.T) {
	history := []model.TrainingRecord{
		{Iteration: 0, MeanReturn: -3.5, SuccessRate: 0.25, Epsilon: 1.0},
		{Iteration: 1, MeanReturn: -2.0, SuccessRate: 0.5, Epsilon: 0.9, DegenerateUpdates: 2},
	}
	data, err := EncodeTrainingHistory(history)
	if err != nil {
		t.Fatalf("EncodeTrainingHistory: %v", err)
	}
	decoded, err := DecodeTrainingHistory(data)
	if err != nil {
		t.Fatalf("DecodeTrainingHistory: %v", err)
	}
	if !reflect.DeepEqual(decoded, history) {
		t.Fatalf("round trip mismatch: %+v != %+v", decoded, history)
	}
}

func TestEvalReportsCodecChecksEveryRecord(t *testing.T) {
	reports := []model.EvalReport{
		{VersionedRecord: Stamp(), RunID: "run-a", Policy: "greedy"},
		{VersionedRecord: model.VersionedRecord{SchemaVersion: 2, CodecVersion: 1}, RunID: "run-a", Policy: "dqn"},
	}
	data, err := EncodeEvalReports(reports)
	if err != nil {
		t.Fatalf("EncodeEvalReports: %v", err)
	}
	if _, err := DecodeEvalReports(data); !errors.Is(err, ErrVersionMismatch) {
		t.Fatalf("err = %v, want ErrVersionMismatch", err)
	}
}
