package storage

import (
	"encoding/json"
	"errors"

	"plumetrack/internal/model"
)

const (
	CurrentSchemaVersion = 1
	CurrentCodecVersion  = 1
)

var ErrVersionMismatch = errors.New("record version mismatch")

// Stamp returns the version header every persisted record carries.
func Stamp() model.VersionedRecord {
	return model.VersionedRecord{
		SchemaVersion: CurrentSchemaVersion,
		CodecVersion:  CurrentCodecVersion,
	}
}

func EncodeCheckpoint(cp model.PolicyCheckpoint) ([]byte, error) {
	return json.Marshal(cp)
}

func DecodeCheckpoint(data []byte) (model.PolicyCheckpoint, error) {
	var cp model.PolicyCheckpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return model.PolicyCheckpoint{}, err
	}
	if err := checkVersion(cp.VersionedRecord); err != nil {
		return model.PolicyCheckpoint{}, err
	}
	return cp, nil
}

func EncodeTrainingHistory(history []model.TrainingRecord) ([]byte, error) {
	return json.Marshal(history)
}

func DecodeTrainingHistory(data []byte) ([]model.TrainingRecord, error) {
	var history []model.TrainingRecord
	if err := json.Unmarshal(data, &history); err != nil {
		return nil, err
	}
	return history, nil
}

func EncodeEvalReports(reports []model.EvalReport) ([]byte, error) {
	return json.Marshal(reports)
}

func DecodeEvalReports(data []byte) ([]model.EvalReport, error) {
	var reports []model.EvalReport
	if err := json.Unmarshal(data, &reports); err != nil {
		return nil, err
	}
	for _, report := range reports {
		if err := checkVersion(report.VersionedRecord); err != nil {
			return nil, err
		}
	}
	return reports, nil
}

func checkVersion(v model.VersionedRecord) error {
	if v.SchemaVersion != CurrentSchemaVersion || v.CodecVersion != CurrentCodecVersion {
		return ErrVersionMismatch
	}
	return nil
}
