package storage

import (
	"encoding/json"
	"errors"

	"aitia/internal/model"
)

const (
	CurrentSchemaVersion = 1
	CurrentCodecVersion  = 1
)

var ErrVersionMismatch = errors.New("record version mismatch")

func EncodeRunConfig(cfg model.RunConfig) ([]byte, error) {
	return json.Marshal(cfg)
}

func DecodeRunConfig(data []byte) (model.RunConfig, error) {
	var cfg model.RunConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return model.RunConfig{}, err
	}
	if err := checkVersion(cfg.VersionedRecord); err != nil {
		return model.RunConfig{}, err
	}
	return cfg, nil
}

func EncodePosterior(record model.PosteriorRecord) ([]byte, error) {
	return json.Marshal(record)
}

func DecodePosterior(data []byte) (model.PosteriorRecord, error) {
	var record model.PosteriorRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return model.PosteriorRecord{}, err
	}
	if err := checkVersion(record.VersionedRecord); err != nil {
		return model.PosteriorRecord{}, err
	}
	return record, nil
}

func EncodeMetrics(record model.MetricsRecord) ([]byte, error) {
	return json.Marshal(record)
}

func DecodeMetrics(data []byte) (model.MetricsRecord, error) {
	var record model.MetricsRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return model.MetricsRecord{}, err
	}
	if err := checkVersion(record.VersionedRecord); err != nil {
		return model.MetricsRecord{}, err
	}
	return record, nil
}

func EncodeHistory(history []model.StepDiagnostics) ([]byte, error) {
	return json.Marshal(history)
}

func DecodeHistory(data []byte) ([]model.StepDiagnostics, error) {
	var history []model.StepDiagnostics
	if err := json.Unmarshal(data, &history); err != nil {
		return nil, err
	}
	return history, nil
}

func checkVersion(v model.VersionedRecord) error {
	if v.SchemaVersion != CurrentSchemaVersion || v.CodecVersion != CurrentCodecVersion {
		return ErrVersionMismatch
	}
	return nil
}
