// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ingest

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/editcore/services/editcore/operation"
)

// MaxContentBytes bounds the content or patch body of one record.
const MaxContentBytes = 8 * 1024 * 1024

// ErrUndecodable indicates structured input that is neither valid JSON nor
// valid YAML of the accepted shape.
var ErrUndecodable = errors.New("undecodable structured input")

// recordValidate validates decoded structured records.
var recordValidate *validator.Validate

func init() {
	recordValidate = validator.New()
	_ = recordValidate.RegisterValidation("maxbytes", validateMaxBytes)
}

// validateMaxBytes checks a string field against MaxContentBytes.
func validateMaxBytes(fl validator.FieldLevel) bool {
	return len(fl.Field().String()) <= MaxContentBytes
}

// structuredRecord is one operation as it appears in JSON or YAML. Several
// key spellings are accepted for the path, kind and destination.
type structuredRecord struct {
	Path        string  `json:"path" yaml:"path"`
	File        string  `json:"file" yaml:"file"`
	Action      string  `json:"action" yaml:"action"`
	Kind        string  `json:"kind" yaml:"kind"`
	Type        string  `json:"type" yaml:"type"`
	NewPath     string  `json:"new_path" yaml:"new_path"`
	To          string  `json:"to" yaml:"to"`
	Content     *string `json:"content" yaml:"content"`
	Patch       string  `json:"patch" yaml:"patch"`
	Description string  `json:"description" yaml:"description"`
}

// envelope is the {operations: [...]} top-level shape.
type envelope struct {
	Operations []structuredRecord `json:"operations" yaml:"operations"`
}

func (s structuredRecord) normalize() record {
	return record{
		Path:        firstNonEmpty(s.Path, s.File),
		Action:      firstNonEmpty(s.Action, s.Kind, s.Type),
		NewPath:     firstNonEmpty(s.NewPath, s.To),
		Content:     s.Content,
		Patch:       s.Patch,
		Description: s.Description,
	}
}

// ParseStructured parses JSON or YAML operation records.
//
// # Description
//
// The top level is either an object with an "operations" list or a bare
// list. Input starting with '{' or '[' is decoded as JSON first and falls
// back to YAML; everything else is YAML. Each record is validated (path
// and action present, bodies within MaxContentBytes); invalid records and
// records with unknown actions are skipped and logged.
//
// # Outputs
//
//   - []operation.Operation: Operations in list order.
//   - error: ErrUndecodable (wrapped) if the input cannot be decoded.
func (in *Ingestor) ParseStructured(raw string) ([]operation.Operation, error) {
	records, err := decodeRecords(raw)
	if err != nil {
		return nil, err
	}

	ops := make([]operation.Operation, 0, len(records))
	for i, sr := range records {
		r := sr.normalize()
		if err := recordValidate.Struct(r); err != nil {
			in.logger.Debug("skipping invalid record", "index", i+1, "error", err)
			continue
		}
		if op, ok := in.build(r); ok {
			ops = append(ops, op)
		}
	}

	in.logger.Debug("parsed structured operations",
		"records", len(records),
		"operations", len(ops))
	return ops, nil
}

func decodeRecords(raw string) ([]structuredRecord, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, nil
	}

	if strings.HasPrefix(trimmed, "{") || strings.HasPrefix(trimmed, "[") {
		if records, err := decodeJSON(trimmed); err == nil {
			return records, nil
		}
	}
	return decodeYAML(trimmed)
}

func decodeJSON(raw string) ([]structuredRecord, error) {
	if strings.HasPrefix(raw, "[") {
		var records []structuredRecord
		if err := json.Unmarshal([]byte(raw), &records); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUndecodable, err)
		}
		return records, nil
	}

	var env envelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUndecodable, err)
	}
	return env.Operations, nil
}

func decodeYAML(raw string) ([]structuredRecord, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal([]byte(raw), &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUndecodable, err)
	}
	if doc.Kind != yaml.DocumentNode || len(doc.Content) == 0 {
		return nil, nil
	}

	top := doc.Content[0]
	switch top.Kind {
	case yaml.MappingNode:
		var env envelope
		if err := top.Decode(&env); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUndecodable, err)
		}
		return env.Operations, nil
	case yaml.SequenceNode:
		var records []structuredRecord
		if err := top.Decode(&records); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUndecodable, err)
		}
		return records, nil
	default:
		return nil, fmt.Errorf("%w: top level must be a mapping or a list", ErrUndecodable)
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
