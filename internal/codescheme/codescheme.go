// Package codescheme loads the code schemes that participant labels are decoded against.
package codescheme

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// CodeType classifies a code within a scheme
type CodeType string

const (
	// CodeTypeNormal is a code describing the content of an answer
	CodeTypeNormal CodeType = "Normal"

	// CodeTypeControl is a code describing how a message was handled, e.g. not coded
	CodeTypeControl CodeType = "Control"

	// CodeTypeMeta is a code describing the conversation rather than the answer
	CodeTypeMeta CodeType = "Meta"
)

// Code is a single entry of a code scheme
type Code struct {
	CodeID      string   `json:"CodeID"`
	CodeType    CodeType `json:"CodeType"`
	StringValue string   `json:"StringValue"`
	DisplayText string   `json:"DisplayText,omitempty"`
	ControlCode string   `json:"ControlCode,omitempty"`
	MetaCode    string   `json:"MetaCode,omitempty"`
}

// CodeScheme is a named, versioned set of codes
type CodeScheme struct {
	SchemeID string `json:"SchemeID"`
	Name     string `json:"Name"`
	Version  string `json:"Version,omitempty"`
	Codes    []Code `json:"Codes"`

	byID map[string]*Code
}

// UnknownCodeError is returned when a code id is not part of a scheme
type UnknownCodeError struct {
	SchemeID string
	CodeID   string
}

func (e *UnknownCodeError) Error() string {
	return fmt.Sprintf("code %s not found in scheme %s", e.CodeID, e.SchemeID)
}

// Parse decodes a code scheme from JSON
func Parse(data []byte) (*CodeScheme, error) {
	var scheme CodeScheme
	if err := json.Unmarshal(data, &scheme); err != nil {
		return nil, fmt.Errorf("failed to parse code scheme: %w", err)
	}
	if scheme.SchemeID == "" {
		return nil, fmt.Errorf("code scheme has no SchemeID")
	}

	scheme.byID = make(map[string]*Code, len(scheme.Codes))
	for i := range scheme.Codes {
		code := &scheme.Codes[i]
		if code.CodeID == "" {
			return nil, fmt.Errorf("scheme %s: code[%d] has no CodeID", scheme.SchemeID, i)
		}
		if _, dup := scheme.byID[code.CodeID]; dup {
			return nil, fmt.Errorf("scheme %s: duplicate code id %s", scheme.SchemeID, code.CodeID)
		}
		switch code.CodeType {
		case CodeTypeNormal, CodeTypeControl, CodeTypeMeta:
		default:
			return nil, fmt.Errorf("scheme %s: code %s has unknown CodeType '%s'",
				scheme.SchemeID, code.CodeID, code.CodeType)
		}
		scheme.byID[code.CodeID] = code
	}

	return &scheme, nil
}

// LoadFile reads a code scheme from a JSON file
func LoadFile(path string) (*CodeScheme, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("failed to read code scheme %s: %w", path, err)
	}
	scheme, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return scheme, nil
}

// GetCodeWithCodeID returns the code with the given id
func (s *CodeScheme) GetCodeWithCodeID(codeID string) (*Code, error) {
	if code, ok := s.byID[codeID]; ok {
		return code, nil
	}
	return nil, &UnknownCodeError{SchemeID: s.SchemeID, CodeID: codeID}
}
