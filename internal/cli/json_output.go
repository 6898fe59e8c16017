// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// json_output.go - JSON output support for scripting.
//
// Every command that prints data accepts --json and then writes exactly one
// JSONResponse document to stdout.
package cli

import (
	"encoding/json"
	"time"
)

// JSONResponse is the standardized response format for all CLI commands.
type JSONResponse struct {
	// Success indicates whether the command completed successfully
	Success bool `json:"success"`

	// Data contains the command-specific response data
	Data interface{} `json:"data"`

	// Error contains the error message if Success is false, null otherwise
	Error *string `json:"error"`

	// Timestamp is the RFC 3339 time the response was generated
	Timestamp string `json:"timestamp"`

	// Command is the command that was executed
	Command string `json:"command,omitempty"`
}

// NewJSONResponse creates a new successful JSON response.
func NewJSONResponse(command string, data interface{}) *JSONResponse {
	return &JSONResponse{
		Success:   true,
		Data:      data,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Command:   command,
	}
}

// NewJSONErrorResponse creates a new error JSON response.
func NewJSONErrorResponse(command string, err error) *JSONResponse {
	errStr := err.Error()
	return &JSONResponse{
		Success:   false,
		Error:     &errStr,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Command:   command,
	}
}

// outputJSON writes a successful response for command to the app's stdout.
func (a *App) outputJSON(command string, data interface{}) error {
	return a.writeJSON(NewJSONResponse(command, data))
}

// outputJSONError writes a failed response and returns err so the exit
// code still reflects the failure.
func (a *App) outputJSONError(command string, err error) error {
	if werr := a.writeJSON(NewJSONErrorResponse(command, err)); werr != nil {
		return werr
	}
	return err
}

func (a *App) writeJSON(r *JSONResponse) error {
	encoder := json.NewEncoder(a.out)
	encoder.SetIndent("", "  ")
	return encoder.Encode(r)
}
