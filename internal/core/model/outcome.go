// Copyright 2024 Google, LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package model

import "time"

// SaveStatus is the result class of a save-to-list or login attempt.
type SaveStatus string

const (
	SaveSaved        SaveStatus = "saved"
	SaveAlreadySaved SaveStatus = "already_saved"
	SaveFailed       SaveStatus = "failed"
	SaveNotLoggedIn  SaveStatus = "not_logged_in"
	SaveDisabled     SaveStatus = "disabled"
)

// SaveOutcome is what every browser automation operation resolves to. It is
// never an error: failures are an outcome with a human readable message.
type SaveOutcome struct {
	Status   SaveStatus `json:"status"`
	Message  string     `json:"message"`
	ListName string     `json:"list_name,omitempty"`
}

// Success reports whether the place ended up in the list.
func (o SaveOutcome) Success() bool {
	return o.Status == SaveSaved || o.Status == SaveAlreadySaved
}

// StepStatus is the result class of a single commit step.
type StepStatus string

const (
	StepOK      StepStatus = "ok"
	StepFailed  StepStatus = "failed"
	StepSkipped StepStatus = "skipped"
)

// StepResult is one named entry of a commit report.
type StepResult struct {
	Name    string     `json:"name"`
	Status  StepStatus `json:"status"`
	Message string     `json:"message,omitempty"`
}

// CommitReport collects the independent results of committing one candidate.
// Steps are appended in execution order.
type CommitReport struct {
	SourceRef string          `json:"source_ref"`
	Candidate *CandidatePlace `json:"candidate"`
	Verified  *VerifiedPlace  `json:"verified,omitempty"`
	Record    *PlaceRecord    `json:"record,omitempty"`
	Save      *SaveOutcome    `json:"save,omitempty"`
	Steps     []StepResult    `json:"steps"`
}

// AddStep appends a step result.
func (r *CommitReport) AddStep(name string, status StepStatus, message string) {
	r.Steps = append(r.Steps, StepResult{Name: name, Status: status, Message: message})
}

// Step returns the result of the named step and whether it was recorded.
func (r *CommitReport) Step(name string) (StepResult, bool) {
	for _, s := range r.Steps {
		if s.Name == name {
			return s, true
		}
	}
	return StepResult{}, false
}

// Succeeded reports whether the named step finished ok.
func (r *CommitReport) Succeeded(name string) bool {
	s, ok := r.Step(name)
	return ok && s.Status == StepOK
}

// IngestReport is the end-to-end result of ingesting one content link.
type IngestReport struct {
	Link       *ContentLink      `json:"link"`
	Extraction *ExtractionResult `json:"extraction,omitempty"`
	Reports    []*CommitReport   `json:"reports"`
	Errors     []string          `json:"errors,omitempty"`
	StartedAt  time.Time         `json:"started_at"`
	Duration   time.Duration     `json:"duration"`
}
