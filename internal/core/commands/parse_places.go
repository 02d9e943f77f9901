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

// Package commands: this file turns the raw model answer into candidates.
//
// Language models rarely return clean JSON. ParseExtraction applies a fixed
// sequence of repairs before giving up:
//
//  1. Strip markdown code fences.
//  2. Keep the outermost {...} block.
//  3. Drop trailing commas and // line comments.
//  4. On a decode error, restart from the {"found" key and close any braces
//     the model left open.
//
// A failure is a result with Found false and the reason in Notes, never an
// error: an unreadable answer is the same outcome as no place.
package commands

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/jaycherian/gcp-go-place-saver/internal/core/cor"
	"github.com/jaycherian/gcp-go-place-saver/internal/core/model"
)

const (
	NoteUnparseable = "無法解析回應"
	ConfidenceLow   = "low"
)

var (
	jsonFencePattern     = regexp.MustCompile("```json\\s*")
	closingFencePattern  = regexp.MustCompile("```\\s*$")
	anyFencePattern      = regexp.MustCompile("```\\s*")
	objectPattern        = regexp.MustCompile(`\{[\s\S]*\}`)
	trailingCommaPattern = regexp.MustCompile(`,\s*([}\]])`)
	lineCommentPattern   = regexp.MustCompile(`(?m)(^|[^:"\\])//[^\n]*$`)
	foundObjectPattern   = regexp.MustCompile(`\{\s*"found"[\s\S]*`)
)

// stringList accepts either a JSON array of strings or a single string.
type stringList []string

func (l *stringList) UnmarshalJSON(data []byte) error {
	var one string
	if err := json.Unmarshal(data, &one); err == nil {
		if strings.TrimSpace(one) == "" {
			*l = nil
		} else {
			*l = stringList{one}
		}
		return nil
	}
	var many []*string
	if err := json.Unmarshal(data, &many); err != nil {
		return err
	}
	out := make(stringList, 0, len(many))
	for _, s := range many {
		if s != nil && strings.TrimSpace(*s) != "" {
			out = append(out, *s)
		}
	}
	*l = out
	return nil
}

type extractedPlace struct {
	Name           string     `json:"name"`
	NameEn         string     `json:"name_en"`
	City           string     `json:"city"`
	Country        string     `json:"country"`
	Address        string     `json:"address"`
	PlaceTypes     stringList `json:"place_type"`
	Highlights     stringList `json:"highlights"`
	PriceRange     string     `json:"price_range"`
	Recommendation string     `json:"recommendation"`
	Tags           stringList `json:"tags"`
	Confidence     string     `json:"confidence"`
	SearchKeywords stringList `json:"search_keywords"`
}

type extractedResult struct {
	Found  bool              `json:"found"`
	Places []*extractedPlace `json:"places"`
	Place  *extractedPlace   `json:"place"`
	Notes  string            `json:"notes"`
}

// ParseExtraction decodes a raw model answer. The result is never nil.
func ParseExtraction(raw string) *model.ExtractionResult {
	cleaned := raw
	switch {
	case strings.Contains(cleaned, "```json"):
		cleaned = jsonFencePattern.ReplaceAllString(cleaned, "")
		cleaned = closingFencePattern.ReplaceAllString(cleaned, "")
	case strings.Contains(cleaned, "```"):
		cleaned = anyFencePattern.ReplaceAllString(cleaned, "")
	}

	block := objectPattern.FindString(cleaned)
	if block == "" {
		return &model.ExtractionResult{Found: false, Places: []*model.CandidatePlace{}, Notes: NoteUnparseable}
	}
	block = trailingCommaPattern.ReplaceAllString(block, "$1")
	block = lineCommentPattern.ReplaceAllString(block, "$1")

	var data extractedResult
	if err := json.Unmarshal([]byte(block), &data); err != nil {
		retry := foundObjectPattern.FindString(block)
		if retry == "" {
			return failedParse(err)
		}
		if open, closed := strings.Count(retry, "{"), strings.Count(retry, "}"); open > closed {
			retry += strings.Repeat("}", open-closed)
		}
		data = extractedResult{}
		if err2 := json.Unmarshal([]byte(retry), &data); err2 != nil {
			return failedParse(err2)
		}
	}

	result := &model.ExtractionResult{Places: []*model.CandidatePlace{}, Notes: data.Notes}
	if !data.Found {
		return result
	}
	places := data.Places
	if len(places) == 0 && data.Place != nil {
		places = []*extractedPlace{data.Place}
	}
	for _, p := range places {
		if p == nil {
			continue
		}
		result.Places = append(result.Places, p.candidate())
	}
	result.Found = len(result.Places) > 0
	return result
}

func failedParse(err error) *model.ExtractionResult {
	return &model.ExtractionResult{
		Found:  false,
		Places: []*model.CandidatePlace{},
		Notes:  fmt.Sprintf("JSON 解析失敗: %v", err),
	}
}

func (p *extractedPlace) candidate() *model.CandidatePlace {
	confidence := strings.ToLower(strings.TrimSpace(p.Confidence))
	if confidence == "" {
		confidence = ConfidenceLow
	}
	return &model.CandidatePlace{
		Name:           strings.TrimSpace(p.Name),
		NameEn:         strings.TrimSpace(p.NameEn),
		City:           strings.TrimSpace(p.City),
		Country:        strings.TrimSpace(p.Country),
		Address:        strings.TrimSpace(p.Address),
		PlaceTypes:     p.PlaceTypes,
		Highlights:     p.Highlights,
		PriceRange:     strings.TrimSpace(p.PriceRange),
		Recommendation: strings.TrimSpace(p.Recommendation),
		Tags:           p.Tags,
		Confidence:     confidence,
		SearchKeywords: p.SearchKeywords,
	}
}

// PlaceParser is the parse-places command. It attaches the audit artifacts of
// the run to every candidate.
type PlaceParser struct {
	cor.BaseCommand
}

func NewPlaceParser() *PlaceParser {
	return &PlaceParser{BaseCommand: *cor.NewBaseCommandWithParams(StepParse, ParamRawResponse, ParamExtraction)}
}

func (c *PlaceParser) Execute(context cor.Context) {
	raw, _ := context.Get(c.GetInputParam()).(string)
	result := ParseExtraction(raw)
	result.RawResponse = raw

	link, _ := context.Get(ParamLink).(*model.ContentLink)
	if bundle, ok := context.Get(ParamBundle).(*model.MediaBundle); ok && bundle != nil {
		result.Caption = bundle.Caption
		result.Transcript = bundle.Transcript
		result.VisualDescription = bundle.Visual
		for _, p := range result.Places {
			p.Transcript = bundle.Transcript
			p.VisualDescription = bundle.Visual
			p.RawResponse = raw
			p.SourceAccount = bundle.Account
		}
		if bundle.Link != nil {
			link = bundle.Link
		}
	}
	if link != nil {
		for _, p := range result.Places {
			p.SourceURL = link.URL
			p.ChatID = link.ChatID
		}
	}

	slog.InfoContext(context.GetContext(), "places parsed", "found", result.Found, "count", len(result.Places), "notes", result.Notes)
	context.Add(c.GetOutputParam(), result)
	c.Succeed(context)
}
