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

// GetExampleExtraction is the few-shot example embedded in the extraction
// prompt so the model answers with the expected JSON shape.
func GetExampleExtraction() *ExtractionResult {
	return &ExtractionResult{
		Found: true,
		Places: []*CandidatePlace{
			{
				Name:           "阿宗麵線",
				NameEn:         "Ay-Chung Flour-Rice Noodle",
				City:           "台北",
				Country:        "台灣",
				Address:        "台北市萬華區峨眉街8-1號",
				PlaceTypes:     []string{"小吃"},
				Highlights:     []string{"大腸麵線"},
				PriceRange:     "$",
				Recommendation: "西門町排隊名店，湯頭濃郁",
				Tags:           []string{"打卡", "排隊美食"},
				Confidence:     "high",
				SearchKeywords: []string{"阿宗麵線 西門町"},
			},
		},
		Notes: "影片介紹西門町小吃",
	}
}
