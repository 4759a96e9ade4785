// Copyright (c) 2026 John Earle
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package ai classifies emails and extracts invoice fields through the
// language-model gateway. Both clients fail closed: any credential,
// transport or parse failure degrades to a safe default instead of an error.
package ai

import (
	"context"
	"errors"

	"github.com/ecotrace/ingestion/internal/llm"
	"github.com/ecotrace/ingestion/internal/models"
	"github.com/ecotrace/ingestion/internal/runlog"
)

// Classifier assigns a sustainability category to an email.
type Classifier struct {
	llm llm.Completer
}

// NewClassifier creates a classifier backed by completer.
func NewClassifier(completer llm.Completer) *Classifier {
	return &Classifier{llm: completer}
}

// Classify returns the category of payload. It never fails; every failure
// path returns models.CategoryNotRelevant.
func (c *Classifier) Classify(ctx context.Context, payload models.EmailPayload) models.Category {
	log := runlog.Logger(ctx)

	prompt, err := ClassifyPrompt(payload)
	if err != nil {
		log.Error("failed to build classification prompt", "error", err)
		return models.CategoryNotRelevant
	}

	raw, err := c.llm.Complete(ctx, prompt)
	if err != nil {
		if errors.Is(err, llm.ErrNoCredential) {
			log.Warn("no gateway token, classifying as not relevant", "error", err)
		} else {
			log.Error("classification request failed", "error", err)
		}
		return models.CategoryNotRelevant
	}
	log.Info("classification response", "raw", raw)

	label, _ := llm.ParseObject(raw)["class"].(string)
	category := models.ParseCategory(label)
	if !category.Relevant() && category != models.Category(label) {
		log.Warn("classification label missing or unknown", "label", label)
	}
	return category
}

// Extractor pulls invoice fields out of a classified email.
type Extractor struct {
	llm llm.Completer
}

// NewExtractor creates an extractor backed by completer.
func NewExtractor(completer llm.Completer) *Extractor {
	return &Extractor{llm: completer}
}

// Extract returns the decoded fields for payload, or an empty map on any
// failure.
func (e *Extractor) Extract(ctx context.Context, category models.Category, payload models.EmailPayload) models.ExtractedFields {
	log := runlog.Logger(ctx)

	prompt, err := ExtractPrompt(category, payload)
	if err != nil {
		log.Error("failed to build extraction prompt", "error", err)
		return models.ExtractedFields{}
	}

	raw, err := e.llm.Complete(ctx, prompt)
	if err != nil {
		if errors.Is(err, llm.ErrNoCredential) {
			log.Warn("no gateway token, returning empty extraction", "error", err)
		} else {
			log.Error("extraction request failed", "error", err)
		}
		return models.ExtractedFields{}
	}
	log.Info("extraction response", "raw", raw)

	return models.ExtractedFields(llm.ParseObject(raw))
}
