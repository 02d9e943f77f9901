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

package cor_test

import (
	"context"
	"errors"
	"testing"

	"github.com/jaycherian/gcp-go-place-saver/internal/core/cor"
	"github.com/stretchr/testify/assert"
)

type stepCommand struct {
	cor.BaseCommand
	fn func(cor.Context)
}

func newStep(name string, fn func(cor.Context)) *stepCommand {
	return &stepCommand{BaseCommand: *cor.NewBaseCommand(name), fn: fn}
}

func (s *stepCommand) IsExecutable(context cor.Context) bool {
	return context.GetContext() != nil
}

func (s *stepCommand) Execute(context cor.Context) {
	s.fn(context)
}

func TestChainPipesOutputToInput(t *testing.T) {
	chain := cor.NewBaseChain("pipe")
	chain.AddCommand(newStep("first", func(c cor.Context) { c.Add(cor.CtxOut, 21) }))
	chain.AddCommand(newStep("second", func(c cor.Context) { c.Add("result", c.Get(cor.CtxIn).(int)*2) }))

	chCtx := cor.NewBaseContextWith(context.Background())
	defer chCtx.Close()
	chain.Execute(chCtx)

	assert.False(t, chCtx.HasErrors())
	assert.Equal(t, 42, chCtx.Get("result"))
	assert.Equal(t, []string{"first", "second"}, chCtx.Trail())
}

func TestChainStopsOnFirstError(t *testing.T) {
	chain := cor.NewBaseChain("stop")
	chain.AddCommand(newStep("fails", func(c cor.Context) { c.AddError("fails", errors.New("boom")) }))
	chain.AddCommand(newStep("never", func(c cor.Context) { c.Add("ran", true) }))

	chCtx := cor.NewBaseContextWith(context.Background())
	chain.Execute(chCtx)

	assert.True(t, chCtx.HasErrors())
	assert.Nil(t, chCtx.Get("ran"))
	assert.Equal(t, []string{"fails"}, chCtx.Trail())
}

func TestChainContinueOnFailureRecoversPanics(t *testing.T) {
	chain := cor.NewBaseChain("independent").ContinueOnFailure(true)
	chain.AddCommand(newStep("a", func(c cor.Context) { c.AddError("a", errors.New("a failed")) }))
	chain.AddCommand(newStep("b", func(c cor.Context) { panic("b exploded") }))
	chain.AddCommand(newStep("c", func(c cor.Context) { c.Add("c", true) }))

	chCtx := cor.NewBaseContextWith(context.Background())
	chain.Execute(chCtx)

	errs := chCtx.GetErrors()
	assert.Len(t, errs, 2)
	assert.Contains(t, errs["b"].Error(), "b exploded")
	assert.Equal(t, true, chCtx.Get("c"))
	assert.Equal(t, []string{"a", "b", "c"}, chCtx.Trail())
}

func TestChainHonoursCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	chain := cor.NewBaseChain("cancelled")
	chain.AddCommand(newStep("never", func(c cor.Context) { c.Add("ran", true) }))

	chCtx := cor.NewBaseContextWith(ctx)
	chain.Execute(chCtx)

	assert.Nil(t, chCtx.Get("ran"))
	assert.Empty(t, chCtx.Trail())
}

func TestChainReportsProgress(t *testing.T) {
	chain := cor.NewBaseChain("progress")
	chain.AddCommand(newStep("download", func(c cor.Context) {}))
	chain.AddCommand(newStep("extract", func(c cor.Context) {}))

	var steps []string
	ctx := cor.WithProgress(context.Background(), func(step string) { steps = append(steps, step) })
	chCtx := cor.NewBaseContextWith(ctx)
	defer chCtx.Close()
	chain.Execute(chCtx)

	assert.Equal(t, []string{"download", "extract"}, steps)

	// Without a ProgressFunc reporting is a no-op.
	cor.ReportProgress(context.Background(), "ignored")
}
