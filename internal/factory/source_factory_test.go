package factory

import (
	"context"
	"errors"
	"testing"

	"Go2NetSentinel/internal/config"
	"Go2NetSentinel/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubSource struct{}

func (stubSource) Next(context.Context) (model.Flow, error) { return model.Flow{}, model.ErrNoFlow }
func (stubSource) Name() string                             { return "stub" }
func (stubSource) Close() error                             { return nil }

func TestRegisterAndCreate(t *testing.T) {
	RegisterSource("stub-ok", func(*config.Config) (model.FlowSource, error) { return stubSource{}, nil })
	RegisterSource("stub-fail", func(*config.Config) (model.FlowSource, error) { return nil, errors.New("boom") })

	cfg := config.Default()
	cfg.Source.Type = "stub-ok"
	src, err := NewSource(cfg)
	require.NoError(t, err)
	assert.Equal(t, "stub", src.Name())

	cfg.Source.Type = "stub-fail"
	_, err = NewSource(cfg)
	assert.ErrorContains(t, err, "boom")

	cfg.Source.Type = "missing"
	_, err = NewSource(cfg)
	assert.ErrorContains(t, err, "unknown flow source type")

	assert.Contains(t, Sources(), "stub-ok")
}

func TestRegisterDuplicatePanics(t *testing.T) {
	RegisterSource("stub-dup", func(*config.Config) (model.FlowSource, error) { return stubSource{}, nil })
	assert.Panics(t, func() {
		RegisterSource("stub-dup", func(*config.Config) (model.FlowSource, error) { return stubSource{}, nil })
	})
}
