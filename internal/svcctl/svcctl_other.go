//go:build !linux

package svcctl

import "context"

type Manager struct{}

func New(context.Context, []string) (*Manager, error) { return nil, ErrUnsupported }

func (m *Manager) Close() error                                   { return nil }
func (m *Manager) Start(context.Context, string) error            { return ErrUnsupported }
func (m *Manager) Stop(context.Context, string) error             { return ErrUnsupported }
func (m *Manager) Restart(context.Context, string) error          { return ErrUnsupported }
func (m *Manager) Status(context.Context, string) (Status, error) { return Status{}, ErrUnsupported }
func (m *Manager) List(context.Context) ([]Status, error)         { return nil, ErrUnsupported }
