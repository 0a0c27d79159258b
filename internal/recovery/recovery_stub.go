//go:build !linux

package recovery

import (
	"context"

	"deadman/pkg/logx"
)

type unsupported struct{}

func New(logx.Logger) Restarter { return unsupported{} }

func (unsupported) Restart(context.Context, string) error { return ErrUnsupported }

func (unsupported) Close() error { return nil }
