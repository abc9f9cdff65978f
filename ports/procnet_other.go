//go:build !linux

package ports

import (
	"context"
	"errors"
)

type ProcNetProber struct {
	Root string
}

func (p *ProcNetProber) Probe(context.Context) ([]string, error) {
	return nil, errors.New("procnet probe is only available on Linux")
}
