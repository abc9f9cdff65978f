package ports

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProcNetProber(t *testing.T) {
	lines, err := (&ProcNetProber{Root: "testdata"}).Probe(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"tcp 0.0.0.0:22", "tcp 127.0.0.1:3306"}, lines)
}

func TestProcNetProberNoTables(t *testing.T) {
	_, err := (&ProcNetProber{Root: t.TempDir()}).Probe(context.Background())
	assert.Error(t, err)
}
