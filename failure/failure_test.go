package failure

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"missing", fs.ErrNotExist, PathUnreadable},
		{"permission", fmt.Errorf("open: %w", fs.ErrPermission), PathUnreadable},
		{"timeout", fmt.Errorf("read: %w", context.DeadlineExceeded), ReadLimitExceeded},
		{"already classified", New(BaselineCorrupt, "/b", errors.New("bad")), BaselineCorrupt},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify("/x", tt.err)
			require.NotNil(t, got)
			assert.Equal(t, tt.want, got.Kind)
		})
	}
	assert.Nil(t, Classify("/x", nil))
}

func TestKindOfThroughWrapping(t *testing.T) {
	err := fmt.Errorf("check: %w", New(BaselineMissing, "/var/lib/b.json", fs.ErrNotExist))
	assert.Equal(t, BaselineMissing, KindOf(err))
	assert.True(t, errors.Is(err, fs.ErrNotExist))
	assert.True(t, errors.Is(err, &Error{Kind: BaselineMissing}))
	assert.False(t, errors.Is(err, &Error{Kind: BaselineCorrupt}))
	assert.Equal(t, Kind(""), KindOf(errors.New("plain")))
}

func TestErrorMessage(t *testing.T) {
	err := New(PathUnreadable, "/etc/shadow", fs.ErrPermission)
	assert.Equal(t, "PathUnreadable /etc/shadow: permission denied", err.Error())
}
