package syncerr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOfUnwrapsChain(t *testing.T) {
	base := New(KindDanglingModuleReference, "module :lib not found", nil)
	wrapped := fmt.Errorf("populate app: %w", base)

	assert.Equal(t, KindDanglingModuleReference, KindOf(wrapped))
	assert.True(t, Is(wrapped, KindDanglingModuleReference))
	assert.False(t, Is(wrapped, KindCacheInvalid))
	assert.Equal(t, Kind(""), KindOf(errors.New("plain")))
}

func TestFatalKinds(t *testing.T) {
	t.Run("fatal", func(t *testing.T) {
		for _, k := range []Kind{KindUnsupportedToolVersion, KindDanglingModuleReference, KindCancelled} {
			assert.True(t, k.Fatal(), k)
		}
	})
	t.Run("degrading", func(t *testing.T) {
		for _, k := range []Kind{KindCacheInvalid, KindCacheCorrupt, KindNoVariantsAvailable, KindVariantConflict, KindPersistFailure} {
			assert.False(t, k.Fatal(), k)
		}
	})
	t.Run("untyped errors are fatal", func(t *testing.T) {
		assert.True(t, IsFatal(errors.New("boom")))
		assert.False(t, IsFatal(nil))
		assert.False(t, IsFatal(New(KindPersistFailure, "disk full", nil)))
	})
}

func TestErrorMessage(t *testing.T) {
	cause := errors.New("eof")
	err := New(KindCacheCorrupt, "read snapshot", cause)
	assert.Equal(t, "cache-corrupt: read snapshot: eof", err.Error())
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "fetch: tool exited 1", Newf(KindFetch, "tool exited %d", 1).Error())
}
