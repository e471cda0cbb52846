package browser

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xkilldash9x/suture-cli/api/schemas"
	"github.com/xkilldash9x/suture-cli/internal/config"
)

func TestNewSession(t *testing.T) {
	cfg := config.NewDefaultConfig()
	target := schemas.Target{Name: "storefront", URL: "https://shop.example.com", Type: schemas.TargetUI}

	t.Run("requires config", func(t *testing.T) {
		s, err := NewSession(context.Background(), func() {}, target, nil, zap.NewNop())
		require.Error(t, err)
		assert.Nil(t, s)
	})

	t.Run("assigns unique ids", func(t *testing.T) {
		s1, err := NewSession(context.Background(), func() {}, target, cfg, zap.NewNop())
		require.NoError(t, err)
		s2, err := NewSession(context.Background(), func() {}, target, cfg, zap.NewNop())
		require.NoError(t, err)

		assert.NotEmpty(t, s1.ID())
		assert.NotEqual(t, s1.ID(), s2.ID())
		assert.Equal(t, target, s1.Target())
	})

	t.Run("close is idempotent", func(t *testing.T) {
		closed := 0
		s, err := NewSession(context.Background(), func() {}, target, cfg, zap.NewNop())
		require.NoError(t, err)
		s.onClose = func() { closed++ }

		require.NoError(t, s.Close(context.Background()))
		require.NoError(t, s.Close(context.Background()))
		assert.Equal(t, 1, closed)
	})
}

func TestOriginOf(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    string
		wantErr bool
	}{
		{name: "strips path", in: "https://shop.example.com/checkout?step=2", want: "https://shop.example.com"},
		{name: "keeps port", in: "http://localhost:8080/admin", want: "http://localhost:8080"},
		{name: "bare origin", in: "https://api.example.com", want: "https://api.example.com"},
		{name: "relative url", in: "/checkout", wantErr: true},
		{name: "empty", in: "", wantErr: true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := originOf(tc.in)
			if tc.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestHeapUsageRatio(t *testing.T) {
	assert.Equal(t, 0.0, PerformanceSnapshot{}.HeapUsageRatio())
	assert.InDelta(t, 0.5, PerformanceSnapshot{UsedJSHeap: 50, JSHeapLimit: 100}.HeapUsageRatio(), 1e-9)
	assert.InDelta(t, 0.9, PerformanceSnapshot{UsedJSHeap: 90, JSHeapLimit: 100}.HeapUsageRatio(), 1e-9)
}

func TestCombineContext(t *testing.T) {
	t.Run("parent cancellation propagates", func(t *testing.T) {
		parent, parentCancel := context.WithCancel(context.Background())
		combined, cancel := CombineContext(parent, context.Background())
		defer cancel()

		parentCancel()

		select {
		case <-combined.Done():
		case <-time.After(time.Second):
			t.Fatal("combined context not canceled after parent cancellation")
		}
	})

	t.Run("secondary cancellation propagates", func(t *testing.T) {
		secondary, secondaryCancel := context.WithCancel(context.Background())
		combined, cancel := CombineContext(context.Background(), secondary)
		defer cancel()

		secondaryCancel()

		select {
		case <-combined.Done():
		case <-time.After(time.Second):
			t.Fatal("combined context not canceled after secondary cancellation")
		}
	})

	t.Run("parent values are visible", func(t *testing.T) {
		type key struct{}
		parent := context.WithValue(context.Background(), key{}, "held")
		combined, cancel := CombineContext(parent, context.Background())
		defer cancel()

		assert.Equal(t, "held", combined.Value(key{}))
	})
}
