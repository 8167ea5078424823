package memory_test

import (
	"testing"

	"github.com/ruffel/sshkit"
	"github.com/ruffel/sshkit/engine"
	"github.com/ruffel/sshkit/engines/memory"
	"github.com/ruffel/sshkit/sessiontest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestContracts(t *testing.T) {
	t.Parallel()

	var engines []*memory.Engine

	sessiontest.Verify(t, func(t *testing.T) sessiontest.Fixture {
		t.Helper()

		eng := memory.New(memory.WithPassword("tester", "hunter2"))
		eng.FS().MkdirAll("/home/tester")
		engines = append(engines, eng)

		s := sshkit.NewSession(eng, sshkit.WithLogger(zaptest.NewLogger(t)))
		t.Cleanup(func() {
			require.NoError(t, s.Close())
			assert.Equal(t, memory.Counts{}, eng.Live(), "engine handles leaked")
			assert.True(t, eng.Freed())
		})

		ctx := t.Context()
		require.NoError(t, s.Configure(ctx, engine.Config{Host: "memory", User: "tester"}))
		require.NoError(t, s.Connect(ctx))
		require.NoError(t, s.AuthenticatePassword(ctx, "hunter2"))

		return sessiontest.Fixture{Session: s, Root: "/home/tester"}
	})

	for _, eng := range engines {
		assert.Equal(t, 1, eng.PeakInFlight(), "engine calls overlapped")
	}
}
