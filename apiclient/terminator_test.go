package apiclient

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTerminator_FiresOnceUntilRearmed(t *testing.T) {
	st := &memStore{cred: &Credential{AccessToken: "A1", RefreshToken: "R1"}}
	var hooks atomic.Int32
	term := NewTerminator(st, func() { hooks.Add(1) })

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, term.Terminate(context.Background()))
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), hooks.Load())
	assert.True(t, term.Terminated())
	cred, err := st.Get(context.Background())
	require.NoError(t, err)
	assert.Nil(t, cred)

	term.Rearm()
	assert.False(t, term.Terminated())
	require.NoError(t, term.Terminate(context.Background()))
	assert.Equal(t, int32(2), hooks.Load())
}

func TestTerminator_NilHook(t *testing.T) {
	term := NewTerminator(&memStore{}, nil)
	assert.NoError(t, term.Terminate(context.Background()))
	assert.True(t, term.Terminated())
}
