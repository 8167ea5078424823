package mock

import (
	"testing"

	"github.com/ruffel/sshkit/engine"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestMockEngine(t *testing.T) {
	t.Parallel()

	eng := New()
	cfg := engine.Config{Host: "h", Port: 22, User: "u"}

	ch := &Channel{}
	eng.On("Configure", cfg).Return(nil)
	eng.On("NewChannel").Return(ch, nil)
	eng.On("NewSFTP").Return(nil, engine.Errorf(engine.CodeFatal, "no subsystem"))

	require.NoError(t, eng.Configure(cfg))

	got, err := eng.NewChannel()
	require.NoError(t, err)
	assert.Same(t, ch, got)

	sftp, err := eng.NewSFTP()
	require.Error(t, err)
	assert.Nil(t, sftp)

	eng.AssertExpectations(t)
}

func TestMockChannelRead(t *testing.T) {
	t.Parallel()

	ch := &Channel{}
	ch.On("Read", engine.Stdout, mock.Anything).Run(Fill(1, "hello")).Return(5, nil).Once()
	ch.On("Read", engine.Stdout, mock.Anything).Return(0, nil)
	ch.On("ExitStatus").Return(engine.Exited(0), nil)

	buf := make([]byte, 16)

	n, err := ch.Read(engine.Stdout, buf)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(buf[:n]))

	n, err = ch.Read(engine.Stdout, buf)
	require.NoError(t, err)
	assert.Zero(t, n)

	st, err := ch.ExitStatus()
	require.NoError(t, err)
	assert.True(t, st.Success())

	ch.AssertExpectations(t)
}

func TestMockDirNext(t *testing.T) {
	t.Parallel()

	d := &Dir{}
	d.On("Next").Return(&engine.Attributes{Name: "a"}, nil).Once()
	d.On("Next").Return(nil, nil)

	first, err := d.Next()
	require.NoError(t, err)
	assert.Equal(t, "a", first.Name)

	end, err := d.Next()
	require.NoError(t, err)
	assert.Nil(t, end)
}
