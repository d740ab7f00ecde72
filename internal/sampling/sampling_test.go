package sampling

import (
	"testing"

	"github.com/stretchr/testify/require"

	"exsaengine/internal/errs"
)

func validRaw() Raw {
	d := Defaults()
	return d
}

func TestNewAcceptsDefaults(t *testing.T) {
	p, err := New(validRaw())
	require.NoError(t, err)
	require.Equal(t, MirostatOff, p.Mirostat)
}

func TestNewRejectsNegativeTemperature(t *testing.T) {
	raw := validRaw()
	raw.Temperature = -0.1
	_, err := New(raw)
	require.True(t, errs.Is(err, errs.KindValidation))
}

func TestNewRejectsOutOfRangeTopP(t *testing.T) {
	raw := validRaw()
	raw.TopP = 1.5
	_, err := New(raw)
	require.True(t, errs.Is(err, errs.KindValidation))
}

func TestNewRejectsZeroRepeatPenalty(t *testing.T) {
	raw := validRaw()
	raw.RepeatPenalty = 0
	_, err := New(raw)
	require.True(t, errs.Is(err, errs.KindValidation))
}

func TestNewRejectsInvalidMirostat(t *testing.T) {
	raw := validRaw()
	raw.Mirostat = 3
	_, err := New(raw)
	require.True(t, errs.Is(err, errs.KindValidation))
}

func TestNewRejectsPresencePenaltyOutOfRange(t *testing.T) {
	raw := validRaw()
	raw.PresencePenalty = 3
	_, err := New(raw)
	require.True(t, errs.Is(err, errs.KindValidation))
}

func TestBuildChainSuppressesTruncationUnderMirostat(t *testing.T) {
	raw := validRaw()
	raw.Mirostat = 2
	p, err := New(raw)
	require.NoError(t, err)

	c := BuildChain(p, []int32{2})
	require.True(t, c.MirostatStage)
	require.False(t, c.TruncateStage)
}

func TestBuildChainRunsFullStageWhenMirostatOff(t *testing.T) {
	p, err := New(validRaw())
	require.NoError(t, err)

	c := BuildChain(p, []int32{2})
	require.False(t, c.MirostatStage)
	require.True(t, c.TruncateStage)
}

func TestBuildChainCopiesEOSTokens(t *testing.T) {
	p, err := New(validRaw())
	require.NoError(t, err)
	eos := []int32{7}
	c := BuildChain(p, eos)
	eos[0] = 99
	require.Equal(t, int32(7), c.EOSTokens[0])
}
