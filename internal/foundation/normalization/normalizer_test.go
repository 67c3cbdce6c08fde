package normalization

import (
	"testing"

	"github.com/stretchr/testify/require"

	ferrors "git.home.luguber.info/inful/livedocs/internal/foundation/errors"
)

type mode string

const (
	modeFast mode = "fast"
	modeSafe mode = "safe"
)

func newModes() *Enum[mode] {
	return New("mode", map[string]mode{
		"fast":  modeFast,
		"quick": modeFast,
		"safe":  modeSafe,
	}, modeSafe)
}

func TestNormalizeFoldsCaseAndAliases(t *testing.T) {
	e := newModes()

	tests := []struct {
		in   string
		want mode
	}{
		{"fast", modeFast},
		{"  FAST ", modeFast},
		{"Quick", modeFast},
		{"safe", modeSafe},
		{"bogus", modeSafe},
		{"", modeSafe},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			require.Equal(t, tt.want, e.Normalize(tt.in))
		})
	}
}

func TestParseRejectsUnknown(t *testing.T) {
	e := newModes()

	v, err := e.Parse(" Quick")
	require.NoError(t, err)
	require.Equal(t, modeFast, v)

	_, err = e.Parse("turbo")
	require.Error(t, err)
	require.True(t, ferrors.HasCategory(err, ferrors.CategoryValidation))
	c, ok := ferrors.AsClassified(err)
	require.True(t, ok)
	require.Equal(t, "fast, quick, safe", c.Context()["valid"])
}

func TestValidAndKeys(t *testing.T) {
	e := newModes()

	require.True(t, e.Valid(modeFast))
	require.False(t, e.Valid(mode("turbo")))
	require.Equal(t, []string{"fast", "quick", "safe"}, e.Keys())
}
