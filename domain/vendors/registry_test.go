package vendors

import (
	"context"
	"iter"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/engagic/engagic/pkg/apperror"
	"github.com/engagic/engagic/pkg/logger"
)

type stubAdapter struct {
	city CityRef
}

func (a *stubAdapter) Vendor() string     { return "stub" }
func (a *stubAdapter) Metadata() Metadata { return Metadata{SupportsItems: true} }
func (a *stubAdapter) FetchMeetings(ctx context.Context, window FetchWindow) iter.Seq2[RawMeeting, error] {
	return func(yield func(RawMeeting, error) bool) {}
}

func TestRegistry(t *testing.T) {
	log := logger.NewLogger()
	client := testClient(t, clientSettings{})

	t.Run("dispatches by vendor name", func(t *testing.T) {
		reg := NewRegistry(client, log)
		reg.Register("stub", func(city CityRef, deps Deps) Adapter {
			assert.Same(t, client, deps.Client)
			return &stubAdapter{city: city}
		})

		adapter, err := reg.Adapter(CityRef{Banana: "paloaltoCA", Vendor: "stub", Slug: "palo-alto"})
		require.NoError(t, err)
		assert.Equal(t, "stub", adapter.Vendor())
		assert.Equal(t, "palo-alto", adapter.(*stubAdapter).city.Slug)
	})

	t.Run("unknown vendor is a validation error", func(t *testing.T) {
		reg := NewRegistry(client, log)
		_, err := reg.Adapter(CityRef{Banana: "paloaltoCA", Vendor: "fax-machine"})
		require.Error(t, err)
		assert.ErrorIs(t, err, apperror.ErrValidation)
	})

	t.Run("known gates seed imports", func(t *testing.T) {
		reg := NewRegistry(client, log)
		reg.Register("stub", func(city CityRef, deps Deps) Adapter { return &stubAdapter{} })

		assert.True(t, reg.Known("stub"))
		assert.False(t, reg.Known("fax-machine"))
	})

	t.Run("vendor names come back sorted", func(t *testing.T) {
		reg := NewRegistry(client, log)
		factory := func(city CityRef, deps Deps) Adapter { return &stubAdapter{} }
		reg.Register("zulu", factory)
		reg.Register("alpha", factory)
		reg.Register("mike", factory)

		assert.Equal(t, []string{"alpha", "mike", "zulu"}, reg.Vendors())
	})
}
