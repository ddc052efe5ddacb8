package codec

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arqsystems/refdata-platform/internal/domain"
)

type currencyData struct {
	CcyID         string
	DecimalPlaces int
}

func TestRegistry_RecordRoundTrip(t *testing.T) {
	r := NewRegistry()
	Register[currencyData](r, "Currency")

	rec := domain.Record{
		Header: domain.RecordHeader{
			UUID:          uuid.New(),
			Version:       3,
			IsActive:      true,
			LastUpdatedBy: "alice",
			LastUpdatedTs: time.Now().UTC().Truncate(time.Microsecond),
		},
		Data: &currencyData{CcyID: "USD", DecimalPlaces: 2},
	}

	b, err := r.EncodeRecord("Currency", rec)
	require.NoError(t, err)

	out, err := r.DecodeRecord("Currency", b)
	require.NoError(t, err)

	assert.Equal(t, rec.Header, out.Header)
	got, ok := out.Data.(*currencyData)
	require.True(t, ok)
	assert.Equal(t, *rec.Data.(*currencyData), *got)
}

func TestRegistry_UpsertRoundTrip(t *testing.T) {
	r := NewRegistry()
	Register[currencyData](r, "Currency")

	cmd := domain.Upsert{
		TargetUUID:      uuid.New(),
		Data:            &currencyData{CcyID: "EUR", DecimalPlaces: 2},
		UpdatedBy:       "bob",
		ExpectedVersion: 1,
	}

	b, err := r.EncodeUpsert("Currency", cmd)
	require.NoError(t, err)

	out, err := r.DecodeUpsert("Currency", b)
	require.NoError(t, err)

	assert.Equal(t, cmd.TargetUUID, out.TargetUUID)
	assert.Equal(t, cmd.UpdatedBy, out.UpdatedBy)
	assert.Equal(t, cmd.ExpectedVersion, out.ExpectedVersion)
	got, ok := out.Data.(*currencyData)
	require.True(t, ok)
	assert.Equal(t, *cmd.Data.(*currencyData), *got)
}

func TestRegistry_DeactivateRoundTrip(t *testing.T) {
	r := NewRegistry()

	cmd := domain.Deactivate{
		TargetUUID:      uuid.New(),
		UpdatedBy:       "carol",
		ExpectedVersion: 4,
	}

	b, err := r.EncodeDeactivate(cmd)
	require.NoError(t, err)

	out, err := r.DecodeDeactivate(b)
	require.NoError(t, err)
	assert.Equal(t, cmd, out)
}

func TestRegistry_DecodeRecord_Unregistered(t *testing.T) {
	r := NewRegistry()

	_, err := r.DecodeRecord("Nonexistent", []byte(`{"Header":{},"Data":{}}`))
	require.Error(t, err)

	var unreg *ErrUnregistered
	require.ErrorAs(t, err, &unreg)
	assert.Equal(t, "Nonexistent", unreg.Name)
}

func TestRegistry_EncodeRecord_Unregistered(t *testing.T) {
	r := NewRegistry()
	_, err := r.EncodeRecord("Nonexistent", domain.Record{Data: &currencyData{}})
	require.Error(t, err)

	var unreg *ErrUnregistered
	require.ErrorAs(t, err, &unreg)
}

func TestRegistry_DecodeRecord_MalformedEnvelope(t *testing.T) {
	r := NewRegistry()
	Register[currencyData](r, "Currency")

	_, err := r.DecodeRecord("Currency", []byte(`not json`))
	require.Error(t, err)
	require.ErrorIs(t, err, domain.ErrCodecFailure)
}
