package close

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	_ "github.com/Oss53pa/Atlas-Finance-sub012/testing"
)

func TestDecodeRunSummary(t *testing.T) {
	id := uuid.New()

	summary, err := decodeRunSummary(id, []byte(`{"entries":3,"accounts":5,"validated":4,"issues":1}`))
	require.NoError(t, err)
	require.Equal(t, RunSummary{Entries: 3, Accounts: 5, Validated: 4, Issues: 1}, summary)

	summary, err = decodeRunSummary(id, nil)
	require.NoError(t, err)
	require.Zero(t, summary)

	_, err = decodeRunSummary(id, []byte(`{"entries":"three"}`))
	require.Error(t, err)
	require.Contains(t, err.Error(), id.String())
}
