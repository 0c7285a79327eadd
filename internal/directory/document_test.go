package directory

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDecodeDeployScriptLayout(t *testing.T) {
	raw := []byte(`{"networks":{"31337":{"SupplyChain":{"address":"http://127.0.0.1:8545"}},"11155111":{"Other":{"address":"x"}}}}`)
	doc, err := Decode(raw, FormatJSON)
	require.NoError(t, err)
	dep, ok := doc.Lookup("31337", ContractName)
	require.True(t, ok)
	require.Equal(t, "http://127.0.0.1:8545", dep.Address)
	require.Equal(t, []string{"31337"}, doc.NetworkIDs(ContractName))
}

func TestEncodeDecodeAcrossFormats(t *testing.T) {
	var doc Document
	doc.Set("5", ContractName, Deployment{
		Address:    "https://ledger.example",
		Owner:      "0xowner",
		DeployedAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	})
	for _, format := range []Format{FormatJSON, FormatYAML, FormatTOML} {
		data, err := Encode(doc, format)
		require.NoError(t, err, format)
		back, err := Decode(data, format)
		require.NoError(t, err, format)
		dep, ok := back.Lookup("5", ContractName)
		require.True(t, ok, format)
		require.Equal(t, "https://ledger.example", dep.Address, format)
		require.Equal(t, "0xowner", dep.Owner, format)
		require.True(t, dep.DeployedAt.Equal(doc.Networks["5"][ContractName].DeployedAt), format)
	}
}

func TestDecodeEdgeCases(t *testing.T) {
	doc, err := Decode([]byte("  \n"), FormatYAML)
	require.NoError(t, err)
	require.Empty(t, doc.NetworkIDs(ContractName))

	_, err = Decode([]byte("{"), FormatJSON)
	require.ErrorContains(t, err, "decode json directory")

	_, err = Decode([]byte("{}"), "xml")
	require.Error(t, err)
	_, err = Encode(Document{}, "xml")
	require.Error(t, err)
}

func TestFormatForKey(t *testing.T) {
	require.Equal(t, FormatJSON, FormatForKey("deployments.json"))
	require.Equal(t, FormatYAML, FormatForKey("dir/deployments.YML"))
	require.Equal(t, FormatTOML, FormatForKey("deployments.toml"))
	require.Equal(t, FormatJSON, FormatForKey("deployments"))
}
