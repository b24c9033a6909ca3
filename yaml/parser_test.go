package yaml

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/lagrangedao/go-c2d-flow/internal/models"
	"github.com/stretchr/testify/require"
)

func TestDefaultFlow(t *testing.T) {
	flow, err := HandlerYaml("")
	require.NoError(t, err)
	require.Equal(t, "branin", flow.Dataset.Metadata.Main.Name)
	require.Equal(t, "gpr", flow.Algorithm.Metadata.Main.Name)
	require.Equal(t, "python-branin", flow.Algorithm.Metadata.Main.Algorithm.Container.Tag)
	require.Equal(t, "text/text", flow.Dataset.Metadata.Main.Files[0].ContentType)

	compute := flow.Dataset.ToService("0xpublisher", "http://provider/compute")
	require.Equal(t, 4, compute.Index)
	require.Equal(t, models.ComputeService, compute.Type)
	require.Equal(t, "0xpublisher", compute.Attributes.Main.Creator)
	require.Equal(t, int64(86400), compute.Attributes.Main.Timeout)
	require.NotNil(t, compute.Attributes.Privacy)

	access := flow.Algorithm.ToService("0xpublisher", "http://provider/download")
	require.Equal(t, 3, access.Index)
	require.Nil(t, access.Attributes.Privacy)
}

func TestParseFlowRejects(t *testing.T) {
	cases := map[string]func(string) string{
		"version": func(s string) string { return strings.Replace(s, `version: "1.0"`, `version: "9.9"`, 1) },
		"service type": func(s string) string {
			return strings.Replace(s, "type: compute", "type: access", 1)
		},
		"asset type": func(s string) string {
			return strings.Replace(s, "type: algorithm", "type: dataset", 1)
		},
		"unknown field": func(s string) string {
			return strings.Replace(s, "    cost: 1.0\nalgorithm:", "    cost: 1.0\n    price: 3\nalgorithm:", 1)
		},
		"no image": func(s string) string {
			return strings.Replace(s, "image: oceanprotocol/algo_dockers", "image: \"\"", 1)
		},
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParseFlow([]byte(mutate(defaultFlow)))
			require.Error(t, err)
		})
	}
}

func TestHandlerYamlFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "flow.yaml")
	require.NoError(t, os.WriteFile(path, []byte(strings.Replace(defaultFlow, "name: branin", "name: iris", 1)), 0644))

	flow, err := HandlerYaml(path)
	require.NoError(t, err)
	require.Equal(t, "iris", flow.Dataset.Metadata.Main.Name)

	_, err = HandlerYaml(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}
