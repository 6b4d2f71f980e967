package export

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCSVRenderOrdersColumnsByHeader(t *testing.T) {
	data := Dataset{
		Headers: []string{"Course", "Credits", "Grade"},
		Rows: []map[string]string{
			{"Grade": "18", "Course": "Algorithms", "Credits": "3"},
			{"Course": "Databases", "Credits": "4", "Grade": "-"},
		},
	}

	out, err := NewCSVExporter().Render(data)
	require.NoError(t, err)
	require.Equal(t, "Course,Credits,Grade\nAlgorithms,3,18\nDatabases,4,-\n", string(out))
}

func TestCSVRenderEscapesCommas(t *testing.T) {
	data := Dataset{
		Headers: []string{"Course"},
		Rows:    []map[string]string{{"Course": "Logic, Sets and Proofs"}},
	}

	out, err := NewCSVExporter().Render(data)
	require.NoError(t, err)
	require.Contains(t, string(out), `"Logic, Sets and Proofs"`)
}

func TestCSVRenderRejectsHeaderlessDataset(t *testing.T) {
	_, err := NewCSVExporter().Render(Dataset{})
	require.Error(t, err)
}

func TestPDFRenderProducesDocument(t *testing.T) {
	data := Dataset{
		Headers: []string{"Student", "Grade"},
		Rows:    []map[string]string{{"Student": "ada", "Grade": "18"}},
	}

	out, err := NewPDFExporter().Render(data, "Roster Algorithms")
	require.NoError(t, err)
	require.True(t, len(out) > 0)
	require.Equal(t, "%PDF", string(out[:4]))
}
