package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"grantsmith/api/internal/proposal"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetIn(strings.NewReader(stdin))
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func writeSnapshotFile(t *testing.T, doc proposal.Document) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "proposal.json")
	require.NoError(t, writeSnapshot(path, doc))
	return path
}

func TestTemplatesListsBuiltinCatalog(t *testing.T) {
	out, err := execute(t, "", "templates")
	require.NoError(t, err)
	assert.Contains(t, out, "* standard")
	assert.Contains(t, out, "foundation-short")
	assert.Contains(t, out, "4. Budget")
}

func TestFormatReadsStdin(t *testing.T) {
	out, err := execute(t, "EXECUTIVE SUMMARY\n- first point\nPlain paragraph.", "format", "-")
	require.NoError(t, err)

	var blocks []map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &blocks))
	require.NotEmpty(t, blocks)
	assert.Equal(t, "heading", blocks[0]["kind"])
}

func TestAskExtractsRecommendation(t *testing.T) {
	out, err := execute(t, "Costs.\nBUDGET_RECOMMENDATION: Type 3, 2 cohort(s), R500000\n", "ask", "-")
	require.NoError(t, err)
	assert.Equal(t, "R500,000 for Type 3, 2 cohorts\n", out)

	_, err = execute(t, "No figures here.", "ask", "-")
	assert.Error(t, err)
}

func TestGenerateWritesSnapshotBack(t *testing.T) {
	doc := proposal.New("p-1", "Artisan pipeline", "foundation-short", []string{"Summary", "Need", "Budget"})
	path := writeSnapshotFile(t, doc)

	out, err := execute(t, "", "generate", path)
	require.NoError(t, err)
	assert.Contains(t, out, "3/3 complete")

	saved, err := readSnapshot(path)
	require.NoError(t, err)
	assert.Equal(t, 3, saved.CompletedCount())
	assert.NotNil(t, saved.LastFullRunAt)

	out, err = execute(t, "", "assemble", path)
	require.NoError(t, err)
	assert.Contains(t, out, "SUMMARY")
	assert.Contains(t, out, "Builds on: Summary, Need.")

	fingerprint, err := execute(t, "", "assemble", "--fingerprint", path)
	require.NoError(t, err)
	assert.Equal(t, proposal.Fingerprint(proposal.Assemble(saved))+"\n", fingerprint)
}

func TestGenerateSingleSection(t *testing.T) {
	doc := proposal.New("p-2", "Artisan pipeline", "", []string{"Summary", "Need"})
	path := writeSnapshotFile(t, doc)

	out, err := execute(t, "", "generate", "--section", "Need", path)
	require.NoError(t, err)
	assert.Equal(t, "Need: READY\n", out)

	_, err = execute(t, "", "generate", "--section", "Missing", path)
	assert.Error(t, err)
}

func TestAssembleRejectsInvalidSnapshot(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.json")
	require.NoError(t, os.WriteFile(path, []byte("{"), 0o644))
	_, err := execute(t, "", "assemble", path)
	assert.ErrorContains(t, err, "parse snapshot")
}
