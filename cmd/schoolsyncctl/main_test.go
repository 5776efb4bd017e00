package main

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"example.com/schoolsync/internal/domain"
)

func TestReadManifest(t *testing.T) {
	known, err := readManifest(strings.NewReader(`[{"path":"devices/k/a.png","updated_at":"t1"},{"path":"devices/k/b.png"}]`))
	require.NoError(t, err)
	require.Equal(t, []domain.ManifestEntry{
		{Path: "devices/k/a.png", UpdatedAt: "t1"},
		{Path: "devices/k/b.png"},
	}, known)

	_, err = readManifest(strings.NewReader(`{"path":"x"}`))
	require.Error(t, err)
}

func TestRenderDiff(t *testing.T) {
	var buf bytes.Buffer
	err := renderDiff(&buf, domain.SyncResult{
		GeneratedAt: time.Date(2024, 5, 3, 12, 0, 0, 0, time.UTC),
		ToDownload:  []domain.DownloadItem{{AssetObject: domain.AssetObject{Path: "devices/k/a.png", UpdatedAt: "t1"}}},
		ToDelete:    []string{"devices/k/old.png"},
	})
	require.NoError(t, err)
	out := buf.String()
	require.Contains(t, out, "2024-05-03T12:00:00Z")
	require.Contains(t, out, "devices/k/a.png")
	require.Contains(t, out, "devices/k/old.png")
}

func TestRenderReport(t *testing.T) {
	minutes := 25.5
	row := domain.AggregatedRow{StudentNo: 1, Name: "Kim"}
	row.Minutes[2] = &minutes

	var buf bytes.Buffer
	require.NoError(t, renderReport(&buf, []domain.AggregatedRow{row}))

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	require.Len(t, lines, 2)
	require.Contains(t, lines[0], "m12")
	fields := strings.Fields(lines[1])
	require.Equal(t, []string{"1", "Kim", "-", "-", "25.5", "-", "-", "-", "-", "-", "-", "-", "-", "-"}, fields)
}

func TestRootCommandRegistersSubcommands(t *testing.T) {
	root := newRootCmd()
	for _, name := range []string{"migrate", "diff", "report"} {
		cmd, _, err := root.Find([]string{name})
		require.NoError(t, err)
		require.Equal(t, name, cmd.Name())
	}
}
