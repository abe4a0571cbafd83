package mipfile

import (
	"archive/zip"
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/multimetro/mip/pkg/model"
)

func sampleProject(t *testing.T) *model.Project {
	t.Helper()

	p, err := model.NewProject("placa-fonte", "XR-500 rev2")
	require.NoError(t, err)
	p.SetDescription("fonte chaveada 12V")
	require.NoError(t, p.SetTolerancePercent(7.5))
	require.NoError(t, p.SetImage([]byte("not-a-real-png-but-opaque-bytes"), 640, 480))

	id, err := p.AddPoint(&model.Point{X: 100, Y: 120, Shape: model.ShapeCircle, Radius: 12, Name: "C4", ComponentType: "capacitor"})
	require.NoError(t, err)
	require.NoError(t, p.SetValue(id, model.RoleReference, 3.291, time.Now()))
	require.NoError(t, p.SetValue(id, model.RoleTest, 3.305, time.Now()))

	_, err = p.AddPoint(&model.Point{X: 300, Y: 50, Shape: model.ShapeRectangle, Width: 30, Height: 14, Name: "R10"})
	require.NoError(t, err)

	return p
}

func TestRoundTrip(t *testing.T) {
	p := sampleProject(t)

	var buf bytes.Buffer
	require.NoError(t, Save(p, &buf))

	q, err := Load(&buf)
	require.NoError(t, err)

	assert.Equal(t, p.Name(), q.Name())
	assert.Equal(t, p.BoardModel(), q.BoardModel())
	assert.Equal(t, p.Description(), q.Description())
	assert.Equal(t, p.IsFullyFunctional(), q.IsFullyFunctional())
	assert.Equal(t, p.TolerancePercent(), q.TolerancePercent())

	img, w, h := q.Image()
	assert.Equal(t, []byte("not-a-real-png-but-opaque-bytes"), img)
	assert.Equal(t, 640, w)
	assert.Equal(t, 480, h)

	// Timestamps survive to millisecond precision.
	assert.True(t, q.CreatedAt().Equal(p.CreatedAt().Truncate(time.Millisecond)))
	assert.True(t, q.ModifiedAt().Equal(p.ModifiedAt().Truncate(time.Millisecond)))

	want := p.Points()
	got := q.Points()
	require.Len(t, got, len(want))
	for i := range want {
		assert.Equal(t, want[i].ID, got[i].ID)
		assert.Equal(t, want[i].X, got[i].X)
		assert.Equal(t, want[i].Y, got[i].Y)
		assert.Equal(t, want[i].Shape, got[i].Shape)
		assert.Equal(t, want[i].Radius, got[i].Radius)
		assert.Equal(t, want[i].Width, got[i].Width)
		assert.Equal(t, want[i].Height, got[i].Height)
		assert.Equal(t, want[i].Name, got[i].Name)
		assert.Equal(t, want[i].ReferenceValue, got[i].ReferenceValue)
		assert.Equal(t, want[i].CompareValue, got[i].CompareValue)
		assert.True(t, got[i].CreatedAt.Equal(want[i].CreatedAt.Truncate(time.Millisecond)))
	}

	// IDs keep incrementing after a reload.
	id, err := q.AddPoint(&model.Point{X: 1, Y: 1, Shape: model.ShapeCircle, Radius: 2})
	require.NoError(t, err)
	assert.Equal(t, 3, id)
}

func TestSaveLoadFile(t *testing.T) {
	p := sampleProject(t)
	path := filepath.Join(t.TempDir(), "placa.mip")

	require.NoError(t, SaveFile(p, path))

	q, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, 2, q.PointCount())

	info, err := ReadInfo(path)
	require.NoError(t, err)
	assert.Equal(t, "placa-fonte", info.Name)
	assert.Equal(t, "XR-500 rev2", info.BoardModel)
	assert.Equal(t, 2, info.PointCount)
	assert.True(t, info.HasImage)
	assert.Positive(t, info.FileSize)
}

func TestLoadRejectsUnsupportedSchemaVersion(t *testing.T) {
	p := sampleProject(t)
	var buf bytes.Buffer
	require.NoError(t, Save(p, &buf))

	// Rewrite the container with a future schema version and a fresh
	// manifest so only the version check can fail.
	tampered := rewriteProjectEntry(t, buf.Bytes(), func(meta map[string]any) {
		meta["schema_version"] = 99
	})

	_, err := Load(bytes.NewReader(tampered))
	var ferr *FormatError
	require.ErrorAs(t, err, &ferr)
}

func TestLoadRejectsUnknownFormat(t *testing.T) {
	p := sampleProject(t)
	var buf bytes.Buffer
	require.NoError(t, Save(p, &buf))

	tampered := rewriteProjectEntry(t, buf.Bytes(), func(meta map[string]any) {
		meta["format"] = "zip-of-something-else"
	})

	_, err := Load(bytes.NewReader(tampered))
	var ferr *FormatError
	require.ErrorAs(t, err, &ferr)
}

func TestLoadDetectsChecksumMismatch(t *testing.T) {
	p := sampleProject(t)
	var buf bytes.Buffer
	require.NoError(t, Save(p, &buf))

	// Rewrite project.json without refreshing the manifest.
	raw := buf.Bytes()
	zr, err := zip.NewReader(bytes.NewReader(raw), int64(len(raw)))
	require.NoError(t, err)

	var out bytes.Buffer
	zw := zip.NewWriter(&out)
	for _, f := range zr.File {
		rc, err := f.Open()
		require.NoError(t, err)
		b := readAll(t, rc)

		if f.Name == "project.json" {
			b = bytes.Replace(b, []byte("placa-fonte"), []byte("placa-trocada"), 1)
		}
		fw, err := zw.Create(f.Name)
		require.NoError(t, err)
		_, err = fw.Write(b)
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())

	_, err = Load(&out)
	var cerr *CorruptError
	require.ErrorAs(t, err, &cerr)
}

func TestLoadRejectsGarbage(t *testing.T) {
	_, err := Load(bytes.NewReader([]byte("definitely not a zip archive")))
	var cerr *CorruptError
	require.ErrorAs(t, err, &cerr)
}

func TestExportJSON(t *testing.T) {
	p := sampleProject(t)
	var buf bytes.Buffer
	require.NoError(t, Save(p, &buf))

	var out bytes.Buffer
	require.NoError(t, ExportJSON(&buf, &out))

	var meta map[string]any
	require.NoError(t, json.Unmarshal(out.Bytes(), &meta))
	assert.Equal(t, "placa-fonte", meta["name"])
}

// rewriteProjectEntry rebuilds the container mutating the project metadata
// and regenerating the manifest so integrity checks still pass.
func rewriteProjectEntry(t *testing.T, raw []byte, mutate func(map[string]any)) []byte {
	t.Helper()

	zr, err := zip.NewReader(bytes.NewReader(raw), int64(len(raw)))
	require.NoError(t, err)

	entries := map[string][]byte{}
	for _, f := range zr.File {
		rc, err := f.Open()
		require.NoError(t, err)
		entries[f.Name] = readAll(t, rc)
	}

	var meta map[string]any
	require.NoError(t, json.Unmarshal(entries["project.json"], &meta))
	mutate(meta)
	b, err := json.Marshal(meta)
	require.NoError(t, err)
	entries["project.json"] = b

	var manifest struct {
		Algorithm string            `json:"algorithm"`
		Checksums map[string]string `json:"checksums"`
	}
	require.NoError(t, json.Unmarshal(entries["manifest.json"], &manifest))
	manifest.Checksums["project.json"] = digest(b)
	mb, err := json.Marshal(manifest)
	require.NoError(t, err)
	entries["manifest.json"] = mb

	var out bytes.Buffer
	zw := zip.NewWriter(&out)
	for name, data := range entries {
		fw, err := zw.Create(name)
		require.NoError(t, err)
		_, err = fw.Write(data)
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return out.Bytes()
}

func readAll(t *testing.T, rc interface {
	Read([]byte) (int, error)
	Close() error
}) []byte {
	t.Helper()
	defer func() { _ = rc.Close() }()
	var buf bytes.Buffer
	_, err := buf.ReadFrom(rc)
	require.NoError(t, err)
	return buf.Bytes()
}

func TestSaveFileAtomicReplace(t *testing.T) {
	p := sampleProject(t)
	path := filepath.Join(t.TempDir(), "placa.mip")

	require.NoError(t, SaveFile(p, path))
	first, err := os.ReadFile(path)
	require.NoError(t, err)

	require.NoError(t, p.SetTolerancePercent(1.25))
	require.NoError(t, SaveFile(p, path))
	second, err := os.ReadFile(path)
	require.NoError(t, err)

	assert.NotEqual(t, first, second)
	_, err = os.Stat(path + ".tmp")
	assert.True(t, os.IsNotExist(err))
}
