// Package mipfile reads and writes the MIP container, the portable archive
// holding one board project: the board photograph, the project metadata with
// every marked point, and an integrity manifest.
package mipfile

import (
	"archive/zip"
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/multimetro/mip/pkg/model"
)

const (
	entryImage    = "image"
	entryProject  = "project.json"
	entryManifest = "manifest.json"

	formatName = "mip"

	// timeLayout fixes timestamps to millisecond precision so a round trip
	// reproduces them exactly.
	timeLayout = "2006-01-02T15:04:05.000Z07:00"
)

// FormatError means the container is readable but not a MIP archive we
// understand (wrong format tag, unsupported schema version, missing entries).
type FormatError struct {
	Reason string
}

func (e *FormatError) Error() string { return "invalid mip container: " + e.Reason }

// CorruptError means the container failed an integrity check (broken archive
// or checksum mismatch).
type CorruptError struct {
	Reason string
}

func (e *CorruptError) Error() string { return "corrupt mip container: " + e.Reason }

type pointJSON struct {
	ID             int      `json:"id"`
	X              int      `json:"x"`
	Y              int      `json:"y"`
	Shape          string   `json:"shape"`
	Radius         int      `json:"radius,omitempty"`
	Width          int      `json:"width,omitempty"`
	Height         int      `json:"height,omitempty"`
	ReferenceValue *float64 `json:"reference_value,omitempty"`
	CompareValue   *float64 `json:"compare_value,omitempty"`
	Name           string   `json:"name,omitempty"`
	Description    string   `json:"description,omitempty"`
	ComponentType  string   `json:"component_type,omitempty"`
	ExpectedValue  string   `json:"expected_value,omitempty"`
	CreatedAt      string   `json:"created_at"`
	UpdatedAt      string   `json:"updated_at"`
	MeasuredAt     string   `json:"measured_at,omitempty"`
}

type projectJSON struct {
	SchemaVersion     int         `json:"schema_version"`
	Format            string      `json:"format"`
	Name              string      `json:"name"`
	BoardModel        string      `json:"board_model"`
	Description       string      `json:"description,omitempty"`
	IsFullyFunctional bool        `json:"is_fully_functional"`
	TolerancePercent  float64     `json:"tolerance_percent"`
	ImageWidth        int         `json:"image_width,omitempty"`
	ImageHeight       int         `json:"image_height,omitempty"`
	CreatedAt         string      `json:"created_at"`
	ModifiedAt        string      `json:"modified_at"`
	Points            []pointJSON `json:"points"`
}

type manifestJSON struct {
	Algorithm string            `json:"algorithm"`
	Checksums map[string]string `json:"checksums"`
}

// Save writes p as a MIP container to w. The project is snapshotted under its
// read lock and is never modified; a failed save leaves it untouched.
func Save(p *model.Project, w io.Writer) error {
	meta := snapshot(p)
	metaBytes, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return pkgerrors.Wrap(err, "failed to encode project metadata")
	}

	image, _, _ := p.Image()

	zw := zip.NewWriter(w)

	if len(image) > 0 {
		// The raster is already encoded; store it without recompressing.
		fw, err := zw.CreateHeader(&zip.FileHeader{Name: entryImage, Method: zip.Store})
		if err != nil {
			return pkgerrors.Wrap(err, "failed to create image entry")
		}
		if _, err := fw.Write(image); err != nil {
			return pkgerrors.Wrap(err, "failed to write image entry")
		}
	}

	fw, err := zw.Create(entryProject)
	if err != nil {
		return pkgerrors.Wrap(err, "failed to create metadata entry")
	}
	if _, err := fw.Write(metaBytes); err != nil {
		return pkgerrors.Wrap(err, "failed to write metadata entry")
	}

	manifest := manifestJSON{
		Algorithm: "sha256",
		Checksums: map[string]string{entryProject: digest(metaBytes)},
	}
	if len(image) > 0 {
		manifest.Checksums[entryImage] = digest(image)
	}
	manifestBytes, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return pkgerrors.Wrap(err, "failed to encode manifest")
	}
	fw, err = zw.Create(entryManifest)
	if err != nil {
		return pkgerrors.Wrap(err, "failed to create manifest entry")
	}
	if _, err := fw.Write(manifestBytes); err != nil {
		return pkgerrors.Wrap(err, "failed to write manifest entry")
	}

	return pkgerrors.Wrap(zw.Close(), "failed to finalize container")
}

// Load reads a MIP container and rebuilds the project. Schema versions other
// than the current one fail closed with a FormatError.
func Load(r io.Reader) (*model.Project, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "failed to read container")
	}

	zr, err := zip.NewReader(bytes.NewReader(raw), int64(len(raw)))
	if err != nil {
		return nil, &CorruptError{Reason: err.Error()}
	}

	entries := map[string][]byte{}
	for _, f := range zr.File {
		b, err := readEntry(f)
		if err != nil {
			return nil, err
		}
		entries[f.Name] = b
	}

	metaBytes, ok := entries[entryProject]
	if !ok {
		return nil, &FormatError{Reason: "missing " + entryProject}
	}

	if manifestBytes, ok := entries[entryManifest]; ok {
		if err := verifyManifest(manifestBytes, entries); err != nil {
			return nil, err
		}
	} else {
		logrus.Debug("mip container has no integrity manifest, skipping verification")
	}

	var meta projectJSON
	if err := json.Unmarshal(metaBytes, &meta); err != nil {
		return nil, &FormatError{Reason: "malformed project metadata: " + err.Error()}
	}
	if meta.Format != formatName {
		return nil, &FormatError{Reason: fmt.Sprintf("unknown format %q", meta.Format)}
	}
	if meta.SchemaVersion != model.SchemaVersion {
		return nil, &FormatError{Reason: fmt.Sprintf("unsupported schema_version %d (supported: %d)", meta.SchemaVersion, model.SchemaVersion)}
	}

	return restore(meta, entries[entryImage])
}

// SaveFile writes p to path, replacing the file atomically so an interrupted
// save never leaves a truncated container behind.
func SaveFile(p *model.Project, path string) error {
	tmp := path + ".tmp"
	fp, err := os.OpenFile(tmp, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return pkgerrors.Wrapf(err, "failed to open file %s", tmp)
	}

	if err := Save(p, fp); err != nil {
		_ = fp.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := fp.Close(); err != nil {
		_ = os.Remove(tmp)
		return pkgerrors.Wrapf(err, "failed to close file %s", tmp)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return pkgerrors.Wrapf(err, "failed to replace %s", path)
	}

	logrus.WithFields(logrus.Fields{"path": path, "points": p.PointCount()}).Debug("project saved")
	return nil
}

// LoadFile reads a MIP container from path.
func LoadFile(path string) (*model.Project, error) {
	fp, err := os.Open(path)
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to open file %s", path)
	}
	defer func() {
		if err := fp.Close(); err != nil {
			logrus.Warnf("failed to close file %s", path)
		}
	}()

	return Load(fp)
}

// Info summarizes a container without materializing the project.
type Info struct {
	Name       string `json:"name"`
	BoardModel string `json:"board_model"`
	PointCount int    `json:"point_count"`
	HasImage   bool   `json:"has_image"`
	FileSize   int64  `json:"file_size"`
}

// ReadInfo returns basic information about the container at path.
func ReadInfo(path string) (*Info, error) {
	st, err := os.Stat(path)
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to stat %s", path)
	}

	zr, err := zip.OpenReader(path)
	if err != nil {
		return nil, &CorruptError{Reason: err.Error()}
	}
	defer func() { _ = zr.Close() }()

	info := &Info{FileSize: st.Size()}
	sawProject := false
	for _, f := range zr.File {
		switch f.Name {
		case entryImage:
			info.HasImage = true
		case entryProject:
			b, err := readEntry(f)
			if err != nil {
				return nil, err
			}
			var meta projectJSON
			if err := json.Unmarshal(b, &meta); err != nil {
				return nil, &FormatError{Reason: "malformed project metadata: " + err.Error()}
			}
			info.Name = meta.Name
			info.BoardModel = meta.BoardModel
			info.PointCount = len(meta.Points)
			sawProject = true
		}
	}
	if !sawProject {
		return nil, &FormatError{Reason: "missing " + entryProject}
	}
	return info, nil
}

// ExportJSON writes the uncompressed project metadata of the container read
// from r to w. Intended for debugging and backups.
func ExportJSON(r io.Reader, w io.Writer) error {
	raw, err := io.ReadAll(r)
	if err != nil {
		return pkgerrors.Wrap(err, "failed to read container")
	}
	zr, err := zip.NewReader(bytes.NewReader(raw), int64(len(raw)))
	if err != nil {
		return &CorruptError{Reason: err.Error()}
	}
	for _, f := range zr.File {
		if f.Name != entryProject {
			continue
		}
		b, err := readEntry(f)
		if err != nil {
			return err
		}
		_, err = w.Write(b)
		return pkgerrors.Wrap(err, "failed to write metadata")
	}
	return &FormatError{Reason: "missing " + entryProject}
}

func snapshot(p *model.Project) projectJSON {
	_, imgW, imgH := p.Image()
	meta := projectJSON{
		SchemaVersion:     model.SchemaVersion,
		Format:            formatName,
		Name:              p.Name(),
		BoardModel:        p.BoardModel(),
		Description:       p.Description(),
		IsFullyFunctional: p.IsFullyFunctional(),
		TolerancePercent:  p.TolerancePercent(),
		ImageWidth:        imgW,
		ImageHeight:       imgH,
		CreatedAt:         p.CreatedAt().Format(timeLayout),
		ModifiedAt:        p.ModifiedAt().Format(timeLayout),
	}

	for _, pt := range p.Points() {
		pj := pointJSON{
			ID:             pt.ID,
			X:              pt.X,
			Y:              pt.Y,
			Shape:          string(pt.Shape),
			Radius:         pt.Radius,
			Width:          pt.Width,
			Height:         pt.Height,
			ReferenceValue: pt.ReferenceValue,
			CompareValue:   pt.CompareValue,
			Name:           pt.Name,
			Description:    pt.Description,
			ComponentType:  pt.ComponentType,
			ExpectedValue:  pt.ExpectedValue,
			CreatedAt:      pt.CreatedAt.Format(timeLayout),
			UpdatedAt:      pt.UpdatedAt.Format(timeLayout),
		}
		if pt.MeasuredAt != nil {
			pj.MeasuredAt = pt.MeasuredAt.Format(timeLayout)
		}
		meta.Points = append(meta.Points, pj)
	}

	return meta
}

func restore(meta projectJSON, image []byte) (*model.Project, error) {
	createdAt, err := parseTime(meta.CreatedAt)
	if err != nil {
		return nil, err
	}
	modifiedAt, err := parseTime(meta.ModifiedAt)
	if err != nil {
		return nil, err
	}

	var points []*model.Point
	for _, pj := range meta.Points {
		pt := &model.Point{
			ID:             pj.ID,
			X:              pj.X,
			Y:              pj.Y,
			Shape:          model.Shape(pj.Shape),
			Radius:         pj.Radius,
			Width:          pj.Width,
			Height:         pj.Height,
			ReferenceValue: pj.ReferenceValue,
			CompareValue:   pj.CompareValue,
			Name:           pj.Name,
			Description:    pj.Description,
			ComponentType:  pj.ComponentType,
			ExpectedValue:  pj.ExpectedValue,
		}
		if pt.CreatedAt, err = parseTime(pj.CreatedAt); err != nil {
			return nil, err
		}
		if pt.UpdatedAt, err = parseTime(pj.UpdatedAt); err != nil {
			return nil, err
		}
		if pj.MeasuredAt != "" {
			t, err := parseTime(pj.MeasuredAt)
			if err != nil {
				return nil, err
			}
			pt.MeasuredAt = &t
		}
		points = append(points, pt)
	}

	p, err := model.Restore(meta.Name, meta.BoardModel, meta.Description, meta.IsFullyFunctional,
		meta.TolerancePercent, points, image, meta.ImageWidth, meta.ImageHeight, createdAt, modifiedAt)
	if err != nil {
		return nil, &FormatError{Reason: err.Error()}
	}
	return p, nil
}

func readEntry(f *zip.File) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, &CorruptError{Reason: fmt.Sprintf("cannot open entry %s: %v", f.Name, err)}
	}
	defer func() { _ = rc.Close() }()

	b, err := io.ReadAll(rc)
	if err != nil {
		// A CRC or decompression failure surfaces here.
		return nil, &CorruptError{Reason: fmt.Sprintf("cannot read entry %s: %v", f.Name, err)}
	}
	return b, nil
}

func verifyManifest(manifestBytes []byte, entries map[string][]byte) error {
	var manifest manifestJSON
	if err := json.Unmarshal(manifestBytes, &manifest); err != nil {
		return &FormatError{Reason: "malformed manifest: " + err.Error()}
	}
	if manifest.Algorithm != "sha256" {
		return &FormatError{Reason: fmt.Sprintf("unknown manifest algorithm %q", manifest.Algorithm)}
	}
	for name, want := range manifest.Checksums {
		b, ok := entries[name]
		if !ok {
			return &CorruptError{Reason: fmt.Sprintf("entry %s listed in manifest is missing", name)}
		}
		if got := digest(b); got != want {
			return &CorruptError{Reason: fmt.Sprintf("checksum mismatch for entry %s", name)}
		}
	}
	return nil
}

func digest(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, &FormatError{Reason: "malformed timestamp: " + err.Error()}
	}
	return t, nil
}
