package staging

import (
	"context"
	"errors"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MeKo-Tech/labelscan/internal/layout"
	"github.com/MeKo-Tech/labelscan/internal/pipeline"
	"github.com/MeKo-Tech/labelscan/internal/testutil"
)

// newArea returns an area that keeps raw uploads.
func newArea(t *testing.T) *Area {
	t.Helper()
	cfg := ConfigUnder(t.TempDir())
	cfg.KeepUploads = true
	a, err := New(cfg)
	require.NoError(t, err)
	return a
}

func sampleAnalysis() *pipeline.Analysis {
	ordered := layout.AssignOrder([]layout.RawDetection{
		{Content: "A-1", Symbology: "CODE128", Rect: layout.Rect{X: 5, Y: 5, W: 10, H: 10}},
		{Content: "B-2", Symbology: "QRCODE", Rect: layout.Rect{X: 25, Y: 30, W: 10, H: 10}},
	}, layout.TopToBottom)
	dets, ext := layout.Normalize(ordered, layout.ExtentOrigins)
	return &pipeline.Analysis{
		ResultID:   uuid.NewString(),
		Filename:   "../../etc/My Label (1).PNG",
		Width:      40,
		Height:     50,
		Detections: dets,
		Extent:     ext,
		Annotated:  testutil.CreateTestImage(40, 50, color.White),
	}
}

func TestSaveAndLoad(t *testing.T) {
	area := newArea(t)
	an := sampleAnalysis()

	e, err := area.Save(an, []byte("raw bytes"), nil)
	require.NoError(t, err)
	assert.Equal(t, an.ResultID, e.ID)
	assert.Equal(t, "My_Label_1_.PNG", e.Filename)
	assert.Equal(t, filepath.Join(area.Config().UploadDir, an.ResultID+".png"), e.UploadPath)
	assert.FileExists(t, e.AnnotatedPath)
	assert.FileExists(t, e.ResultPath)

	loaded, err := area.Load(an.ResultID)
	require.NoError(t, err)
	assert.Equal(t, an.Detections, loaded.Detections)
	assert.Equal(t, "My_Label_1_.PNG", loaded.Filename)
	assert.Nil(t, loaded.Annotated)

	f, err := area.OpenAnnotated(an.ResultID)
	require.NoError(t, err)
	defer func() { _ = f.Close() }()
	img, err := png.Decode(f)
	require.NoError(t, err)
	assert.Equal(t, 40, img.Bounds().Dx())
}

func TestSaveRendersFallbackAndSkipsUpload(t *testing.T) {
	cfg := ConfigUnder(t.TempDir())
	cfg.KeepUploads = false
	area, err := New(cfg)
	require.NoError(t, err)

	an := sampleAnalysis()
	an.Annotated = nil
	e, err := area.Save(an, []byte("raw"), testutil.CreateTestImage(8, 8, color.Black))
	require.NoError(t, err)
	assert.Empty(t, e.UploadPath)
	assert.FileExists(t, e.AnnotatedPath)

	entries, err := os.ReadDir(cfg.UploadDir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestDefaultConfigDropsUploads(t *testing.T) {
	cfg := DefaultConfig()
	assert.False(t, cfg.KeepUploads)
	assert.Equal(t, DefaultRetention, cfg.Retention)

	cfg = ConfigUnder(t.TempDir())
	area, err := New(cfg)
	require.NoError(t, err)
	e, err := area.Save(sampleAnalysis(), []byte("raw"), nil)
	require.NoError(t, err)
	assert.Empty(t, e.UploadPath)
	entries, err := os.ReadDir(cfg.UploadDir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestSaveLeavesCallerAnalysisUntouched(t *testing.T) {
	area := newArea(t)
	an := sampleAnalysis()
	original := an.Filename

	e, err := area.Save(an, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, original, an.Filename)
	assert.Equal(t, "My_Label_1_.PNG", e.Filename)

	loaded, err := area.Load(an.ResultID)
	require.NoError(t, err)
	assert.Equal(t, "My_Label_1_.PNG", loaded.Filename)
}

func TestSaveRejects(t *testing.T) {
	area := newArea(t)
	_, err := area.Save(nil, nil, nil)
	assert.Error(t, err)

	an := sampleAnalysis()
	an.ResultID = "../escape"
	_, err = area.Save(an, nil, nil)
	assert.ErrorIs(t, err, ErrInvalidID)
}

func TestUniqueKeysPerRequest(t *testing.T) {
	area := newArea(t)
	a1, a2 := sampleAnalysis(), sampleAnalysis()
	a2.Filename = a1.Filename

	e1, err := area.Save(a1, []byte("one"), nil)
	require.NoError(t, err)
	e2, err := area.Save(a2, []byte("two"), nil)
	require.NoError(t, err)
	assert.NotEqual(t, e1.UploadPath, e2.UploadPath)

	d1, err := os.ReadFile(e1.UploadPath)
	require.NoError(t, err)
	assert.Equal(t, "one", string(d1), "same client filename does not overwrite")
}

func TestLoadErrors(t *testing.T) {
	area := newArea(t)

	_, err := area.Load("not-a-uuid")
	assert.ErrorIs(t, err, ErrInvalidID)

	_, err = area.Load(uuid.NewString())
	assert.ErrorIs(t, err, ErrNotFound)
	var se *Error
	assert.True(t, errors.As(err, &se))
	assert.Equal(t, "load", se.Op)

	_, err = area.OpenAnnotated(uuid.NewString())
	assert.ErrorIs(t, err, ErrNotFound)

	id := uuid.NewString()
	require.NoError(t, os.WriteFile(filepath.Join(area.Config().ResultsDir, id+".json"), []byte("{"), 0o600))
	_, err = area.Load(id)
	assert.ErrorContains(t, err, "corrupt")
}

func TestDelete(t *testing.T) {
	area := newArea(t)
	an := sampleAnalysis()
	e, err := area.Save(an, []byte("raw"), nil)
	require.NoError(t, err)

	require.NoError(t, area.Delete(an.ResultID))
	assert.NoFileExists(t, e.UploadPath)
	assert.NoFileExists(t, e.ResultPath)
	require.NoError(t, area.Delete(an.ResultID))
}

func TestPrune(t *testing.T) {
	area := newArea(t)
	old, fresh := sampleAnalysis(), sampleAnalysis()
	eOld, err := area.Save(old, []byte("old"), nil)
	require.NoError(t, err)
	eFresh, err := area.Save(fresh, []byte("fresh"), nil)
	require.NoError(t, err)

	stamp := time.Now().Add(-48 * time.Hour)
	for _, p := range []string{eOld.UploadPath, eOld.AnnotatedPath, eOld.ResultPath} {
		require.NoError(t, os.Chtimes(p, stamp, stamp))
	}
	foreign := filepath.Join(area.Config().ResultsDir, "notes.txt")
	require.NoError(t, os.WriteFile(foreign, []byte("x"), 0o600))
	require.NoError(t, os.Chtimes(foreign, stamp, stamp))

	n, err := area.Prune(time.Now().Add(-24 * time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = area.Load(old.ResultID)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoFileExists(t, eOld.UploadPath)
	assert.NoFileExists(t, eOld.AnnotatedPath)
	assert.FileExists(t, eFresh.UploadPath)
	assert.FileExists(t, eFresh.ResultPath)
	assert.FileExists(t, foreign)
}

func TestRunJanitor(t *testing.T) {
	cfg := ConfigUnder(t.TempDir())
	cfg.Retention = time.Millisecond
	area, err := New(cfg)
	require.NoError(t, err)
	an := sampleAnalysis()
	_, err = area.Save(an, nil, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		area.RunJanitor(ctx, 5*time.Millisecond)
		close(done)
	}()

	assert.Eventually(t, func() bool {
		_, err := area.Load(an.ResultID)
		return errors.Is(err, ErrNotFound)
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	<-done

	cfg.Retention = 0
	idle, err := New(cfg)
	require.NoError(t, err)
	idle.RunJanitor(context.Background(), time.Millisecond) // returns at once
}

func TestSanitizeFilename(t *testing.T) {
	cases := map[string]string{
		"label.png":           "label.png",
		`C:\Users\x\scan.jpg`: "scan.jpg",
		"../../secret":        "secret",
		"   ":                 "upload",
		"..":                  "upload",
	}
	for in, want := range cases {
		assert.Equal(t, want, SanitizeFilename(in), in)
	}
	assert.Equal(t, "rger_ber_Etikett.gif", SanitizeFilename("Ärger über Etikett.gif"))
}

func TestValidateID(t *testing.T) {
	assert.NoError(t, ValidateID(uuid.NewString()))
	assert.ErrorIs(t, ValidateID(""), ErrInvalidID)
	assert.ErrorIs(t, ValidateID("{"+uuid.NewString()+"}"), ErrInvalidID)
}
