package server

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/color"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/MeKo-Tech/labelscan/internal/layout"
	"github.com/MeKo-Tech/labelscan/internal/pipeline"
	"github.com/MeKo-Tech/labelscan/internal/records"
	"github.com/MeKo-Tech/labelscan/internal/reference"
	"github.com/MeKo-Tech/labelscan/internal/staging"
	"github.com/MeKo-Tech/labelscan/internal/store"
	"github.com/MeKo-Tech/labelscan/internal/testutil"
)

// testEnv bundles a server with the collaborators it was built from.
type testEnv struct {
	server  *Server
	store   *store.Store
	staging *staging.Area
	handler http.Handler
}

type envOptions struct {
	config    Config
	reference *reference.Lists
	noStore   bool
	schema    records.Schema
}

// twoLabelDecoder reports "A" top-left and "B" bottom-right.
func twoLabelDecoder() pipeline.Decoder {
	dets := []layout.RawDetection{
		{Content: "B", Symbology: "QRCODE", Rect: layout.Rect{X: 120, Y: 50, W: 20, H: 20}},
		{Content: "A", Symbology: "QRCODE", Rect: layout.Rect{X: 10, Y: 10, W: 20, H: 20}},
	}
	return pipeline.DecoderFunc(func(_ context.Context, _ image.Image) ([]layout.RawDetection, error) {
		return dets, nil
	})
}

func newTestEnv(t *testing.T, opts envOptions) *testEnv {
	t.Helper()

	pl, err := pipeline.NewBuilder().WithDecoder(twoLabelDecoder()).Build()
	require.NoError(t, err)

	area, err := staging.New(staging.ConfigUnder(t.TempDir()))
	require.NoError(t, err)

	env := &testEnv{staging: area}
	deps := Dependencies{Pipeline: pl, Staging: area, Reference: opts.reference}
	if !opts.noStore {
		st, err := store.Open(context.Background(), store.Config{
			Driver: store.DriverSQLite,
			Path:   testutil.TempSQLitePath(t),
			Schema: opts.schema,
		})
		require.NoError(t, err)
		t.Cleanup(func() { _ = st.Close() })
		env.store = st
		deps.Sink = st
	}

	env.server, err = NewServer(opts.config, deps)
	require.NoError(t, err)
	env.handler = env.server.Handler()
	return env
}

func (e *testEnv) do(req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	e.handler.ServeHTTP(w, req)
	return w
}

func labelPNG(t *testing.T) []byte {
	t.Helper()
	return testutil.EncodePNG(t, testutil.CreateTestImage(200, 100, color.White))
}

// newUploadRequest builds a multipart POST with data in the given field.
func newUploadRequest(t *testing.T, target, field, filename string, data []byte) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if field != "" {
		part, err := mw.CreateFormFile(field, filename)
		require.NoError(t, err)
		_, err = part.Write(data)
		require.NoError(t, err)
	} else {
		require.NoError(t, mw.WriteField("note", "no image"))
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, target, &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

// upload posts a label image and returns the decoded response.
func (e *testEnv) upload(t *testing.T) UploadResponse {
	t.Helper()
	w := e.do(newUploadRequest(t, "/upload", "image", "label.png", labelPNG(t)))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var resp UploadResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func newJSONRequest(t *testing.T, target string, v any) *http.Request {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, target, bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp), w.Body.String())
	return resp
}
