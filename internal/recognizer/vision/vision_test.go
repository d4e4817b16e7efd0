package vision

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"cloud.google.com/go/vision/v2/apiv1/visionpb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/adverant/nexus/ocr-worker/internal/errors"
	"github.com/adverant/nexus/ocr-worker/internal/media"
)

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "credentials.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestValidateCredentials(t *testing.T) {
	tests := []struct {
		name    string
		path    func(t *testing.T) string
		wantErr bool
	}{
		{name: "empty path", path: func(*testing.T) string { return "" }, wantErr: true},
		{name: "missing file", path: func(t *testing.T) string { return filepath.Join(t.TempDir(), "nope.json") }, wantErr: true},
		{name: "malformed json", path: func(t *testing.T) string { return writeFile(t, "{not json") }, wantErr: true},
		{name: "no type field", path: func(t *testing.T) string { return writeFile(t, `{"project_id":"p"}`) }, wantErr: true},
		{name: "service account", path: func(t *testing.T) string { return writeFile(t, `{"type":"service_account"}`) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateCredentials(tt.path(t))
			if tt.wantErr {
				require.Error(t, err)
				assert.Equal(t, errors.ErrorCredentialsInvalid, errors.CodeOf(err))
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestNewAnnotatorRejectsBadCredentials(t *testing.T) {
	_, err := NewAnnotator(context.Background(), Config{CredentialsPath: filepath.Join(t.TempDir(), "missing.json")})
	assert.Equal(t, errors.ErrorCredentialsInvalid, errors.CodeOf(err))
}

func TestAnnotateBuildsRequest(t *testing.T) {
	var got *visionpb.BatchAnnotateImagesRequest
	a := newAnnotator(Config{Mode: "Document", LanguageHints: []string{"pt", "en"}},
		func(ctx context.Context, req *visionpb.BatchAnnotateImagesRequest) (*visionpb.BatchAnnotateImagesResponse, error) {
			got = req
			return &visionpb.BatchAnnotateImagesResponse{
				Responses: []*visionpb.AnnotateImageResponse{{}},
			}, nil
		}, nil)

	_, err := a.Annotate(context.Background(), media.New([]byte("jpeg-bytes")))
	require.NoError(t, err)
	require.Len(t, got.GetRequests(), 1)

	req := got.GetRequests()[0]
	assert.Equal(t, []byte("jpeg-bytes"), req.GetImage().GetContent())
	assert.Equal(t, visionpb.Feature_DOCUMENT_TEXT_DETECTION, req.GetFeatures()[0].GetType())
	assert.Equal(t, []string{"pt", "en"}, req.GetImageContext().GetLanguageHints())
	assert.Equal(t, "vision-document", a.Name())
	assert.NoError(t, a.Close())
}

func TestAnnotateDefaultsToTextMode(t *testing.T) {
	var got *visionpb.BatchAnnotateImagesRequest
	a := newAnnotator(Config{Mode: "whatever"},
		func(ctx context.Context, req *visionpb.BatchAnnotateImagesRequest) (*visionpb.BatchAnnotateImagesResponse, error) {
			got = req
			return &visionpb.BatchAnnotateImagesResponse{Responses: []*visionpb.AnnotateImageResponse{{}}}, nil
		}, nil)

	_, err := a.Annotate(context.Background(), media.New([]byte("x")))
	require.NoError(t, err)
	assert.Equal(t, visionpb.Feature_TEXT_DETECTION, got.GetRequests()[0].GetFeatures()[0].GetType())
	assert.Nil(t, got.GetRequests()[0].GetImageContext())
}

func TestAnnotateConvertsAnnotations(t *testing.T) {
	a := newAnnotator(Config{Mode: ModeDocument},
		func(ctx context.Context, req *visionpb.BatchAnnotateImagesRequest) (*visionpb.BatchAnnotateImagesResponse, error) {
			return &visionpb.BatchAnnotateImagesResponse{
				Responses: []*visionpb.AnnotateImageResponse{{
					TextAnnotations: []*visionpb.EntityAnnotation{
						{Description: "Hello world", BoundingPoly: &visionpb.BoundingPoly{
							Vertices: []*visionpb.Vertex{{X: 1, Y: 2}, {X: 30, Y: 2}, {X: 30, Y: 10}, {X: 1, Y: 10}},
						}},
						{Description: "Hello"},
						{Description: "world"},
					},
					FullTextAnnotation: &visionpb.TextAnnotation{
						Pages: []*visionpb.Page{{Confidence: 0.5}, {Confidence: 1.0}},
					},
				}},
			}, nil
		}, nil)

	resp, err := a.Annotate(context.Background(), media.New([]byte("x")))
	require.NoError(t, err)
	require.Len(t, resp.Annotations, 3)
	assert.Equal(t, "Hello world", resp.Annotations[0].Description)
	require.Len(t, resp.Annotations[0].Bounds, 4)
	assert.Equal(t, 30, resp.Annotations[0].Bounds[1].X)
	assert.Equal(t, "world", resp.Annotations[2].Description)
	require.NotNil(t, resp.Confidence)
	assert.InDelta(t, 0.75, *resp.Confidence, 1e-6)
}

func TestAnnotateNoTextHasNoConfidence(t *testing.T) {
	a := newAnnotator(Config{},
		func(ctx context.Context, req *visionpb.BatchAnnotateImagesRequest) (*visionpb.BatchAnnotateImagesResponse, error) {
			return &visionpb.BatchAnnotateImagesResponse{Responses: []*visionpb.AnnotateImageResponse{{}}}, nil
		}, nil)

	resp, err := a.Annotate(context.Background(), media.New([]byte("x")))
	require.NoError(t, err)
	assert.Empty(t, resp.Annotations)
	assert.Nil(t, resp.Confidence)
	assert.Empty(t, resp.ErrorMessage)
}

func TestAnnotatePassesTransportErrorThrough(t *testing.T) {
	rpcErr := status.Error(codes.ResourceExhausted, "quota")
	a := newAnnotator(Config{},
		func(ctx context.Context, req *visionpb.BatchAnnotateImagesRequest) (*visionpb.BatchAnnotateImagesResponse, error) {
			return nil, rpcErr
		}, nil)

	_, err := a.Annotate(context.Background(), media.New([]byte("x")))
	assert.Equal(t, codes.ResourceExhausted, status.Code(err))
}

func TestAnnotateEmptyBatchIsInBandError(t *testing.T) {
	a := newAnnotator(Config{},
		func(ctx context.Context, req *visionpb.BatchAnnotateImagesRequest) (*visionpb.BatchAnnotateImagesResponse, error) {
			return &visionpb.BatchAnnotateImagesResponse{}, nil
		}, nil)

	resp, err := a.Annotate(context.Background(), media.New([]byte("x")))
	require.NoError(t, err)
	assert.NotEmpty(t, resp.ErrorMessage)
}
