package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/hkurtovic/betonara-erp/internal/domain/production/parser"
	"github.com/hkurtovic/betonara-erp/internal/domain/production/repository"
	"github.com/hkurtovic/betonara-erp/internal/domain/production/service"
)

type stubRepo struct {
	upserted int
	mappings map[string]string
	history  []repository.ImportHistory
}

func (s *stubRepo) UpsertRecords(_ context.Context, records []parser.ProductionRecord) (int, error) {
	s.upserted += len(records)
	return len(records), nil
}

func (s *stubRepo) CreateImportJob(_ context.Context, job *repository.ImportJob) error {
	job.ID = uuid.New()
	return nil
}

func (s *stubRepo) UpdateImportJobProgress(context.Context, uuid.UUID, int, int) error { return nil }

func (s *stubRepo) FinishImportJob(context.Context, uuid.UUID, string, int, int, *string) error {
	return nil
}

func (s *stubRepo) InsertImportHistory(context.Context, *repository.ImportHistory) error { return nil }

func (s *stubRepo) ListImportHistory(context.Context, int) ([]repository.ImportHistory, error) {
	return s.history, nil
}

func (s *stubRepo) GetRecipeMappings(context.Context) (map[string]string, error) {
	return s.mappings, nil
}

func (s *stubRepo) SaveRecipeMapping(_ context.Context, original, canonical string) error {
	if s.mappings == nil {
		s.mappings = make(map[string]string)
	}
	s.mappings[original] = canonical
	return nil
}

func newTestServer(t *testing.T, repo *stubRepo, limiter *rate.Limiter) *httptest.Server {
	t.Helper()
	logger := slog.New(slog.DiscardHandler)
	svc := service.NewImportService(repo, logger)
	mux := http.NewServeMux()
	New(svc, logger, 1<<20, limiter).Register(mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func multipartBody(t *testing.T, field, filename, content string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile(field, filename)
	require.NoError(t, err)
	_, err = part.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return &buf, w.FormDataContentType()
}

const legacyCSV = "RB;Datum;Naziv recepture;Kolicina proizvedenog;Agregat\n" +
	"1;15.03.2024;MB 30;10,5;5.250\n"

func TestImportEndpoint(t *testing.T) {
	t.Run("uploads a production file", func(t *testing.T) {
		repo := &stubRepo{}
		srv := newTestServer(t, repo, nil)

		body, contentType := multipartBody(t, "files", "mart.csv", legacyCSV)
		resp, err := http.Post(srv.URL+"/v1/production/imports", contentType, body)
		require.NoError(t, err)
		defer resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var out struct {
			Files []service.FileImportStatus `json:"files"`
		}
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
		require.Len(t, out.Files, 1)
		require.NotNil(t, out.Files[0].Result)
		assert.Equal(t, 1, out.Files[0].Result.Inserted)
		assert.Equal(t, "Betonara 2", out.Files[0].Result.Plant)
		assert.Equal(t, 1, repo.upserted)
	})

	t.Run("bad file is reported per file, not as request failure", func(t *testing.T) {
		srv := newTestServer(t, &stubRepo{}, nil)

		body, contentType := multipartBody(t, "files", "notes.csv", "Name;Address\nFoo;Bar\n")
		resp, err := http.Post(srv.URL+"/v1/production/imports", contentType, body)
		require.NoError(t, err)
		defer resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var out struct {
			Files []service.FileImportStatus `json:"files"`
		}
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
		require.Len(t, out.Files, 1)
		assert.Contains(t, out.Files[0].Error, "not recognized")
	})

	t.Run("missing files field", func(t *testing.T) {
		srv := newTestServer(t, &stubRepo{}, nil)

		body, contentType := multipartBody(t, "other", "mart.csv", legacyCSV)
		resp, err := http.Post(srv.URL+"/v1/production/imports", contentType, body)
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("rate limited", func(t *testing.T) {
		srv := newTestServer(t, &stubRepo{}, rate.NewLimiter(rate.Limit(0), 0))

		body, contentType := multipartBody(t, "files", "mart.csv", legacyCSV)
		resp, err := http.Post(srv.URL+"/v1/production/imports", contentType, body)
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	})
}

func TestHistoryEndpoint(t *testing.T) {
	repo := &stubRepo{history: []repository.ImportHistory{{
		FileName:        "mart.csv",
		Plant:           "Betonara 2",
		Inserted:        120,
		TotalQuantityM3: "1260.5",
		EarliestAt:      time.Date(2024, 3, 1, 7, 0, 0, 0, time.UTC),
		LatestAt:        time.Date(2024, 3, 28, 18, 30, 0, 0, time.UTC),
		DaysTouched:     []string{"2024-03-01", "2024-03-28"},
	}}}
	srv := newTestServer(t, repo, nil)

	resp, err := http.Get(srv.URL + "/v1/production/imports?limit=10")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out struct {
		History []repository.ImportHistory `json:"history"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	require.Len(t, out.History, 1)
	assert.Equal(t, "1260.5", out.History[0].TotalQuantityM3)
}

func TestMappingEndpoints(t *testing.T) {
	t.Run("save one mapping as json", func(t *testing.T) {
		repo := &stubRepo{}
		srv := newTestServer(t, repo, nil)

		resp, err := http.Post(srv.URL+"/v1/production/recipe-mappings", "application/json",
			strings.NewReader(`{"original_name":"MB 30","canonical_name":"MB30"}`))
		require.NoError(t, err)
		defer resp.Body.Close()
		require.Equal(t, http.StatusCreated, resp.StatusCode)
		assert.Equal(t, "MB30", repo.mappings["MB 30"])
	})

	t.Run("bulk load csv", func(t *testing.T) {
		repo := &stubRepo{}
		srv := newTestServer(t, repo, nil)

		csv := "original_name,canonical_name\nMB 30,MB30\nBeton C25/30,C25/30\n"
		resp, err := http.Post(srv.URL+"/v1/production/recipe-mappings", "text/csv",
			strings.NewReader(csv))
		require.NoError(t, err)
		defer resp.Body.Close()
		require.Equal(t, http.StatusCreated, resp.StatusCode)

		var out struct {
			Saved int `json:"saved"`
		}
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
		assert.Equal(t, 2, out.Saved)
		assert.Equal(t, "C25/30", repo.mappings["Beton C25/30"])
	})

	t.Run("rejects empty mapping", func(t *testing.T) {
		srv := newTestServer(t, &stubRepo{}, nil)

		resp, err := http.Post(srv.URL+"/v1/production/recipe-mappings", "application/json",
			strings.NewReader(`{"original_name":"","canonical_name":"MB30"}`))
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("lists mappings", func(t *testing.T) {
		repo := &stubRepo{mappings: map[string]string{"MB 30": "MB30"}}
		srv := newTestServer(t, repo, nil)

		resp, err := http.Get(srv.URL + "/v1/production/recipe-mappings")
		require.NoError(t, err)
		defer resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var out struct {
			Mappings map[string]string `json:"mappings"`
		}
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
		assert.Equal(t, "MB30", out.Mappings["MB 30"])
	})

	t.Run("suggests canonical names", func(t *testing.T) {
		repo := &stubRepo{mappings: map[string]string{"MB 30": "MB30", "MB 40": "MB40"}}
		srv := newTestServer(t, repo, nil)

		// Warm the mapper cache so canonical names are known.
		svcResp, err := http.Post(srv.URL+"/v1/production/recipe-mappings", "application/json",
			strings.NewReader(`{"original_name":"MB 50","canonical_name":"MB50"}`))
		require.NoError(t, err)
		svcResp.Body.Close()

		resp, err := http.Get(srv.URL + "/v1/production/recipe-mappings/suggestions?name=MB-30")
		require.NoError(t, err)
		defer resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var out struct {
			Suggestions []struct {
				CanonicalName string `json:"canonical_name"`
				Distance      int    `json:"distance"`
			} `json:"suggestions"`
		}
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
		require.NotEmpty(t, out.Suggestions)
		assert.Equal(t, "MB30", out.Suggestions[0].CanonicalName)
	})

	t.Run("suggestion requires name", func(t *testing.T) {
		srv := newTestServer(t, &stubRepo{}, nil)
		resp, err := http.Get(srv.URL + "/v1/production/recipe-mappings/suggestions")
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})
}
