package catalog

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const playlistsDoc = `{"playlists":[
	{"id":"p1","name":"Morning","songIds":[1,2]},
	{"id":"p2","name":"Evening","songs":[3]},
	{"id":"p3","name":"Empty"},
	{"id":"p4","name":"Null ids","songIds":null,"songs":[4]}
]}`

func TestLoadPlaylistsNormalizesSongIDs(t *testing.T) {
	lists, err := LoadPlaylists([]byte(playlistsDoc))
	require.NoError(t, err)
	require.Len(t, lists, 4)

	assert.JSONEq(t, `[1,2]`, string(lists[0]["songIds"]))
	assert.JSONEq(t, `[3]`, string(lists[1]["songIds"]))
	assert.JSONEq(t, `[3]`, string(lists[1]["songs"]))
	assert.JSONEq(t, `[]`, string(lists[2]["songIds"]))
	assert.JSONEq(t, `[4]`, string(lists[3]["songIds"]))
	assert.JSONEq(t, `"Morning"`, string(lists[0]["name"]))

	bare, err := LoadPlaylists([]byte(`[{"id":"x","songs":["a"]}]`))
	require.NoError(t, err)
	require.Len(t, bare, 1)
	assert.JSONEq(t, `["a"]`, string(bare[0]["songIds"]))

	_, err = LoadPlaylists([]byte(`{"playlists":[`))
	assert.Error(t, err)
}

func TestReadPlaylistsMissingFileIsEmpty(t *testing.T) {
	lists, err := ReadPlaylists(filepath.Join(t.TempDir(), "nope.json"))
	require.NoError(t, err)
	assert.NotNil(t, lists)
	assert.Empty(t, lists)
}

func TestListPlaylistsHandler(t *testing.T) {
	gin.SetMode(gin.TestMode)
	c, _ := openTestCatalog(t, songsDoc)
	path := filepath.Join(t.TempDir(), "playlists.json")
	logger, _ := test.NewNullLogger()
	r := gin.New()
	NewHandler(c, path, logger).RegisterRoutes(r.Group("/api"))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/playlists", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `[]`, w.Body.String())

	require.NoError(t, os.WriteFile(path, []byte(playlistsDoc), 0o644))
	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/playlists", nil))
	require.Equal(t, http.StatusOK, w.Code)
	var got []map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	require.Len(t, got, 4)
	assert.JSONEq(t, `[3]`, string(got[1]["songIds"]))

	require.NoError(t, os.WriteFile(path, []byte(`[{`), 0o644))
	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/playlists", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestRegisterMediaServesFiles(t *testing.T) {
	gin.SetMode(gin.TestMode)
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "cover.jpg"), []byte("jpeg-bytes"), 0o644))
	r := gin.New()
	RegisterMedia(r, dir)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/media/cover.jpg", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "jpeg-bytes", w.Body.String())
	assert.Equal(t, "cross-origin", w.Header().Get("Cross-Origin-Resource-Policy"))

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/media/missing.mp3", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}
