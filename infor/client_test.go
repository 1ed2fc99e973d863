// Copyright (C) 2026 Gestima s.r.o.
// See LICENSE for copying information.

package infor_test

import (
	"encoding/base64"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"gestima.io/gestima/infor"
	"gestima.io/gestima/private/testcontext"
)

func TestNewClient_RefusesProductionConfigs(t *testing.T) {
	for _, name := range []string{"LIVE", "live", " prod ", "Production", "SL"} {
		_, err := infor.NewClient(zaptest.NewLogger(t), infor.Config{
			BaseURL:    "http://localhost",
			ConfigName: name,
		})
		require.True(t, infor.ErrForbiddenConfig.Has(err), "config %q", name)
	}

	_, err := infor.NewClient(zaptest.NewLogger(t), infor.Config{
		BaseURL:    "http://localhost",
		ConfigName: "TEST",
	})
	require.NoError(t, err)
}

func TestNewClient_RequiresBaseURL(t *testing.T) {
	_, err := infor.NewClient(zaptest.NewLogger(t), infor.Config{ConfigName: "TEST"})
	require.Error(t, err)
}

// erpServer fakes the token and load endpoints.
func erpServer(t *testing.T, tokenCalls *int32, loadBody string) *httptest.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/ido/token/", func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "secret", r.Header.Get("X-Infor-MongoosePassword"))
		atomic.AddInt32(tokenCalls, 1)
		fmt.Fprint(w, `{"Token":"tok-1","ExpiresIn":3600}`)
	})
	mux.HandleFunc("/ido/load/", func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "tok-1", r.Header.Get("Authorization"))
		require.Equal(t, "TEST", r.Header.Get("X-Infor-MongooseConfig"))
		fmt.Fprint(w, loadBody)
	})
	return httptest.NewServer(mux)
}

func newTestClient(t *testing.T, baseURL string) *infor.Client {
	client, err := infor.NewClient(zaptest.NewLogger(t), infor.Config{
		BaseURL:    baseURL,
		ConfigName: "TEST",
		Username:   "sync",
		Password:   "secret",
	})
	require.NoError(t, err)
	return client
}

func TestLoadCollection_ObjectItems(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	var tokenCalls int32
	server := erpServer(t, &tokenCalls,
		`{"Items":[{"Item":"A-1","Description":"bracket","DerRunMchHrs":12.5}],"Bookmark":"bm1","MoreRowsExist":true}`)
	defer server.Close()

	client := newTestClient(t, server.URL)
	result, err := client.LoadCollection(ctx, infor.LoadRequest{
		IDO:        "SLItems",
		Properties: []string{"Item", "Description", "DerRunMchHrs"},
	})
	require.NoError(t, err)
	require.Len(t, result.Rows, 1)
	require.Equal(t, "A-1", result.Rows[0].String("Item"))
	require.Equal(t, "bm1", result.Bookmark)
	require.True(t, result.HasMore)

	hours, ok := result.Rows[0].Float("DerRunMchHrs")
	require.True(t, ok)
	require.Equal(t, 12.5, hours)
}

func TestLoadCollection_PositionalItems(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	var tokenCalls int32
	server := erpServer(t, &tokenCalls,
		`{"Items":[["A-1","bracket"],["B-2",null]],"Bookmark":"","MoreRowsExist":false}`)
	defer server.Close()

	client := newTestClient(t, server.URL)
	result, err := client.LoadCollection(ctx, infor.LoadRequest{
		IDO:        "SLItems",
		Properties: []string{"Item", "Description"},
	})
	require.NoError(t, err)
	require.Len(t, result.Rows, 2)
	require.Equal(t, "bracket", result.Rows[0].String("Description"))
	require.Equal(t, "B-2", result.Rows[1].String("Item"))
	require.True(t, result.Rows[1].Empty("Description"))
	require.False(t, result.HasMore)
}

func TestLoadCollection_TokenIsCached(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	var tokenCalls int32
	server := erpServer(t, &tokenCalls, `{"Items":[],"MoreRowsExist":false}`)
	defer server.Close()

	client := newTestClient(t, server.URL)
	for i := 0; i < 3; i++ {
		_, err := client.LoadCollection(ctx, infor.LoadRequest{IDO: "SLItems", Properties: []string{"Item"}})
		require.NoError(t, err)
	}
	require.Equal(t, int32(1), atomic.LoadInt32(&tokenCalls))
}

func TestDownloadDocument(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	payload := []byte("%PDF-1.4 drawing")
	encoded := base64.StdEncoding.EncodeToString(payload)

	var tokenCalls int32
	server := erpServer(t, &tokenCalls, fmt.Sprintf(
		`{"Items":[{"RowPointer":"rp-1","DocumentObject":%q}],"MoreRowsExist":false}`, encoded))
	defer server.Close()

	client := newTestClient(t, server.URL)
	data, err := client.DownloadDocument(ctx, "rp-1")
	require.NoError(t, err)
	require.Equal(t, payload, data)
}

func TestRow_Time(t *testing.T) {
	row := infor.Row{
		"A": "2026-03-01 08:30:00.1234567",
		"B": "2026-03-01T08:30:00",
		"C": "2026-03-01",
		"D": "not a time",
	}

	parsed, ok := row.Time("A")
	require.True(t, ok)
	require.Equal(t, time.Date(2026, 3, 1, 8, 30, 0, 0, time.UTC), parsed)

	parsed, ok = row.Time("B")
	require.True(t, ok)
	require.Equal(t, time.Date(2026, 3, 1, 8, 30, 0, 0, time.UTC), parsed)

	parsed, ok = row.Time("C")
	require.True(t, ok)
	require.Equal(t, time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC), parsed)

	_, ok = row.Time("D")
	require.False(t, ok)
}

func TestFormatFilterTime(t *testing.T) {
	loc := time.FixedZone("CET", 3600)
	at := time.Date(2026, 3, 1, 9, 30, 0, 0, loc)
	require.Equal(t, "2026-03-01 08:30:00", infor.FormatFilterTime(at))
}
