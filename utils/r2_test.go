package utils

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeObjects struct {
	objects map[string][]byte
}

func (f *fakeObjects) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.objects[*in.Key] = data
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeObjects) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	data, ok := f.objects[*in.Key]
	if !ok {
		return nil, errors.New("NoSuchKey")
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func TestFetchProof_PrefersBucket(t *testing.T) {
	store := &R2ProofStore{client: &fakeObjects{objects: map[string][]byte{"proofs/a.png": []byte("from-bucket")}}, bucket: "b"}

	data, err := store.FetchProof(context.Background(), "proofs/a.png", "")
	require.NoError(t, err)
	assert.Equal(t, "from-bucket", string(data))
}

func TestFetchProof_FallsBackToURL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("from-cdn"))
	}))
	defer srv.Close()

	store := &R2ProofStore{client: &fakeObjects{objects: map[string][]byte{}}, bucket: "b", cdnBaseURL: srv.URL}
	data, err := store.FetchProof(context.Background(), "proofs/missing.png", srv.URL+"/proofs/missing.png")
	require.NoError(t, err)
	assert.Equal(t, "from-cdn", string(data))

	data, err = NewURLOnlyProofStore(srv.URL+"/").FetchProof(context.Background(), "ignored", srv.URL+"/proofs/a.png")
	require.NoError(t, err)
	assert.Equal(t, "from-cdn", string(data))
}

func TestFetchProof_RefusesForeignHosts(t *testing.T) {
	var hits atomic.Int32
	foreign := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		_, _ = w.Write([]byte("internal secrets"))
	}))
	defer foreign.Close()

	cases := map[string]struct {
		store *R2ProofStore
		url   string
	}{
		"other host":        {NewURLOnlyProofStore("https://cdn.example.com"), foreign.URL + "/proofs/a.png"},
		"host prefix trick": {NewURLOnlyProofStore("https://cdn.example.com"), "https://cdn.example.com.evil.test/a.png"},
		"bare cdn base":     {NewURLOnlyProofStore(foreign.URL), foreign.URL},
		"no cdn configured": {NewURLOnlyProofStore(""), foreign.URL + "/proofs/a.png"},
		"bucket miss": {
			&R2ProofStore{client: &fakeObjects{objects: map[string][]byte{}}, bucket: "b", cdnBaseURL: "https://cdn.example.com"},
			foreign.URL + "/proofs/a.png",
		},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := tc.store.FetchProof(context.Background(), "proofs/a.png", tc.url)
			assert.ErrorIs(t, err, ErrProofUnavailable)
		})
	}
	assert.Equal(t, int32(0), hits.Load())
}

func TestFetchProof_Unavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	store := NewURLOnlyProofStore(srv.URL)
	_, err := store.FetchProof(context.Background(), "", "")
	assert.ErrorIs(t, err, ErrProofUnavailable)
	_, err = store.FetchProof(context.Background(), "", srv.URL+"/proofs/gone.png")
	assert.ErrorIs(t, err, ErrProofUnavailable)
	assert.False(t, store.UploadsEnabled())
}

func TestReadLimited(t *testing.T) {
	data, err := readLimited(bytes.NewReader([]byte("12345")), 5)
	require.NoError(t, err)
	assert.Len(t, data, 5)

	_, err = readLimited(bytes.NewReader([]byte("123456")), 5)
	assert.ErrorIs(t, err, ErrTooLarge)
}
