package core

import (
	"testing"

	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/util"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const helloSHA256 = "b94d27b9934d3e08a52e52d7da7dabfac484efe37a5380ee9088f7ace2efcde9"

func TestParseChecksum(t *testing.T) {
	tests := []struct {
		in      string
		algo    string
		wantErr bool
	}{
		{in: "sha256:" + helloSHA256, algo: "sha256"},
		{in: "SHA256:" + helloSHA256, algo: "sha256"},
		{in: helloSHA256, algo: "sha256"},
		{in: "5eb63bbbe01eeed093cb22bb8f5acdc3", algo: "md5"},
		{in: "2aae6c35c94fcfb415dbe95f408b9ce91ee846ed", algo: "sha1"},
		{in: "sha1:" + helloSHA256, wantErr: true},
		{in: "crc32:deadbeef", wantErr: true},
		{in: "abc", wantErr: true},
		{in: "zz" + helloSHA256[2:], wantErr: true},
		{in: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			algo, digest, err := ParseChecksum(tt.in)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidChecksum)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.algo, algo)
			assert.NotEmpty(t, digest)
		})
	}
}

func TestChecksumVerifier(t *testing.T) {
	fs := memfs.New()
	require.NoError(t, util.WriteFile(fs, "/out/hello.txt", []byte("hello world"), 0o644))
	v := NewChecksumVerifier(fs)

	sum, err := v.Compute("/out/hello.txt", "sha256")
	require.NoError(t, err)
	assert.Equal(t, helloSHA256, sum)

	md5sum, err := v.Compute("/out/hello.txt", "md5")
	require.NoError(t, err)
	assert.Equal(t, "5eb63bbbe01eeed093cb22bb8f5acdc3", md5sum)

	res, err := v.Verify("/out/hello.txt", "sha256:"+helloSHA256)
	require.NoError(t, err)
	assert.True(t, res.Match)

	res, err = v.Verify("/out/hello.txt", "5eb63bbbe01eeed093cb22bb8f5acdc4")
	require.NoError(t, err)
	assert.False(t, res.Match)
	assert.Equal(t, "md5", res.Algorithm)
	assert.Equal(t, "5eb63bbbe01eeed093cb22bb8f5acdc3", res.Actual)

	_, err = v.Compute("/out/missing", "sha256")
	assert.Error(t, err)
	_, err = v.Compute("/out/hello.txt", "blake3")
	assert.ErrorIs(t, err, ErrInvalidChecksum)
}
