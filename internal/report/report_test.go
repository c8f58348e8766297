package report

import (
	"bytes"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shaunagostinho/echocheck/internal/digest"
	"github.com/shaunagostinho/echocheck/internal/payload"
	"github.com/shaunagostinho/echocheck/internal/stats"
	"github.com/shaunagostinho/echocheck/internal/transfer"
)

func completed(t *testing.T, data, echo []byte, key []byte) (*transfer.Session, *digest.Pair, *stats.Collector) {
	t.Helper()
	d, err := digest.New("sha256", key)
	require.NoError(t, err)
	d.UpdateTX(data)
	d.UpdateRX(echo)

	clk := time.Unix(100, 0)
	st := &stats.Collector{Now: func() time.Time { return clk }}
	st.Start()
	st.OnWrite(len(data))
	st.OnRead(len(echo))
	clk = clk.Add(time.Second)
	st.Stop()

	s := &transfer.Session{
		ID:       "sess",
		Size:     int64(len(data)),
		Written:  int64(len(data)),
		Read:     int64(len(echo)),
		State:    transfer.Complete,
		Received: echo,
	}
	return s, d, st
}

func TestBuild_Pass(t *testing.T) {
	data := payload.Seeded(2048, 1)
	s, d, st := completed(t, data, data, nil)

	r := Build(s, data, d, st, Meta{Port: "loopback://", ChunkSize: 256})
	assert.True(t, r.OK)
	assert.Equal(t, r.TXDigest, r.RXDigest)
	assert.Len(t, r.TXDigest, 64)
	assert.Equal(t, int64(2048), r.BytesWritten)
	assert.Equal(t, int64(2048), r.BytesRead)
	assert.Greater(t, r.TXRate, 0.0)
	assert.Greater(t, r.RXRate, 0.0)
	assert.Nil(t, r.MismatchOffset)
	assert.NoError(t, r.Err())
	assert.Equal(t, ExitOK, r.ExitCode())
	assert.Equal(t, "Hash", r.Mode)
	assert.Equal(t, "sha256", r.Algorithm)
}

func TestBuild_DigestMismatch(t *testing.T) {
	data := payload.Seeded(512, 2)
	echo := append([]byte(nil), data...)
	echo[300] ^= 0x80
	s, d, st := completed(t, data, echo, []byte("k"))

	r := Build(s, data, d, st, Meta{Port: "/dev/ttyACM0", ChunkSize: 64})
	assert.False(t, r.OK)
	assert.NotEqual(t, r.TXDigest, r.RXDigest)
	require.NotNil(t, r.MismatchOffset)
	assert.Equal(t, int64(300), *r.MismatchOffset)
	assert.ErrorIs(t, r.Err(), ErrDigestMismatch)
	assert.Contains(t, r.Err().Error(), "offset 300")
	assert.Equal(t, ExitMismatch, r.ExitCode())
	assert.Equal(t, "HMAC", r.Mode)
}

func TestBuild_LengthMismatch(t *testing.T) {
	data := payload.Seeded(100, 2)
	s, d, st := completed(t, data, data[:90], nil)

	r := Build(s, data, d, st, Meta{})
	assert.False(t, r.OK)
	assert.ErrorIs(t, r.Err(), ErrDigestMismatch)
	assert.Contains(t, r.Err().Error(), "read 90 of 100")
}

func TestWriteText(t *testing.T) {
	data := payload.Seeded(64, 1)
	s, d, st := completed(t, data, data, nil)
	r := Build(s, data, d, st, Meta{Port: "COM7", ChunkSize: 16})

	var out bytes.Buffer
	require.NoError(t, Write(&out, r, "text"))
	txt := out.String()

	for _, want := range []string{
		"Port           : COM7",
		"Bytes          : 64",
		"Chunk size     : 16",
		"Mode           : Hash (sha256)",
		"Elapsed (s)    : 1.000",
		"TX rate (Mb/s) : 0.001",
		"TX digest      : " + r.TXDigest,
		"RX digest      : " + r.RXDigest,
		"Result         : PASS",
	} {
		assert.Contains(t, txt, want)
	}
	assert.NotContains(t, txt, "First mismatch")
}

func TestWriteText_Fail(t *testing.T) {
	data := payload.Seeded(64, 1)
	echo := append([]byte(nil), data...)
	echo[0]++
	s, d, st := completed(t, data, echo, nil)
	r := Build(s, data, d, st, Meta{})

	var out bytes.Buffer
	require.NoError(t, WriteText(&out, r))
	assert.Contains(t, out.String(), "First mismatch : offset 0")
	assert.Contains(t, out.String(), "Result         : FAIL")
}

func TestWrite_JSON(t *testing.T) {
	data := payload.Seeded(32, 1)
	s, d, st := completed(t, data, data, nil)
	r := Build(s, data, d, st, Meta{Port: "p", ChunkSize: 8})

	var out bytes.Buffer
	require.NoError(t, Write(&out, r, "json"))

	var back map[string]any
	require.NoError(t, json.Unmarshal(out.Bytes(), &back))
	assert.Equal(t, true, back["ok"])
	assert.Equal(t, r.TXDigest, back["tx_digest"])
	assert.NotContains(t, back, "mismatch_offset")
}

func TestWrite_UnknownFormat(t *testing.T) {
	assert.Error(t, Write(&bytes.Buffer{}, Result{}, "xml"))
}

func TestAborted_KeepsCountsWithoutDigests(t *testing.T) {
	data := payload.Seeded(1024, 3)
	s, d, st := completed(t, data, data[:100], nil)
	s.State = transfer.Failed

	r := Aborted(s, d, st, Meta{Port: "/dev/ttyUSB0", ChunkSize: 64})
	assert.False(t, r.OK)
	assert.Empty(t, r.TXDigest)
	assert.Empty(t, r.RXDigest)
	assert.Equal(t, int64(1024), r.Bytes)
	assert.Equal(t, int64(100), r.BytesRead)
	assert.Equal(t, "/dev/ttyUSB0", r.Port)
	assert.Nil(t, r.MismatchOffset)
}
