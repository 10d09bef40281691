package protocol

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"obsched/internal/model"
)

func TestFrameRoundTrip(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	req := NewRequest(3, time.Unix(1700000000, 0))
	require.NoError(t, WriteFrame(&buf, req))

	hdr := buf.Bytes()[:4]
	assert.Equal(t, uint32(buf.Len()-4), binary.LittleEndian.Uint32(hdr))

	var got Envelope
	require.NoError(t, ReadFrame(&buf, &got))
	require.NoError(t, got.Expect(OperateRequest))
	assert.Equal(t, uint64(3), got.General.SiteID)
	assert.Equal(t, float64(1700000000), got.General.Timestamp)
}

func TestReadRawToleratesTrailingNUL(t *testing.T) {
	t.Parallel()

	payload := append([]byte(`{"GENERAL-INFO":{"operate":"acknowledge","timestamp":1.5}}`), 0)
	var buf bytes.Buffer
	require.NoError(t, WriteRaw(&buf, payload))

	var env Envelope
	require.NoError(t, ReadFrame(&buf, &env))
	require.NoError(t, env.Expect(OperateAcknowledge))
	assert.Error(t, env.Expect(OperateRequest))
}

func TestReadRawRejectsOversize(t *testing.T) {
	t.Parallel()

	var hdr [4]byte
	binary.LittleEndian.PutUint32(hdr[:], MaxFrameSize+1)
	_, err := ReadRaw(bytes.NewReader(hdr[:]))
	assert.True(t, errors.Is(err, ErrFrameTooLarge))
}

func TestDeliveryRoundTrip(t *testing.T) {
	t.Parallel()

	block := &model.TaskBlock{
		ID:      "b-1",
		SiteID:  2,
		Targets: []model.Target{{ID: 100, Nside: 16, Name: "m31", RA: 10.68, Dec: 41.27}},
		Tasks:   []model.TaskRecord{{ID: 7, TargetID: 100, Nside: 16, TelescopeID: 4, SiteID: 2, Status: model.TaskGenerated}},
	}
	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, NewDelivery(block, time.Now())))

	var env Envelope
	require.NoError(t, ReadFrame(&buf, &env))
	got, err := env.Block()
	require.NoError(t, err)
	assert.Equal(t, block.ID, got.ID)
	assert.Equal(t, block.SiteID, got.SiteID)
	assert.Equal(t, block.Targets, got.Targets)
	assert.Equal(t, block.Tasks, got.Tasks)
}

func TestParseBlockSingleObjects(t *testing.T) {
	t.Parallel()

	doc := []byte(`{"TARGET-INFO":{"targ_id":5,"nside":8,"targname":"x","ra_targ":1,"dec_targ":2},
		"TASK-INFO":{"task_id":1,"targ_id":5,"tel_id":3}}`)
	b, err := ParseBlock(doc)
	require.NoError(t, err)
	require.Len(t, b.Targets, 1)
	require.Len(t, b.Tasks, 1)
	assert.Equal(t, uint64(3), b.Tasks[0].TelescopeID)

	_, err = ParseBlock([]byte(`{"TASK-INFO":`))
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestParseStatus(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		doc     string
		wantErr bool
		check   func(t *testing.T, u StatusUpdate)
	}{
		{
			name: "single telescope",
			doc:  `{"TELESCOPE-INFO":{"tel_id":7,"status":2}}`,
			check: func(t *testing.T, u StatusUpdate) {
				require.Len(t, u.Telescopes, 1)
				assert.Equal(t, StatusChange{ID: 7, Status: 2}, u.Telescopes[0])
				assert.Empty(t, u.Sites)
			},
		},
		{
			name: "arrays across sections",
			doc: `{"SITE-INFO":[{"site_id":1,"status":0},{"site_id":2,"status":2}],
				"TARGET-INFO":[{"targ_id":9,"nside":16,"status":1}],
				"TASK-INFO":[{"task_id":3,"status":4}]}`,
			check: func(t *testing.T, u StatusUpdate) {
				assert.Len(t, u.Sites, 2)
				assert.Equal(t, int64(16), u.Targets[0].Nside)
				assert.Equal(t, 4, u.Tasks[0].Status)
			},
		},
		{
			name:  "empty document",
			doc:   `{}`,
			check: func(t *testing.T, u StatusUpdate) { assert.True(t, u.Empty()) },
		},
		{name: "missing status", doc: `{"SITE-INFO":{"site_id":1}}`, wantErr: true},
		{name: "missing id", doc: `{"TASK-INFO":[{"status":1}]}`, wantErr: true},
		{name: "not json", doc: `site 1 masked`, wantErr: true},
		{name: "trailing data", doc: `{} {}`, wantErr: true},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			u, err := ParseStatus([]byte(tc.doc))
			if tc.wantErr {
				assert.ErrorIs(t, err, ErrMalformed)
				return
			}
			require.NoError(t, err)
			tc.check(t, u)
		})
	}
}
