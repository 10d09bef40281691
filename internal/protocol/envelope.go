package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"obsched/internal/model"
)

const (
	OperateRequest     = "request"
	OperateAcknowledge = "acknowledge"
	OperateDeliver     = "deliver"
)

// Section keys of a document.
const (
	KeyGeneral   = "GENERAL-INFO"
	KeySite      = "SITE-INFO"
	KeyTelescope = "TELESCOPE-INFO"
	KeyTarget    = "TARGET-INFO"
	KeyTask      = "TASK-INFO"
)

var ErrMalformed = errors.New("protocol: malformed document")

type GeneralInfo struct {
	Operate   string  `json:"operate"`
	Timestamp float64 `json:"timestamp"`
	BlockID   string  `json:"block_id,omitempty"`
	SiteID    uint64  `json:"site_id,omitempty"`
}

// Envelope is the hand-off document. Requests carry only the general
// section (plus the requesting site id); deliveries carry the block content.
type Envelope struct {
	General *GeneralInfo       `json:"GENERAL-INFO"`
	Targets []model.Target     `json:"TARGET-INFO,omitempty"`
	Tasks   []model.TaskRecord `json:"TASK-INFO,omitempty"`
}

func NewRequest(siteID uint64, now time.Time) Envelope {
	return Envelope{General: &GeneralInfo{
		Operate:   OperateRequest,
		Timestamp: model.EpochSeconds(now),
		SiteID:    siteID,
	}}
}

func NewAcknowledge(blockID string, now time.Time) Envelope {
	return Envelope{General: &GeneralInfo{
		Operate:   OperateAcknowledge,
		Timestamp: model.EpochSeconds(now),
		BlockID:   blockID,
	}}
}

func NewDelivery(b *model.TaskBlock, now time.Time) Envelope {
	return Envelope{
		General: &GeneralInfo{
			Operate:   OperateDeliver,
			Timestamp: model.EpochSeconds(now),
			BlockID:   b.ID,
			SiteID:    b.SiteID,
		},
		Targets: b.Targets,
		Tasks:   b.Tasks,
	}
}

// Expect validates the general section of env against the wanted operation.
func (env Envelope) Expect(operate string) error {
	if env.General == nil {
		return fmt.Errorf("%w: missing %s", ErrMalformed, KeyGeneral)
	}
	if env.General.Operate != operate {
		return fmt.Errorf("%w: operate %q, want %q", ErrMalformed, env.General.Operate, operate)
	}
	return nil
}

// Block converts a delivery envelope back into a task block.
func (env Envelope) Block() (*model.TaskBlock, error) {
	if err := env.Expect(OperateDeliver); err != nil {
		return nil, err
	}
	g := env.General
	sec := int64(g.Timestamp)
	return &model.TaskBlock{
		ID:        g.BlockID,
		SiteID:    g.SiteID,
		CreatedAt: time.Unix(sec, int64((g.Timestamp-float64(sec))*1e9)),
		Targets:   env.Targets,
		Tasks:     env.Tasks,
	}, nil
}

// ParseBlock decodes a task-block document. The general section is optional
// for documents submitted by planning modules; targets and tasks may each be
// a single object or an array.
func ParseBlock(doc []byte) (*model.TaskBlock, error) {
	var raw struct {
		General *GeneralInfo                `json:"GENERAL-INFO"`
		Targets OneOrMany[model.Target]     `json:"TARGET-INFO"`
		Tasks   OneOrMany[model.TaskRecord] `json:"TASK-INFO"`
	}
	if err := decodeStrict(doc, &raw); err != nil {
		return nil, err
	}
	b := &model.TaskBlock{Targets: raw.Targets, Tasks: raw.Tasks}
	if raw.General != nil {
		b.ID = raw.General.BlockID
		b.SiteID = raw.General.SiteID
	}
	return b, nil
}

func decodeStrict(doc []byte, v any) error {
	doc = bytes.TrimRight(doc, "\x00")
	dec := json.NewDecoder(bytes.NewReader(doc))
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	var extra any
	if err := dec.Decode(&extra); err == nil {
		return fmt.Errorf("%w: trailing data", ErrMalformed)
	}
	return nil
}

// OneOrMany decodes either a single JSON object or an array of them.
type OneOrMany[T any] []T

func (m *OneOrMany[T]) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*m = nil
		return nil
	}
	if b[0] == '[' {
		var many []T
		if err := json.Unmarshal(b, &many); err != nil {
			return err
		}
		*m = many
		return nil
	}
	var one T
	if err := json.Unmarshal(b, &one); err != nil {
		return err
	}
	*m = OneOrMany[T]{one}
	return nil
}
