package scheduler

import (
	"bytes"
	"encoding/json"
	"math"
	"strings"

	"obsched/internal/model"
	"obsched/internal/protocol"
	"obsched/pkg/healpix"
)

// decodeInfo accepts either {"<SECTION>":{...}} or the bare object.
func decodeInfo(doc []byte, section string, v any) error {
	doc = bytes.TrimRight(doc, "\x00")
	var wrapped map[string]json.RawMessage
	if err := json.Unmarshal(doc, &wrapped); err != nil {
		return badCommand(err)
	}
	if inner, ok := wrapped[section]; ok {
		doc = inner
	}
	if err := json.Unmarshal(doc, v); err != nil {
		return badCommand(err)
	}
	return nil
}

type siteInfo struct {
	Name *string `json:"sitename"`
	Lon  float64 `json:"site_lon"`
	Lat  float64 `json:"site_lat"`
	Alt  float64 `json:"site_alt"`
}

func parseSite(doc []byte) (model.Site, error) {
	var in siteInfo
	if err := decodeInfo(doc, protocol.KeySite, &in); err != nil {
		return model.Site{}, err
	}
	if in.Name == nil || strings.TrimSpace(*in.Name) == "" {
		return model.Site{}, invalid("sitename is required")
	}
	if in.Lat < -90 || in.Lat > 90 {
		return model.Site{}, invalid("site_lat %v out of [-90,90]", in.Lat)
	}
	if in.Lon < -180 || in.Lon >= 360 {
		return model.Site{}, invalid("site_lon %v out of [-180,360)", in.Lon)
	}
	return model.Site{Name: strings.TrimSpace(*in.Name), Lon: in.Lon, Lat: in.Lat, Alt: in.Alt}, nil
}

type telescopeInfo struct {
	Name        *string         `json:"telescop"`
	SiteID      uint64          `json:"site_id"`
	Description json.RawMessage `json:"tel_des"`
}

func parseTelescope(doc []byte) (model.Telescope, error) {
	var in telescopeInfo
	if err := decodeInfo(doc, protocol.KeyTelescope, &in); err != nil {
		return model.Telescope{}, err
	}
	if in.Name == nil || strings.TrimSpace(*in.Name) == "" {
		return model.Telescope{}, invalid("telescop is required")
	}
	return model.Telescope{
		Name:        strings.TrimSpace(*in.Name),
		SiteID:      in.SiteID,
		Description: normalizeRaw(in.Description),
	}, nil
}

type targetInfo struct {
	Name     string   `json:"targname"`
	Nside    *int64   `json:"nside"`
	RA       *float64 `json:"ra_targ"`
	Dec      *float64 `json:"dec_targ"`
	Priority int      `json:"priority"`
}

func parseTarget(doc []byte) (model.Target, error) {
	var in targetInfo
	if err := decodeInfo(doc, protocol.KeyTarget, &in); err != nil {
		return model.Target{}, err
	}
	if in.Nside == nil || in.RA == nil || in.Dec == nil {
		return model.Target{}, badCommand(errMissing("nside, ra_targ and dec_targ"))
	}
	t := model.Target{
		Name:     strings.TrimSpace(in.Name),
		Nside:    *in.Nside,
		RA:       *in.RA,
		Dec:      *in.Dec,
		Priority: in.Priority,
	}
	if err := assignTargetID(&t); err != nil {
		return model.Target{}, err
	}
	return t, nil
}

// assignTargetID validates the position and derives the identifier from it.
func assignTargetID(t *model.Target) error {
	if math.IsNaN(t.RA) || t.RA < 0 || t.RA >= 360 {
		return invalid("ra_targ %v out of [0,360)", t.RA)
	}
	if math.IsNaN(t.Dec) || t.Dec < -90 || t.Dec > 90 {
		return invalid("dec_targ %v out of [-90,90]", t.Dec)
	}
	if !validNside(t.Nside) {
		return invalid("nside %d is not a power of two in [1,%d]", t.Nside, healpix.MaxNside)
	}
	pix, err := healpix.FromRaDec(t.Nside, t.RA, t.Dec)
	if err != nil {
		return invalid("%v", err)
	}
	t.ID = uint64(pix)
	return nil
}

func validNside(n int64) bool {
	return healpix.ValidNside(n) && n&(n-1) == 0
}

type taskInfo struct {
	TargetID    *uint64         `json:"targ_id"`
	Nside       int64           `json:"nside"`
	TelescopeID *uint64         `json:"tel_id"`
	SiteID      uint64          `json:"site_id"`
	Status      *int            `json:"status"`
	ObsTime     float64         `json:"obstime"`
	Description json.RawMessage `json:"task_des"`
}

func parseTask(doc []byte) (model.TaskRecord, error) {
	var in taskInfo
	if err := decodeInfo(doc, protocol.KeyTask, &in); err != nil {
		return model.TaskRecord{}, err
	}
	if in.TargetID == nil || in.TelescopeID == nil {
		return model.TaskRecord{}, badCommand(errMissing("targ_id and tel_id"))
	}
	if in.Nside != 0 && !validNside(in.Nside) {
		return model.TaskRecord{}, invalid("nside %d is not a power of two", in.Nside)
	}
	t := model.TaskRecord{
		TargetID:    *in.TargetID,
		Nside:       in.Nside,
		TelescopeID: *in.TelescopeID,
		SiteID:      in.SiteID,
		Status:      model.TaskGenerated,
		ObsTime:     in.ObsTime,
		Description: normalizeRaw(in.Description),
	}
	if in.Status != nil {
		st, err := taskStatus(*in.Status)
		if err != nil {
			return model.TaskRecord{}, err
		}
		t.Status = st
	}
	return t, nil
}

type taskPatch struct {
	Status      *int            `json:"status"`
	ObsTime     *float64        `json:"obstime"`
	Description json.RawMessage `json:"task_des"`
}

// applyTaskPatch overwrites the fields present in doc.
func applyTaskPatch(t model.TaskRecord, doc []byte) (model.TaskRecord, error) {
	var in taskPatch
	if err := decodeInfo(doc, protocol.KeyTask, &in); err != nil {
		return t, err
	}
	if in.Status != nil {
		st, err := taskStatus(*in.Status)
		if err != nil {
			return t, err
		}
		t.Status = st
	}
	if in.ObsTime != nil {
		t.ObsTime = *in.ObsTime
	}
	if raw := normalizeRaw(in.Description); raw != nil {
		t.Description = raw
	}
	return t, nil
}

func taskStatus(v int) (model.TaskStatus, error) {
	if v < int(model.TaskSuccess) || v > int(model.TaskGenerated) {
		return 0, invalid("task status %d", v)
	}
	return model.TaskStatus(v), nil
}

func normalizeRaw(v json.RawMessage) json.RawMessage {
	v = bytes.TrimSpace(v)
	if len(v) == 0 || bytes.Equal(v, []byte("null")) {
		return nil
	}
	return append(json.RawMessage(nil), v...)
}

type errMissing string

func (e errMissing) Error() string { return "missing " + string(e) }
