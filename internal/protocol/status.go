package protocol

import "fmt"

// Section entries use pointers so a missing field differs from a zero value.
type siteStatus struct {
	ID     *uint64 `json:"site_id"`
	Status *int    `json:"status"`
}

type telescopeStatus struct {
	ID     *uint64 `json:"tel_id"`
	Status *int    `json:"status"`
}

type targetStatus struct {
	ID     *uint64 `json:"targ_id"`
	Nside  *int64  `json:"nside"`
	Status *int    `json:"status"`
}

type taskStatus struct {
	ID     *uint64 `json:"task_id"`
	Status *int    `json:"status"`
}

// StatusChange is a validated status entry.
type StatusChange struct {
	ID     uint64
	Nside  int64 // targets only; 0 matches any resolution
	Status int
}

// StatusUpdate is a parsed status document.
type StatusUpdate struct {
	Sites      []StatusChange
	Telescopes []StatusChange
	Targets    []StatusChange
	Tasks      []StatusChange
}

func (u StatusUpdate) Empty() bool {
	return len(u.Sites)+len(u.Telescopes)+len(u.Targets)+len(u.Tasks) == 0
}

// ParseStatus decodes a status document. Every entry must carry its id and a
// status; otherwise the whole document is rejected.
func ParseStatus(doc []byte) (StatusUpdate, error) {
	var raw struct {
		Sites      OneOrMany[siteStatus]      `json:"SITE-INFO"`
		Telescopes OneOrMany[telescopeStatus] `json:"TELESCOPE-INFO"`
		Targets    OneOrMany[targetStatus]    `json:"TARGET-INFO"`
		Tasks      OneOrMany[taskStatus]      `json:"TASK-INFO"`
		General    *GeneralInfo               `json:"GENERAL-INFO"`
	}
	if err := decodeStrict(doc, &raw); err != nil {
		return StatusUpdate{}, err
	}

	var (
		u   StatusUpdate
		err error
	)
	for _, s := range raw.Sites {
		if u.Sites, err = appendChange(u.Sites, KeySite, s.ID, s.Status, nil); err != nil {
			return StatusUpdate{}, err
		}
	}
	for _, s := range raw.Telescopes {
		if u.Telescopes, err = appendChange(u.Telescopes, KeyTelescope, s.ID, s.Status, nil); err != nil {
			return StatusUpdate{}, err
		}
	}
	for _, s := range raw.Targets {
		if u.Targets, err = appendChange(u.Targets, KeyTarget, s.ID, s.Status, s.Nside); err != nil {
			return StatusUpdate{}, err
		}
	}
	for _, s := range raw.Tasks {
		if u.Tasks, err = appendChange(u.Tasks, KeyTask, s.ID, s.Status, nil); err != nil {
			return StatusUpdate{}, err
		}
	}
	return u, nil
}

func appendChange(dst []StatusChange, section string, id *uint64, status *int, nside *int64) ([]StatusChange, error) {
	if id == nil || status == nil {
		return nil, fmt.Errorf("%w: %s entry needs id and status", ErrMalformed, section)
	}
	c := StatusChange{ID: *id, Status: *status}
	if nside != nil {
		c.Nside = *nside
	}
	return append(dst, c), nil
}
